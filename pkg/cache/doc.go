/*
Package cache implements the two result caches the build engine consults
before enqueuing work: the finished-artifact cache (results_cache, keyed by
output path and content hash) and the executed-notebook intermediate cache
(executed_notebook_cache, keyed additionally by language and programming
language).

Both caches are advisory: a hit only means the database believes the
artifact exists, never a guarantee. Callers that treat a cache entry as
authoritative without checking the filesystem will eventually serve a
result for a file a user deleted by hand; VerifyOnDisk exists so they
don't have to get this right themselves.
*/
package cache
