/*
Package queue implements the durable job queue: Enqueue, Claim and
UpdateStatus against the jobs table owned by pkg/storage.

Claim uses a single UPDATE ... RETURNING statement per attempt so that two
workers racing for the same row never both win it. A claim attempt that
fails with SQLITE_BUSY is retried up to five times, sleeping 20ms longer
before each retry; after that the error is returned to the caller.
*/
package queue
