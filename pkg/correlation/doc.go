/*
Package correlation tracks the lifetime of one build or watch-triggered
request as it fans out into jobs across notebook, drawio and plantuml
workers, so progress output and logs can be grouped by a single id.

active holds correlation ids still in flight; history remembers ids that
have finished (or were abandoned) for a bounded time so a late worker
callback referencing a stale id can still be logged sensibly instead of
looking like a bug. history is a patrickmn/go-cache instance with its own
TTL and janitor goroutine; active is a plain mutex-guarded map because
entries there are removed explicitly by Remove, not by expiry.
*/
package correlation
