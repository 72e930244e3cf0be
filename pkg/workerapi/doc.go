/*
Package workerapi exposes job queue and worker lifecycle operations over
HTTP for container-backed workers that cannot touch the SQLite file
directly. It is a thin REST wrapper: every handler delegates to
pkg/queue, pkg/lifecycle, or pkg/cache and translates their errors into
status codes, never duplicating their logic.
*/
package workerapi
