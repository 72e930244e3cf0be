/*
Package storage owns the single SQLite database file the build engine
coordinates through: connection policy, journal mode, and the
schema_version-driven migration routine. It does not know about jobs,
workers, or the result cache — those live in pkg/queue and pkg/cache,
which query through the *sql.DB handle a Store's DB method returns.

The database uses the rollback journal (not WAL): the file must be
mountable by container workers on hosts where shared-memory coordination
across an OS boundary (Docker Desktop on Windows, bind mounts into a VM)
is unreliable, and rollback-journal mode has no such requirement.

Migrations are embedded SQL files under migrations/, applied in order by
golang-migrate against a schema_version table it manages. Migrations
that are already recorded there are skipped, so init is idempotent and
safe to call from every process that opens the database. Most migrations
only add tables and columns; 0004 rebuilds the jobs table, copying its
rows across, to add the cancelled status and its cancelled_at and
cancelled_by columns.
*/
package storage
