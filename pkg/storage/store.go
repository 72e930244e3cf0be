package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cuemby/clm/pkg/log"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var storeLog = log.WithComponent("storage")

// BusyTimeout bounds how long a writer waits on SQLITE_BUSY before giving
// up; it is large enough to ride out a concurrent worker's write but small
// enough to surface a genuinely stuck lock.
const BusyTimeout = 30 * time.Second

// Store owns one *sql.DB handle against the database file shared by every
// clm process. It knows connection policy and schema migration only; job,
// worker and cache semantics live in the packages that query through it.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the SQLite database at path with the
// journal mode and pragmas the build engine depends on. It does not run
// migrations; call Init for that.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=DELETE&_foreign_keys=on&_busy_timeout=%d", path, BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	// A single writer connection avoids SQLITE_BUSY storms under the
	// rollback journal; readers that need concurrency open their own Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// DB returns the underlying handle for packages that own their own queries
// against the shared schema (pkg/queue, pkg/cache).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the filesystem path this Store was opened against.
func (s *Store) Path() string {
	return s.path
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init applies every pending migration in order. It is idempotent: calling
// it against an already-current database is a no-op, so every process that
// opens the database may call it on startup without coordination.
func (s *Store) Init(ctx context.Context) error {
	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: load migration source: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{MigrationsTable: "schema_version"})
	if err != nil {
		return fmt.Errorf("storage: init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "clm", dbDriver)
	if err != nil {
		return fmt.Errorf("storage: init migrator: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("storage: read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("storage: schema at version %d is dirty, needs manual repair", version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: apply migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("storage: read schema version after migrate: %w", err)
	}
	if newVersion != version {
		storeLog.Info().Uint("from", version).Uint("to", newVersion).Msg("schema migrated")
	}

	return nil
}

// VacuumInto copies the database into a fresh file with no free pages,
// used by "db vacuum" to reclaim space after heavy churn on the caches.
func (s *Store) VacuumInto(ctx context.Context, destPath string) error {
	_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath)
	return err
}

// Stats reports the row counts of the job, cache and worker tables, used by
// "db stats" to give the operator a sense of where space is going.
type Stats struct {
	Jobs                  int64
	ResultsCache          int64
	ExecutedNotebookCache int64
	Workers               int64
	WorkerEvents          int64
}

func (s *Store) CollectStats(ctx context.Context) (Stats, error) {
	var st Stats
	rows := []struct {
		table string
		dest  *int64
	}{
		{"jobs", &st.Jobs},
		{"results_cache", &st.ResultsCache},
		{"executed_notebook_cache", &st.ExecutedNotebookCache},
		{"workers", &st.Workers},
		{"worker_events", &st.WorkerEvents},
	}
	for _, r := range rows {
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", r.table)
		if err := s.db.QueryRowContext(ctx, query).Scan(r.dest); err != nil {
			return Stats{}, fmt.Errorf("storage: count %s: %w", r.table, err)
		}
	}
	return st, nil
}
