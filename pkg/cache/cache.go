package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/metrics"
	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

var cacheLog = log.WithComponent("cache")

// ErrMiss is returned by lookups that find nothing for the given key.
var ErrMiss = errors.New("cache: miss")

// ResultCache fronts the results_cache and executed_notebook_cache tables.
type ResultCache struct {
	db *sql.DB
}

// New wraps an already-initialized Store for cache access.
func New(store *storage.Store) *ResultCache {
	return &ResultCache{db: store.DB()}
}

// Lookup checks whether outputPath has already been built for contentHash.
// A hit bumps the entry's access_count and last_accessed before returning.
func (c *ResultCache) Lookup(ctx context.Context, outputPath, contentHash string) (*types.ResultCacheEntry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, output_path, content_hash, result_metadata, created_at, last_accessed, access_count
		FROM results_cache WHERE output_path = ? AND content_hash = ?
	`, outputPath, contentHash)

	var e types.ResultCacheEntry
	var metadata sql.NullString
	err := row.Scan(&e.ID, &e.OutputPath, &e.ContentHash, &metadata, &e.CreatedAt, &e.LastAccessed, &e.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.CacheMissesTotal.WithLabelValues("results").Inc()
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: lookup: %w", err)
	}
	e.ResultMetadata = []byte(metadata.String)

	if _, err := c.db.ExecContext(ctx, `
		UPDATE results_cache SET access_count = access_count + 1, last_accessed = CURRENT_TIMESTAMP WHERE id = ?
	`, e.ID); err != nil {
		cacheLog.Warn().Err(err).Int64("entry_id", e.ID).Msg("failed to bump cache access count")
	} else {
		e.AccessCount++
	}

	metrics.CacheHitsTotal.WithLabelValues("results").Inc()
	return &e, nil
}

// Put records that outputPath has been built for contentHash, replacing
// any existing entry for the same key.
func (c *ResultCache) Put(ctx context.Context, outputPath, contentHash string, metadata []byte) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO results_cache (output_path, content_hash, result_metadata)
		VALUES (?, ?, ?)
		ON CONFLICT(output_path, content_hash) DO UPDATE SET
			result_metadata = excluded.result_metadata,
			last_accessed = CURRENT_TIMESTAMP
	`, outputPath, contentHash, string(metadata))
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// VerifyOnDisk reports whether outputPath still exists on disk, letting
// callers discard a stale cache hit rather than claim a missing file was
// built. A missing file (or any other stat failure) is logged as a
// warning, the entry is deleted, and false is returned.
func (c *ResultCache) VerifyOnDisk(ctx context.Context, entry *types.ResultCacheEntry) bool {
	_, err := os.Stat(entry.OutputPath)
	if err == nil {
		return true
	}
	if !errors.Is(err, os.ErrNotExist) {
		cacheLog.Warn().Err(err).Str("output_path", entry.OutputPath).Msg("unexpected stat error verifying cache entry")
	} else {
		cacheLog.Warn().Str("output_path", entry.OutputPath).Msg("cached artifact missing on disk, evicting cache entry")
	}
	if _, delErr := c.db.ExecContext(ctx, `
		DELETE FROM results_cache WHERE id = ?
	`, entry.ID); delErr != nil {
		cacheLog.Warn().Err(delErr).Int64("entry_id", entry.ID).Msg("failed to evict stale cache entry")
	}
	metrics.CacheStaleEvictionsTotal.WithLabelValues("results").Inc()
	return false
}

// LookupExecutedNotebook returns a previously executed notebook for the
// given (input, content hash, language, programming language) key.
func (c *ResultCache) LookupExecutedNotebook(ctx context.Context, inputPath, contentHash, language, progLang string) (*types.ExecutedNotebookEntry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT input_path, content_hash, language, prog_lang, notebook_raw, created_at
		FROM executed_notebook_cache
		WHERE input_path = ? AND content_hash = ? AND language = ? AND prog_lang = ?
	`, inputPath, contentHash, language, progLang)

	var e types.ExecutedNotebookEntry
	err := row.Scan(&e.InputPath, &e.ContentHash, &e.Language, &e.ProgLang, &e.NotebookRaw, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.CacheMissesTotal.WithLabelValues("executed_notebook").Inc()
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: lookup executed notebook: %w", err)
	}

	metrics.CacheHitsTotal.WithLabelValues("executed_notebook").Inc()
	return &e, nil
}

// PutExecutedNotebook records an executed notebook, replacing any prior
// entry for the same key (INSERT OR REPLACE semantics, unlike Put which
// updates the existing row in place and keeps its created_at and
// access_count: a re-execution fully supersedes the old notebook state).
func (c *ResultCache) PutExecutedNotebook(ctx context.Context, e types.ExecutedNotebookEntry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executed_notebook_cache
			(input_path, content_hash, language, prog_lang, notebook_raw, created_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, e.InputPath, e.ContentHash, e.Language, e.ProgLang, e.NotebookRaw)
	if err != nil {
		return fmt.Errorf("cache: put executed notebook: %w", err)
	}
	return nil
}

// PruneUnused deletes result cache entries whose access_count is still
// zero, i.e. entries no lookup has ever hit; used by "db clean" to shed
// cold entries without wiping the whole cache.
func (c *ResultCache) PruneUnused(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM results_cache WHERE access_count = 0")
	if err != nil {
		return 0, fmt.Errorf("cache: prune unused: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneKeepingVersions deletes every results_cache row beyond the keepN
// most recently created per output_path, and every executed_notebook_cache
// row beyond the keepN most recently created per (input_path, language,
// prog_lang) — the notebook cache's analogous "version" grouping, since a
// notebook can accumulate one entry per content hash it was ever executed
// under. Used by "db prune --cache-versions".
func (c *ResultCache) PruneKeepingVersions(ctx context.Context, keepN int) (resultsPruned, notebooksPruned int64, err error) {
	if keepN < 0 {
		keepN = 0
	}

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM results_cache
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY output_path ORDER BY created_at DESC, id DESC
				) AS rn
				FROM results_cache
			) WHERE rn > ?
		)
	`, keepN)
	if err != nil {
		return 0, 0, fmt.Errorf("cache: prune results keeping versions: %w", err)
	}
	resultsPruned, _ = res.RowsAffected()

	res, err = c.db.ExecContext(ctx, `
		DELETE FROM executed_notebook_cache
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY input_path, language, prog_lang ORDER BY created_at DESC, id DESC
				) AS rn
				FROM executed_notebook_cache
			) WHERE rn > ?
		)
	`, keepN)
	if err != nil {
		return resultsPruned, 0, fmt.Errorf("cache: prune executed notebooks keeping versions: %w", err)
	}
	notebooksPruned, _ = res.RowsAffected()

	return resultsPruned, notebooksPruned, nil
}
