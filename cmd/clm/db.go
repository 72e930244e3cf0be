package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/clm/pkg/cache"
	"github.com/cuemby/clm/pkg/config"
	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/storage"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and maintain the jobs and cache database",
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print row counts for every table",
	RunE:  runDBStats,
}

var dbPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old terminal jobs, worker events and cache entries",
	RunE:  runDBPrune,
}

var dbVacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Reclaim free space by copying the database into a fresh file",
	RunE:  runDBVacuum,
}

var dbCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete result cache entries that have never been reused",
	RunE:  runDBClean,
}

var deleteDatabaseCmd = &cobra.Command{
	Use:   "delete-database",
	Short: "Delete the jobs database file entirely",
	RunE:  runDeleteDatabase,
}

// defaultCacheVersionsToKeep and defaultCancelledJobsRetention are not
// surfaced as config-file settings (no caller overrides them yet); cancelled
// jobs are pruned on a fixed, shorter window than completed/failed ones
// since a superseded watch-mode job carries no diagnostic value once
// cancelled.
const (
	defaultCacheVersionsToKeep    = 3
	defaultCancelledJobsRetention = 3 * 24 * time.Hour
)

func init() {
	dbPruneCmd.Flags().Duration("completed-days", 7*24*time.Hour, "Age threshold for completed jobs")
	dbPruneCmd.Flags().Duration("failed-days", 7*24*time.Hour, "Age threshold for failed jobs")
	dbPruneCmd.Flags().Duration("events-days", 7*24*time.Hour, "Age threshold for worker events and dead worker rows")
	dbPruneCmd.Flags().Int("cache-versions", defaultCacheVersionsToKeep, "Number of cache versions to keep per output path")
	dbPruneCmd.Flags().Bool("dry-run", false, "Exit without deleting anything (no counts are reported)")

	dbVacuumCmd.Flags().String("which", "both", "Which database to vacuum: jobs, cache, or both (single file, so both is equivalent to jobs)")

	dbCleanCmd.Flags().Bool("force", false, "Skip the confirmation prompt")

	deleteDatabaseCmd.Flags().String("which", "jobs", "Which database file to delete")

	dbCmd.AddCommand(dbStatsCmd)
	dbCmd.AddCommand(dbPruneCmd)
	dbCmd.AddCommand(dbVacuumCmd)
	dbCmd.AddCommand(dbCleanCmd)
}

func openStore(cmd *cobra.Command) (*storage.Store, error) {
	cfg, err := config.Load(getString(cmd, "config"), nil)
	if err != nil {
		return nil, err
	}
	dbPath := cfg.JobsDBPath
	if v := getString(cmd, "jobs-db-path"); v != "" {
		dbPath = v
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func runDBStats(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("clm db stats: %w", err)
	}
	defer store.Close()

	stats, err := store.CollectStats(context.Background())
	if err != nil {
		return fmt.Errorf("clm db stats: %w", err)
	}

	fmt.Printf("jobs:                    %d\n", stats.Jobs)
	fmt.Printf("results_cache:           %d\n", stats.ResultsCache)
	fmt.Printf("executed_notebook_cache: %d\n", stats.ExecutedNotebookCache)
	fmt.Printf("workers:                 %d\n", stats.Workers)
	fmt.Printf("worker_events:           %d\n", stats.WorkerEvents)
	return nil
}

func runDBPrune(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("clm db prune: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	q := queue.New(store)
	workers := lifecycle.NewWorkerStore(store)
	resultCache := cache.New(store)

	completedAge := getDuration(cmd, "completed-days")
	failedAge := getDuration(cmd, "failed-days")
	eventsAge := getDuration(cmd, "events-days")
	cacheVersions, _ := cmd.Flags().GetInt("cache-versions")
	dryRun := getBool(cmd, "dry-run")

	if dryRun {
		fmt.Println("dry run: no rows will be deleted")
		return nil
	}

	jobsPruned, err := q.Prune(ctx, completedAge, failedAge, defaultCancelledJobsRetention)
	if err != nil {
		return fmt.Errorf("clm db prune: %w", err)
	}
	eventsPruned, err := workers.PruneEvents(ctx, eventsAge)
	if err != nil {
		return fmt.Errorf("clm db prune: %w", err)
	}
	deadPruned, err := workers.PruneDead(ctx, eventsAge)
	if err != nil {
		return fmt.Errorf("clm db prune: %w", err)
	}
	resultsPruned, notebooksPruned, err := resultCache.PruneKeepingVersions(ctx, cacheVersions)
	if err != nil {
		return fmt.Errorf("clm db prune: %w", err)
	}

	fmt.Printf("pruned %d job(s), %d worker event(s), %d dead worker(s), %d cache result(s), %d cached notebook(s)\n",
		jobsPruned, eventsPruned, deadPruned, resultsPruned, notebooksPruned)
	return nil
}

func runDBVacuum(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("clm db vacuum: %w", err)
	}
	defer store.Close()

	destPath := store.Path() + ".vacuum"
	if err := store.VacuumInto(context.Background(), destPath); err != nil {
		return fmt.Errorf("clm db vacuum: %w", err)
	}
	store.Close()

	if err := os.Rename(destPath, store.Path()); err != nil {
		return fmt.Errorf("clm db vacuum: replace database: %w", err)
	}
	fmt.Println("vacuum complete")
	return nil
}

func runDBClean(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("clm db clean: %w", err)
	}
	defer store.Close()

	if !getBool(cmd, "force") {
		fmt.Print("delete every cache entry never reused? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("aborted")
			return nil
		}
	}

	n, err := cache.New(store).PruneUnused(context.Background())
	if err != nil {
		return fmt.Errorf("clm db clean: %w", err)
	}
	fmt.Printf("removed %d unused cache entr(y/ies)\n", n)
	return nil
}

func runDeleteDatabase(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(getString(cmd, "config"), nil)
	if err != nil {
		return fmt.Errorf("clm delete-database: %w", err)
	}
	dbPath := cfg.JobsDBPath
	if v := getString(cmd, "jobs-db-path"); v != "" {
		dbPath = v
	}
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clm delete-database: %w", err)
	}
	fmt.Printf("deleted %s\n", dbPath)
	return nil
}

func getDuration(cmd *cobra.Command, name string) time.Duration {
	v, _ := cmd.Flags().GetDuration(name)
	return v
}
