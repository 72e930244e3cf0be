package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/clm/pkg/config"
	"github.com/cuemby/clm/pkg/health"
	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report queue and worker health, exiting non-zero when unhealthy",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Bool("workers", true, "Include worker status")
	statusCmd.Flags().Bool("jobs", true, "Include job status")
	statusCmd.Flags().String("format", "table", "Output format: table, json, or compact")
	statusCmd.Flags().Bool("no-color", false, "Disable ANSI color in table output")
	statusCmd.Flags().String("jobs-db-path", "", "Path to the jobs database")
}

type statusReport struct {
	Jobs         queue.StatusCounts `json:"jobs"`
	Workers      []types.Worker     `json:"workers"`
	Hung         int                `json:"hung_jobs"`
	Dead         int                `json:"dead_workers"`
	WorkerAPI    string             `json:"worker_api,omitempty"`
	WorkerAPIErr string             `json:"worker_api_error,omitempty"`
}

// probeWorkerAPI reports whether the worker API's HTTP health endpoint
// answers, used when clm is configured to run jobs through it rather
// than direct SQLite access.
func probeWorkerAPI(ctx context.Context, addr string) (ok bool, message string) {
	checker := health.NewHTTPChecker(fmt.Sprintf("http://%s/health", addr)).WithTimeout(3 * time.Second)
	result := checker.Check(ctx)
	return result.Healthy, result.Message
}

// exit codes: 0 healthy; 1 warning (worker API configured but unreachable,
// failed jobs with nothing pending or processing, or hung or dead workers
// present); 2 error (config, database or query failure).
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(getString(cmd, "config"), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clm status: %v\n", err)
		os.Exit(2)
	}
	dbPath := cfg.JobsDBPath
	if v := getString(cmd, "jobs-db-path"); v != "" {
		dbPath = v
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clm status: %v\n", err)
		os.Exit(2)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "clm status: %v\n", err)
		os.Exit(2)
	}

	q := queue.New(store)
	workers := lifecycle.NewWorkerStore(store)

	jobStats, err := q.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clm status: %v\n", err)
		os.Exit(2)
	}
	allWorkers, err := workers.All(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clm status: %v\n", err)
		os.Exit(2)
	}

	report := statusReport{Jobs: jobStats}
	if getBool(cmd, "workers") {
		report.Workers = allWorkers
	}
	for _, w := range allWorkers {
		if w.Status == types.WorkerStatusDead {
			report.Dead++
		}
		if w.Status == types.WorkerStatusHung {
			report.Hung++
		}
		if time.Since(w.LastHeartbeat) >= lifecycle.HeartbeatStaleAfter && w.Status != types.WorkerStatusDead {
			report.Hung++
		}
	}

	if cfg.UseWorkerAPI {
		healthy, message := probeWorkerAPI(ctx, cfg.WorkerAPIAddr)
		if healthy {
			report.WorkerAPI = "reachable"
		} else {
			report.WorkerAPI = "unreachable"
			report.WorkerAPIErr = message
		}
	}

	printStatus(cmd, report)

	if cfg.UseWorkerAPI && report.WorkerAPI == "unreachable" {
		fmt.Fprintf(os.Stderr, "clm status: worker api unreachable: %s\n", report.WorkerAPIErr)
		os.Exit(1)
	}
	if jobStats.Failed > 0 && jobStats.Pending == 0 && jobStats.Processing == 0 {
		os.Exit(1)
	}
	if report.Hung > 0 || report.Dead > 0 {
		os.Exit(1)
	}
	os.Exit(0)
	return nil
}

func printStatus(cmd *cobra.Command, report statusReport) {
	switch getString(cmd, "format") {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	case "compact":
		fmt.Printf("jobs pending=%d processing=%d completed=%d failed=%d hung=%d dead_workers=%d\n",
			report.Jobs.Pending, report.Jobs.Processing, report.Jobs.Completed, report.Jobs.Failed, report.Hung, report.Dead)
	default:
		fmt.Println("Jobs:")
		fmt.Printf("  pending:    %d\n", report.Jobs.Pending)
		fmt.Printf("  processing: %d\n", report.Jobs.Processing)
		fmt.Printf("  completed:  %d\n", report.Jobs.Completed)
		fmt.Printf("  failed:     %d\n", report.Jobs.Failed)
		fmt.Printf("  cancelled:  %d\n", report.Jobs.Cancelled)
		if getBool(cmd, "jobs") && (report.Hung > 0 || report.Dead > 0) {
			fmt.Printf("  hung:       %d\n", report.Hung)
		}
		if report.WorkerAPI != "" {
			fmt.Printf("Worker API: %s\n", report.WorkerAPI)
			if report.WorkerAPIErr != "" {
				fmt.Printf("  %s\n", report.WorkerAPIErr)
			}
		}
		if getBool(cmd, "workers") {
			fmt.Println("Workers:")
			for _, w := range report.Workers {
				fmt.Printf("  #%d %s %s (processed=%d failed=%d)\n", w.ID, w.Kind, w.Status, w.JobsProcessed, w.JobsFailed)
			}
		}
	}
}
