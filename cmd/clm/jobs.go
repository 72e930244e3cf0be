package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/clm/pkg/config"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage queued jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE:  runJobsList,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel pending or processing jobs older than a threshold",
	RunE:  runJobsCancel,
}

func init() {
	jobsListCmd.Flags().String("status", "", "Filter by status (pending, processing, completed, failed, cancelled)")
	jobsListCmd.Flags().Int("limit", 50, "Maximum number of jobs to show")
	jobsListCmd.Flags().String("format", "table", "Output format: table or json")

	jobsCancelCmd.Flags().Duration("older-than", time.Hour, "Cancel jobs created before now minus this duration")
	jobsCancelCmd.Flags().String("type", "", "Restrict cancellation to one job kind")
	jobsCancelCmd.Flags().Bool("dry-run", false, "Report how many jobs would be cancelled without cancelling them")
	jobsCancelCmd.Flags().Bool("force", false, "Skip the confirmation prompt")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
}

func openJobsQueue(cmd *cobra.Command) (*storage.Store, *queue.Queue, error) {
	cfg, err := config.Load(getString(cmd, "config"), nil)
	if err != nil {
		return nil, nil, err
	}
	dbPath := cfg.JobsDBPath
	if v := getString(cmd, "jobs-db-path"); v != "" {
		dbPath = v
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(context.Background()); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, queue.New(store), nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	store, q, err := openJobsQueue(cmd)
	if err != nil {
		return fmt.Errorf("clm jobs list: %w", err)
	}
	defer store.Close()

	jobs, err := q.List(context.Background(), queue.ListParams{
		Status: types.JobStatus(getString(cmd, "status")),
		Limit:  getInt(cmd, "limit"),
	})
	if err != nil {
		return fmt.Errorf("clm jobs list: %w", err)
	}

	if getString(cmd, "format") == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tINPUT\tATTEMPTS\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\t%s\n",
			j.ID, j.Kind, j.Status, j.InputPath, j.Attempts, j.MaxAttempts, j.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	store, q, err := openJobsQueue(cmd)
	if err != nil {
		return fmt.Errorf("clm jobs cancel: %w", err)
	}
	defer store.Close()

	olderThan := cmd.Flag("older-than").Value.String()
	d, err := time.ParseDuration(olderThan)
	if err != nil {
		return fmt.Errorf("clm jobs cancel: invalid --older-than: %w", err)
	}
	kind := types.JobKind(getString(cmd, "type"))

	if getBool(cmd, "dry-run") {
		matches, err := q.List(context.Background(), queue.ListParams{Kind: kind})
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-d)
		count := 0
		for _, j := range matches {
			if (j.Status == types.JobStatusPending || j.Status == types.JobStatusProcessing) && j.CreatedAt.Before(cutoff) {
				count++
			}
		}
		fmt.Printf("would cancel %d job(s)\n", count)
		return nil
	}

	if !getBool(cmd, "force") {
		fmt.Printf("cancel jobs older than %s (type=%q)? [y/N] ", d, kind)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("aborted")
			return nil
		}
	}

	n, err := q.CancelBulk(context.Background(), d, kind)
	if err != nil {
		return fmt.Errorf("clm jobs cancel: %w", err)
	}
	fmt.Printf("cancelled %d job(s)\n", n)
	return nil
}
