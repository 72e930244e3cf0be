package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuemby/clm/pkg/builddriver"
	"github.com/cuemby/clm/pkg/cache"
	"github.com/cuemby/clm/pkg/config"
	"github.com/cuemby/clm/pkg/correlation"
	"github.com/cuemby/clm/pkg/coursemodel"
	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/metrics"
	"github.com/cuemby/clm/pkg/planner"
	"github.com/cuemby/clm/pkg/progress"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/runtime"
	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
	"github.com/cuemby/clm/pkg/watcher"
	"github.com/cuemby/clm/pkg/workerapi"
	"github.com/cuemby/clm/pkg/workerexec"
)

var buildCmd = &cobra.Command{
	Use:   "build <spec>",
	Short: "Plan and run every job a course specification requires",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().String("data-dir", "", "Working directory for source files (defaults to the spec's directory)")
	buildCmd.Flags().String("output-dir", "", "Root directory output targets are written under")
	buildCmd.Flags().Bool("watch", false, "Keep running and rebuild changed files")
	buildCmd.Flags().Bool("ignore-db", false, "Use a fresh, temporary jobs database instead of the configured one")
	buildCmd.Flags().String("jobs-db-path", "", "Path to the jobs database")
}

func runBuild(cmd *cobra.Command, args []string) error {
	specPath := args[0]

	cfg, err := config.Load(getString(cmd, "config"), func(v *viper.Viper) {
		_ = v.BindPFlag("jobs_db_path", cmd.Flags().Lookup("jobs-db-path"))
	})
	if err != nil {
		return fmt.Errorf("clm build: %w", err)
	}
	if dataDir := getString(cmd, "data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	} else {
		cfg.DataDir = filepath.Dir(specPath)
	}
	if outputDir := getString(cmd, "output-dir"); outputDir != "" {
		cfg.OutputDir = outputDir
	}

	dbPath := cfg.JobsDBPath
	if getBool(cmd, "ignore-db") {
		tmp, err := os.CreateTemp("", "clm-jobs-*.db")
		if err != nil {
			return fmt.Errorf("clm build: create temp jobs db: %w", err)
		}
		tmp.Close()
		dbPath = tmp.Name()
		defer os.Remove(dbPath)
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("clm build: %w", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("clm build: %w", err)
	}
	metrics.RegisterComponent("storage", true, "")

	course, targets, err := coursemodel.Load(specPath)
	if err != nil {
		return fmt.Errorf("clm build: %w", err)
	}
	for i := range targets {
		if cfg.OutputDir != "" {
			targets[i].OutputRoot = filepath.Join(cfg.OutputDir, targets[i].OutputRoot)
		}
	}
	course.OutputTargets = targets

	q := queue.New(store)
	workers := lifecycle.NewWorkerStore(store)
	resultCache := cache.New(store)

	executors, err := buildExecutors(cfg, dbPath)
	if err != nil {
		return fmt.Errorf("clm build: %w", err)
	}
	checkTools(cfg)

	sessionID := fmt.Sprintf("build-%d", os.Getpid())
	manager := lifecycle.NewManager(workers, q, sessionID, executors)
	configs := cfg.WorkerKindConfigs()
	if err := manager.Reconcile(ctx, configs); err != nil {
		return fmt.Errorf("clm build: %w", err)
	}
	defer manager.Shutdown(ctx, configs, executors)

	var apiServer *workerapi.Server
	if cfg.UseWorkerAPI {
		apiServer = workerapi.New(q, workers, resultCache)
		if err := apiServer.Start(cfg.WorkerAPIAddr); err != nil {
			return fmt.Errorf("clm build: start worker api: %w", err)
		}
		defer apiServer.Shutdown(ctx)
	}

	broker := progress.NewBroker()
	broker.Start()
	defer broker.Stop()

	formatter := builddriver.NewDefaultFormatter(os.Stdout)
	relayDone := make(chan struct{})
	sub := broker.Subscribe()
	go builddriver.Relay(sub, formatter, relayDone)
	defer close(relayDone)

	driver := builddriver.New(q, broker, cfg.MaxWaitForCompletion)
	registry := correlation.NewRegistry(cfg.StaleCIDMaxLifetime)

	cid := registry.New()
	plan, err := planner.Plan(course, course.OutputTargets, planner.ReadFile, cid)
	if err != nil {
		registry.Remove(cid)
		return fmt.Errorf("clm build: %w", err)
	}

	result, err := driver.Run(ctx, plan)
	registry.Remove(cid)
	if err != nil {
		return fmt.Errorf("clm build: %w", err)
	}
	reportResult(result)

	if getBool(cmd, "watch") {
		return runWatch(ctx, cfg, course, q, driver, registry)
	}

	if result.Failed > 0 || result.TimedOut {
		os.Exit(1)
	}
	return nil
}

func buildExecutors(cfg config.Config, dbPath string) (map[types.ExecutionMode]lifecycle.Executor, error) {
	binaryPath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	workerBinary := filepath.Join(filepath.Dir(binaryPath), "clm-worker")

	executors := map[types.ExecutionMode]lifecycle.Executor{
		types.ExecutionModeDirect: workerexec.NewDirect(workerBinary, dbPath, cfg.DataDir, cfg.LogLevel),
	}

	usesDocker := false
	for _, wc := range cfg.Workers {
		if wc.ExecutionMode == string(types.ExecutionModeDocker) {
			usesDocker = true
		}
	}
	if usesDocker {
		rt, err := runtime.NewContainerdRuntime("")
		if err != nil {
			return nil, fmt.Errorf("start containerd runtime: %w", err)
		}
		executors[types.ExecutionModeDocker] = workerexec.NewContainer(rt, dbPath, cfg.DataDir)
	}

	return executors, nil
}

func reportResult(result builddriver.Result) {
	fmt.Printf("build: %d jobs, %d completed, %d failed, %d cancelled\n",
		result.Total, result.Completed, result.Failed, result.Cancelled)
	for _, f := range result.FailedJobs {
		fmt.Printf("  FAILED %s: %s\n", f.Input, f.Error.Message)
	}
	if result.TimedOut {
		fmt.Println("build: timed out waiting for a stage to complete")
	}
}

// changeHandler re-plans and runs the single changed file's jobs, used
// by watch mode to avoid re-running the entire course on every save.
type changeHandler struct {
	course   *coursemodel.Course
	targets  []types.OutputTarget
	driver   *builddriver.Driver
	queue    *queue.Queue
	registry *correlation.Registry
}

func (h *changeHandler) HandleChange(ctx context.Context, path string) error {
	var match *coursemodel.File
	for _, f := range h.course.Files() {
		f := f
		if filepath.Clean(f.SourcePath) == filepath.Clean(path) || strings.HasSuffix(filepath.Clean(path), filepath.Clean(f.SourcePath)) {
			match = &f
			break
		}
	}
	if match == nil {
		return nil
	}

	if _, err := h.queue.CancelForInput(ctx, path, "watch"); err != nil {
		return err
	}

	mini := &coursemodel.Course{
		Name:          h.course.Name,
		OutputTargets: h.targets,
		Sections: []coursemodel.Section{{
			Topics: []coursemodel.Topic{{Files: []coursemodel.File{*match}}},
		}},
	}
	cid := h.registry.New()
	plan, err := planner.Plan(mini, h.targets, planner.ReadFile, cid)
	if err != nil {
		h.registry.Remove(cid)
		return err
	}
	result, err := h.driver.Run(ctx, plan)
	h.registry.Remove(cid)
	if err != nil {
		return err
	}
	reportResult(result)
	return nil
}

func runWatch(ctx context.Context, cfg config.Config, course *coursemodel.Course, q *queue.Queue, driver *builddriver.Driver, registry *correlation.Registry) error {
	handler := &changeHandler{course: course, targets: course.OutputTargets, driver: driver, queue: q, registry: registry}
	w, err := watcher.New(cfg.DataDir, handler, cfg.DebounceDelay)
	if err != nil {
		return fmt.Errorf("clm build: watch: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("clm build: watch: %w", err)
	}
	defer w.Stop()

	fmt.Printf("watching %s for changes, press Ctrl-C to stop\n", cfg.DataDir)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	return nil
}
