package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/types"
)

// WorkerConfig is the worker_config block for one job kind, as loaded
// from the config file's `workers.<kind>` section.
type WorkerConfig struct {
	Count         int               `mapstructure:"count"`
	ExecutionMode string            `mapstructure:"execution_mode"`
	Image         string            `mapstructure:"image"`
	Env           map[string]string `mapstructure:"env"`
	MemoryLimit   string            `mapstructure:"memory_limit"`
	AutoStart     bool              `mapstructure:"auto_start"`
	AutoStop      bool              `mapstructure:"auto_stop"`
	ReuseWorkers  bool              `mapstructure:"reuse_workers"`
}

// Config is the fully resolved runtime configuration for one build
// session.
type Config struct {
	DataDir              string
	OutputDir            string
	JobsDBPath           string
	LogLevel             string
	LogJSON              bool
	PollInterval         time.Duration
	ShutdownTimeout      time.Duration
	StaleCIDMaxLifetime  time.Duration
	DebounceDelay        time.Duration
	MaxWaitForCompletion time.Duration
	UseWorkerAPI         bool
	WorkerAPIAddr        string

	Workers map[types.JobKind]WorkerConfig
}

// Defaults returns the built-in defaults used when neither a flag, an
// environment variable, nor a config file sets a value.
func Defaults() Config {
	return Config{
		JobsDBPath:            "jobs.db",
		LogLevel:              "info",
		PollInterval:          1 * time.Second,
		ShutdownTimeout:       30 * time.Second,
		StaleCIDMaxLifetime:   1200 * time.Second,
		DebounceDelay:         300 * time.Millisecond,
		MaxWaitForCompletion:  1200 * time.Second,
		WorkerAPIAddr:         "127.0.0.1:8420",
		Workers: map[types.JobKind]WorkerConfig{
			types.JobKindNotebook: {Count: 2, ExecutionMode: "direct", AutoStart: true, AutoStop: true, ReuseWorkers: true},
			types.JobKindPlantUML: {Count: 1, ExecutionMode: "direct", AutoStart: true, AutoStop: true, ReuseWorkers: true},
			types.JobKindDrawIO:   {Count: 1, ExecutionMode: "direct", AutoStart: true, AutoStop: true, ReuseWorkers: true},
		},
	}
}

// Load builds a viper instance layering, highest precedence first:
// explicit flags bound by the caller, environment variables prefixed
// CLM_, the config file at configPath (or ~/.clm/config.yaml if
// configPath is empty and that file exists), and Defaults().
func Load(configPath string, bindFlags func(v *viper.Viper)) (Config, error) {
	v := viper.New()
	applyDefaults(v, Defaults())

	v.SetEnvPrefix("CLM")
	v.AutomaticEnv()

	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configPath = filepath.Join(home, ".clm", "config.yaml")
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
				}
			}
		}
	}

	if bindFlags != nil {
		bindFlags(v)
	}

	cfg := Defaults()
	cfg.DataDir = v.GetString("data_dir")
	cfg.OutputDir = v.GetString("output_dir")
	cfg.JobsDBPath = v.GetString("jobs_db_path")
	cfg.LogLevel = v.GetString("log_level")
	cfg.LogJSON = v.GetBool("log_json")
	cfg.PollInterval = v.GetDuration("poll_interval")
	cfg.ShutdownTimeout = v.GetDuration("shutdown_timeout")
	cfg.StaleCIDMaxLifetime = v.GetDuration("stale_cid_max_lifetime")
	cfg.DebounceDelay = v.GetDuration("debounce_delay")
	cfg.MaxWaitForCompletion = v.GetDuration("max_wait_for_completion")
	cfg.UseWorkerAPI = v.GetBool("use_worker_api")
	cfg.WorkerAPIAddr = v.GetString("worker_api_addr")

	var workers map[types.JobKind]WorkerConfig
	if v.IsSet("workers") {
		raw := make(map[string]WorkerConfig)
		if err := v.UnmarshalKey("workers", &raw); err != nil {
			return Config{}, fmt.Errorf("config: parse workers block: %w", err)
		}
		workers = make(map[types.JobKind]WorkerConfig, len(raw))
		for k, wc := range raw {
			workers[types.JobKind(k)] = wc
		}
	}
	if len(workers) > 0 {
		cfg.Workers = workers
	}

	for kind, wc := range cfg.Workers {
		if wc.ExecutionMode == string(types.ExecutionModeDocker) && wc.Image == "" {
			return Config{}, fmt.Errorf("config: workers.%s: image is required when execution_mode is docker", kind)
		}
	}

	return cfg, nil
}

func applyDefaults(v *viper.Viper, d Config) {
	v.SetDefault("jobs_db_path", d.JobsDBPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("stale_cid_max_lifetime", d.StaleCIDMaxLifetime)
	v.SetDefault("debounce_delay", d.DebounceDelay)
	v.SetDefault("max_wait_for_completion", d.MaxWaitForCompletion)
	v.SetDefault("worker_api_addr", d.WorkerAPIAddr)
}

// WorkerKindConfigs converts the config file's worker settings into the
// shape lifecycle.Manager.Reconcile consumes.
func (c Config) WorkerKindConfigs() []lifecycle.WorkerKindConfig {
	out := make([]lifecycle.WorkerKindConfig, 0, len(c.Workers))
	for kind, wc := range c.Workers {
		out = append(out, lifecycle.WorkerKindConfig{
			Kind:          kind,
			Count:         wc.Count,
			ExecutionMode: types.ExecutionMode(wc.ExecutionMode),
			Image:         wc.Image,
			Env:           wc.Env,
			MemoryLimit:   wc.MemoryLimit,
			AutoStart:     wc.AutoStart,
			AutoStop:      wc.AutoStop,
			ReuseWorkers:  wc.ReuseWorkers,
		})
	}
	return out
}
