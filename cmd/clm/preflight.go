package main

import (
	"context"
	"os"

	"github.com/cuemby/clm/pkg/config"
	"github.com/cuemby/clm/pkg/health"
	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/types"
)

var preflightLog = log.WithComponent("preflight")

// toolCheck names the external binary one job kind shells out to, along
// with the argument that makes it print something and exit 0 without
// doing real work.
type toolCheck struct {
	kind    types.JobKind
	command []string
}

// checkTools runs an exec health check against every external tool a
// configured, direct-mode worker kind needs, logging a warning for each
// one missing rather than failing the build: a course might not use
// every kind, and the worker itself reports the same failure per job if
// the tool really is absent.
func checkTools(cfg config.Config) {
	checks := []toolCheck{
		{kind: types.JobKindNotebook, command: []string{envOrDefault("NOTEBOOK_COMMAND", "jupyter"), "--version"}},
		{kind: types.JobKindPlantUML, command: []string{"java", "-version"}},
		{kind: types.JobKindDrawIO, command: []string{envOrDefault("DRAWIO_EXECUTABLE", "drawio"), "--version"}},
	}

	ctx := context.Background()
	for _, c := range checks {
		wc, ok := cfg.Workers[c.kind]
		if !ok || wc.ExecutionMode != "direct" {
			continue
		}
		checker := health.NewExecChecker(c.command)
		result := checker.Check(ctx)
		if !result.Healthy {
			preflightLog.Warn().Str("kind", string(c.kind)).Str("tool", c.command[0]).Str("reason", result.Message).
				Msg("tool unavailable, jobs of this kind will fail until it is installed")
		}
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
