// Package hooks runs optional executable scripts around the optimization run.
package hooks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Phase identifies when a hook runs.
type Phase string

const (
	// PhasePreRun hooks run before any repository is processed.
	PhasePreRun Phase = "pre_run"

	// PhasePostRun hooks run after all repositories are processed,
	// regardless of outcome.
	PhasePostRun Phase = "post_run"
)

// Runner executes hook scripts found by path. A missing script is not an
// error; it is skipped with a log line.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a hook runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes each script in order. The first failing script aborts the
// remaining hooks for this phase and returns the error; missing scripts are
// skipped.
func (r *Runner) Run(ctx context.Context, phase Phase, scripts []string) error {
	for _, script := range scripts {
		if _, err := os.Stat(script); os.IsNotExist(err) {
			r.logger.Info("hook script not found, skipping",
				zap.String("phase", string(phase)),
				zap.String("script", script))
			continue
		}

		r.logger.Info("running hook",
			zap.String("phase", string(phase)),
			zap.String("script", script))

		cmd := exec.CommandContext(ctx, script)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("hook %s (%s) failed: %w: %s",
				script, phase, err, strings.TrimSpace(string(output)))
		}
		if out := strings.TrimSpace(string(output)); out != "" {
			r.logger.Debug("hook output",
				zap.String("script", script),
				zap.String("output", out))
		}
	}
	return nil
}
