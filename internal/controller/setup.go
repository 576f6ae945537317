package controller

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/polish/internal/repo"
)

// setupEnvironment installs per-path dependencies after clone so the
// optimizer tools run against a complete environment. For each
// paths_to_optimize entry the configured requirements file is looked up
// under that path; when present, the setup command is invoked with the file
// appended as its final argument. A failing install aborts the repository.
func (c *Controller) setupEnvironment(ctx context.Context, h *repo.Handle, log *zap.Logger) error {
	sc := c.cfg.Setup
	if sc.Disable || sc.Command == "" {
		return nil
	}

	for _, entry := range h.Spec.PathsToOptimize {
		req := filepath.Join(h.Dir, entry, sc.RequirementsFile)
		if _, err := os.Stat(req); err != nil {
			continue
		}

		log.Info("installing requirements",
			zap.String("command", sc.Command),
			zap.String("requirements", req),
		)

		args := append(append([]string{}, sc.Args...), req)
		cmd := exec.CommandContext(ctx, sc.Command, args...)
		cmd.Dir = h.Dir
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("installing requirements %s: %w: %s",
				req, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
