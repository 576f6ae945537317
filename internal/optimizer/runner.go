package optimizer

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/polish/internal/config"
)

// RunResult is the per-file outcome of an optimization attempt. It is
// consumed by the report builder and notification dispatcher and discarded
// at process end.
type RunResult struct {
	Repository        string
	Path              string
	IterationsApplied int
	Success           bool
	Changed           bool
	Diff              string
	Err               error
}

// Runner drives the configured tool pipeline over single files.
type Runner struct {
	tools  []Tool
	logger *zap.Logger
}

// NewRunner creates a runner for the given tool pipeline.
func NewRunner(tools []Tool, logger *zap.Logger) *Runner {
	return &Runner{tools: tools, logger: logger}
}

// Optimize applies the tool pipeline to the file at path, pass by pass, up
// to settings.MaxIterations passes.
//
// Each pass applies every tool in order. If the pass left the content
// unchanged the loop stops (fixed point); otherwise it continues to the next
// pass. Termination under oscillating tools is guaranteed by the iteration
// cap alone, never by content comparison: a tool pair that flips content
// between two states still stops at MaxIterations.
//
// A failing tool with IgnoreFailure set is logged and skipped, keeping the
// prior content; otherwise the file's processing aborts with a failure
// result and the last-good content stays on disk. Either way other files
// are unaffected.
func (r *Runner) Optimize(ctx context.Context, path string, settings config.OptimizationSettings) RunResult {
	result := RunResult{Path: path}

	original, err := os.ReadFile(path)
	if err != nil {
		result.Err = fmt.Errorf("reading %s: %w", path, err)
		return result
	}

	content := original
	for pass := 1; pass <= settings.MaxIterations; pass++ {
		result.IterationsApplied = pass

		passInput := content
		for _, tool := range r.tools {
			if err := ctx.Err(); err != nil {
				result.Err = err
				result.Changed = !bytes.Equal(content, original)
				result.Diff = diffText(original, content)
				return result
			}

			out, changed, err := tool.Apply(ctx, path, content)
			if err != nil {
				if settings.IgnoreFailure {
					r.logger.Warn("tool failed, continuing with prior content",
						zap.String("tool", tool.Name()),
						zap.String("path", path),
						zap.Int("pass", pass),
						zap.Error(err),
					)
					continue
				}
				result.Err = err
				result.Changed = !bytes.Equal(content, original)
				result.Diff = diffText(original, content)
				return result
			}
			if changed {
				content = out
			}
		}

		r.logger.Debug("optimization pass complete",
			zap.String("path", path),
			zap.Int("pass", pass),
			zap.Bool("modified", !bytes.Equal(content, passInput)),
		)

		if bytes.Equal(content, passInput) {
			break
		}
	}

	result.Success = true
	result.Changed = !bytes.Equal(content, original)
	if result.Changed {
		result.Diff = diffText(original, content)
	}
	return result
}

// diffText renders a patch-style textual diff between two contents.
func diffText(before, after []byte) string {
	if bytes.Equal(before, after) {
		return ""
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(string(before), string(after))
	return dmp.PatchToText(patches)
}
