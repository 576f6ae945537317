// Package optimizer applies external code-transformation tools to files
// until a fixed point or an iteration cap is reached.
//
// Tools are external command-line collaborators (formatters rewrite the file
// in place, checkers pass or fail). The Tool interface keeps the fixed-point
// loop tool-agnostic: any adapter that can transform content plugs in.
package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fyrsmithlabs/polish/internal/config"
)

// ErrToolFailed marks tool invocation failures. Recoverable per
// ignore_failure; it never aborts processing of other files.
var ErrToolFailed = errors.New("tool invocation failed")

// Tool transforms file content. Apply returns the resulting content, whether
// it differs from the input, and any invocation error. Implementations must
// leave the file at path holding the input content when they fail.
type Tool interface {
	Name() string
	Apply(ctx context.Context, path string, content []byte) (out []byte, changed bool, err error)
}

// CommandTool runs an external command against a file. The file path is
// appended as the final argument.
type CommandTool struct {
	name    string
	command string
	args    []string
	check   bool
}

// NewCommandTool builds a tool adapter from configuration.
func NewCommandTool(cfg config.ToolConfig) *CommandTool {
	return &CommandTool{
		name:    cfg.Name,
		command: cfg.Command,
		args:    cfg.Args,
		check:   cfg.Check,
	}
}

// Tools builds the configured tool pipeline in declaration order.
func Tools(cfgs []config.ToolConfig) []Tool {
	tools := make([]Tool, 0, len(cfgs))
	for _, c := range cfgs {
		tools = append(tools, NewCommandTool(c))
	}
	return tools
}

// Name returns the configured tool name.
func (t *CommandTool) Name() string { return t.name }

// Apply writes content to path, invokes the command, and reads the result
// back. Check tools never replace content; their nonzero exit is the
// failure signal. On failure the input content is restored to disk so the
// last-good state survives.
func (t *CommandTool) Apply(ctx context.Context, path string, content []byte) ([]byte, bool, error) {
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, false, fmt.Errorf("writing %s before %s: %w", path, t.name, err)
	}

	args := append(append([]string{}, t.args...), path)
	cmd := exec.CommandContext(ctx, t.command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Restore last-good content; a formatter may have partially rewritten
		// the file before failing.
		if werr := os.WriteFile(path, content, 0o644); werr != nil {
			return nil, false, fmt.Errorf("restoring %s after failed %s: %w", path, t.name, werr)
		}
		return content, false, fmt.Errorf("%w: %s: %v: %s",
			ErrToolFailed, t.name, err, strings.TrimSpace(string(output)))
	}

	if t.check {
		return content, false, nil
	}

	out, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s after %s: %w", path, t.name, err)
	}
	return out, !bytes.Equal(out, content), nil
}
