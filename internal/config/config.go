// Package config provides configuration loading and resolution for polish.
//
// The configuration is a YAML document describing the repositories to
// optimize, the default optimization settings they inherit, and the run-level
// concerns (logging, notifications, retry, auth, hooks, reporting). Per-repo
// settings shadow defaults field by field; a per-repo notifications block
// replaces the global block entirely.
package config

import (
	"errors"
	"fmt"
)

// ErrInvalid marks configuration errors. The run aborts before any
// repository processing when Validate wraps this sentinel.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration tree.
type Config struct {
	Repositories    []RepositorySpec     `koanf:"repositories"`
	DefaultSettings OptimizationSettings `koanf:"default_settings"`
	Optimizers      []ToolConfig         `koanf:"optimizers"`
	Setup           SetupConfig          `koanf:"setup"`
	Logging         LoggingConfig        `koanf:"logging"`
	Notifications   NotificationConfig   `koanf:"notifications"`
	Retry           RetryConfig          `koanf:"retry"`
	Auth            AuthConfig           `koanf:"auth"`
	Advanced        AdvancedConfig       `koanf:"advanced"`
	Reporting       ReportingConfig      `koanf:"reporting"`
}

// RepositorySpec describes one repository and its overrides.
type RepositorySpec struct {
	Name            string                `koanf:"name"`
	URL             string                `koanf:"url"`
	Branch          string                `koanf:"branch"`
	Optimization    OptimizationOverride  `koanf:"optimization"`
	PathsToOptimize []string              `koanf:"paths_to_optimize"`
	// ExcludedFiles is kept untyped: real-world configs contain malformed
	// entries (nested lists) that must degrade to "no exclusion", not abort
	// the run. Exclusions() normalizes.
	ExcludedFiles []interface{}       `koanf:"excluded_files"`
	Notifications *NotificationConfig `koanf:"notifications"`
}

// Exclusions returns the normalized exclusion patterns for the repository.
// Non-string entries are dropped; dropped reports how many were discarded so
// the caller can log them.
func (r *RepositorySpec) Exclusions() (patterns []string, dropped int) {
	for _, e := range r.ExcludedFiles {
		s, ok := e.(string)
		if !ok || s == "" {
			dropped++
			continue
		}
		patterns = append(patterns, s)
	}
	return patterns, dropped
}

// OptimizationSettings are the fully-resolved settings for one repository.
// Resolved once per repository at run start; immutable thereafter.
type OptimizationSettings struct {
	EnableOptimizers bool   `koanf:"enable_optimizers"`
	MaxIterations    int    `koanf:"max_iterations"`
	IgnoreFailure    bool   `koanf:"ignore_failure"`
	FilePattern      string `koanf:"file_pattern"`
}

// OptimizationOverride is a repository-level partial override. Nil fields
// fall back to DefaultSettings.
type OptimizationOverride struct {
	EnableOptimizers *bool   `koanf:"enable_optimizers"`
	MaxIterations    *int    `koanf:"max_iterations"`
	IgnoreFailure    *bool   `koanf:"ignore_failure"`
	FilePattern      *string `koanf:"file_pattern"`
}

// ToolConfig describes one external transformation tool in the pipeline.
type ToolConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	// Check marks tools that validate without rewriting (linters). A check
	// tool's nonzero exit is a tool failure; its output never replaces content.
	Check bool `koanf:"check"`
}

// SetupConfig describes the environment setup step run after a repository is
// cloned. Every paths_to_optimize entry that carries a requirements file gets
// one invocation of the command with that file appended as the final
// argument; paths without one are skipped.
type SetupConfig struct {
	Disable          bool     `koanf:"disable"`
	Command          string   `koanf:"command"`
	Args             []string `koanf:"args"`
	RequirementsFile string   `koanf:"requirements_file"`
}

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	FilePath string `koanf:"file_path"`
}

// NotificationConfig controls run-outcome notifications.
type NotificationConfig struct {
	Enable bool        `koanf:"enable"`
	SendOn []string    `koanf:"send_on"`
	Email  EmailConfig `koanf:"email"`
}

// EmailConfig holds SMTP transport settings.
type EmailConfig struct {
	Recipients  []string `koanf:"recipients"`
	SenderEmail string   `koanf:"sender_email"`
	SMTPServer  string   `koanf:"smtp_server"`
	Port        int      `koanf:"port"`
	// UseTLS defaults to true when absent, so it is a pointer rather than a
	// plain bool (the zero value would silently disable STARTTLS).
	UseTLS       *bool  `koanf:"use_tls"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword Secret `koanf:"smtp_password"`
	Subject      string `koanf:"subject"`
}

// StartTLS reports whether the transport should negotiate STARTTLS.
func (e *EmailConfig) StartTLS() bool {
	if e.UseTLS == nil {
		return true
	}
	return *e.UseTLS
}

// RetryConfig is the fixed-delay retry policy for transient operations.
type RetryConfig struct {
	MaxAttempts  int `koanf:"max_attempts"`
	DelaySeconds int `koanf:"delay_seconds"`
}

// AuthConfig names the environment variable supplying the VCS token.
type AuthConfig struct {
	TokenName string `koanf:"token_name"`
}

// AdvancedConfig lists optional hook scripts run around the whole run.
type AdvancedConfig struct {
	PreRunHooks  []string `koanf:"pre_run_hooks"`
	PostRunHooks []string `koanf:"post_run_hooks"`
}

// ReportingConfig controls the summary report artifacts.
type ReportingConfig struct {
	SummaryPath         string   `koanf:"summary_path"`
	Formats             []string `koanf:"formats"`
	IncludeDetailedDiff bool     `koanf:"include_detailed_diff"`
	MetricsPath         string   `koanf:"metrics_path"`
}

var validSendOn = map[string]bool{"success": true, "failure": true}
var validFormats = map[string]bool{"markdown": true, "html": true}

// Validate checks required fields and cross-field invariants. All violations
// wrap ErrInvalid.
func (c *Config) Validate() error {
	if len(c.Repositories) == 0 {
		return fmt.Errorf("%w: no repositories configured", ErrInvalid)
	}

	seen := make(map[string]bool, len(c.Repositories))
	for i := range c.Repositories {
		r := &c.Repositories[i]
		if r.Name == "" {
			return fmt.Errorf("%w: repository %d has no name", ErrInvalid, i)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate repository name %q", ErrInvalid, r.Name)
		}
		seen[r.Name] = true
		if r.URL == "" {
			return fmt.Errorf("%w: repository %q has no url", ErrInvalid, r.Name)
		}
		resolved := c.Resolve(r)
		if resolved.MaxIterations <= 0 {
			return fmt.Errorf("%w: repository %q resolves max_iterations to %d (must be positive)",
				ErrInvalid, r.Name, resolved.MaxIterations)
		}
		if r.Notifications != nil {
			if err := validateNotifications(r.Notifications); err != nil {
				return fmt.Errorf("%w: repository %q notifications: %v", ErrInvalid, r.Name, err)
			}
		}
	}

	if err := validateNotifications(&c.Notifications); err != nil {
		return fmt.Errorf("%w: notifications: %v", ErrInvalid, err)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry.max_attempts must be >= 1, got %d", ErrInvalid, c.Retry.MaxAttempts)
	}
	if c.Retry.DelaySeconds < 0 {
		return fmt.Errorf("%w: retry.delay_seconds must be >= 0, got %d", ErrInvalid, c.Retry.DelaySeconds)
	}

	for _, f := range c.Reporting.Formats {
		if !validFormats[f] {
			return fmt.Errorf("%w: unknown report format %q", ErrInvalid, f)
		}
	}

	for _, t := range c.Optimizers {
		if t.Command == "" {
			return fmt.Errorf("%w: optimizer %q has no command", ErrInvalid, t.Name)
		}
	}

	return nil
}

func validateNotifications(n *NotificationConfig) error {
	for _, cond := range n.SendOn {
		if !validSendOn[cond] {
			return fmt.Errorf("unknown send_on condition %q", cond)
		}
	}
	if n.Enable && len(n.Email.Recipients) == 0 {
		return fmt.Errorf("notifications enabled but no recipients configured")
	}
	return nil
}
