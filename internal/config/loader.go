package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// DefaultTokenName is the environment variable consulted for the VCS
	// token when auth.token_name is unset.
	DefaultTokenName = "GITHUB_ACCESS_TOKEN"

	envPrefix = "POLISH_"
)

// Load loads configuration from a YAML file, then overrides with environment
// variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (POLISH_RETRY_MAX_ATTEMPTS, POLISH_LOGGING_LEVEL, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// Environment variables are mapped section.field on the first underscore:
//
//	POLISH_RETRY_MAX_ATTEMPTS -> retry.max_attempts
//	POLISH_LOGGING_FILE_PATH  -> logging.file_path
//
// Files larger than 1MB are rejected.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	f, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open config file: %v", ErrInvalid, err)
	}
	defer f.Close()

	// Stat through the open descriptor to avoid a TOCTOU race on the size check.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to stat config file: %v", ErrInvalid, err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)",
			ErrInvalid, info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalid, err)
	}

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file %s: %v", ErrInvalid, configPath, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// POLISH_RETRY_MAX_ATTEMPTS -> retry.max_attempts: strip the prefix,
		// lowercase, split on the first underscore only (section.field_name).
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("%w: failed to load environment variables: %v", ErrInvalid, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrInvalid, err)
	}

	applyDefaults(&cfg)

	// A plain bool cannot distinguish "omitted" from an explicit false, and
	// an omitted enable_optimizers must not silently skip every repository.
	if !k.Exists("default_settings.enable_optimizers") {
		cfg.DefaultSettings.EnableOptimizers = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.DefaultSettings.MaxIterations == 0 {
		cfg.DefaultSettings.MaxIterations = 5
	}
	if cfg.DefaultSettings.FilePattern == "" {
		cfg.DefaultSettings.FilePattern = "*.py"
	}

	// The original pipeline runs a formatter then a style checker.
	if len(cfg.Optimizers) == 0 {
		cfg.Optimizers = []ToolConfig{
			{Name: "black", Command: "black"},
			{Name: "flake8", Command: "flake8", Check: true},
		}
	}
	for i := range cfg.Optimizers {
		if cfg.Optimizers[i].Name == "" {
			cfg.Optimizers[i].Name = cfg.Optimizers[i].Command
		}
	}

	// The original pipeline installs Python dependencies per optimized path.
	if cfg.Setup.Command == "" {
		cfg.Setup.Command = "pip"
		cfg.Setup.Args = []string{"install", "-r"}
	}
	if cfg.Setup.RequirementsFile == "" {
		cfg.Setup.RequirementsFile = "requirements.txt"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}

	if cfg.Auth.TokenName == "" {
		cfg.Auth.TokenName = DefaultTokenName
	}

	if cfg.Notifications.Email.Port == 0 {
		cfg.Notifications.Email.Port = 587
	}
	for i := range cfg.Repositories {
		if n := cfg.Repositories[i].Notifications; n != nil && n.Email.Port == 0 {
			n.Email.Port = 587
		}
	}

	if cfg.Reporting.SummaryPath == "" {
		cfg.Reporting.SummaryPath = "optimization-report"
	}
	if len(cfg.Reporting.Formats) == 0 {
		cfg.Reporting.Formats = []string{"markdown"}
	}
}
