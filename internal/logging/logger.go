// internal/logging/logger.go
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/polish/internal/config"
)

// redactedFields are field names whose values are always blanked.
var redactedFields = []string{
	"password", "secret", "token", "api_key",
	"authorization", "bearer", "credential",
}

// New creates a logger from config. Logs always go to stderr in the
// configured format; when cfg.FilePath is set a JSON file sink is added
// (the per-run log artifact).
//
// The returned close function syncs and releases the file sink. It is safe
// to call on a nil-sink logger.
func New(cfg config.LoggingConfig) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	consoleEnc, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, nil, err
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	var logFile *os.File
	if cfg.FilePath != "" {
		logFile, err = os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.FilePath, err)
		}
		fileEnc, err := newEncoder("json")
		if err != nil {
			logFile.Close()
			return nil, nil, err
		}
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.Lock(logFile), level))
	}

	logger := zap.New(zapcore.NewTee(cores...))

	closeFn := func() {
		if err := logger.Sync(); err != nil && !isStdoutSyncError(err) {
			fmt.Fprintf(os.Stderr, "log sync failed: %v\n", err)
		}
		if logFile != nil {
			logFile.Close()
		}
	}
	return logger, closeFn, nil
}

// newEncoder creates a JSON or console encoder wrapped with redaction.
func newEncoder(format string) (zapcore.Encoder, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var base zapcore.Encoder
	switch format {
	case "console":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		base = zapcore.NewConsoleEncoder(encoderCfg)
	case "json":
		base = zapcore.NewJSONEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("log format must be 'json' or 'console', got %q", format)
	}
	return NewRedactingEncoder(base, redactedFields), nil
}

// isStdoutSyncError checks if error is a harmless stdout/stderr sync error.
// On Linux, syncing stdout/stderr returns EINVAL or ENOTTY which are safe to ignore.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
