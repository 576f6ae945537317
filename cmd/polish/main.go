// Polish clones configured repositories, runs their optimizer tool pipelines
// to a fixed point, and publishes the resulting changes as pull requests.
//
// Configuration is loaded from a YAML file; see internal/config for the
// schema. The access token for private repositories and pull requests is read
// from the environment variable named by auth.token_name.
//
// Usage:
//
//	# Run a full optimization pass
//	polish run --config config.yaml
//
//	# Re-send the outcome notification for a finished run
//	polish notify --config config.yaml --status partial_failure
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/polish/internal/config"
	"github.com/fyrsmithlabs/polish/internal/controller"
	"github.com/fyrsmithlabs/polish/internal/hooks"
	"github.com/fyrsmithlabs/polish/internal/logging"
	"github.com/fyrsmithlabs/polish/internal/metrics"
	"github.com/fyrsmithlabs/polish/internal/notify"
	"github.com/fyrsmithlabs/polish/internal/optimizer"
	"github.com/fyrsmithlabs/polish/internal/repo"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes, stable for scripting around the CLI.
const (
	exitSuccess        = 0
	exitFailure        = 1
	exitConfigError    = 2
	exitPartialFailure = 3
)

var (
	configPath   string
	notifyStatus string
	repoToken    string
)

// exitError carries a process exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}
}

var rootCmd = &cobra.Command{
	Use:           "polish",
	Short:         "Automated multi-repository code optimization",
	Long:          `polish clones the repositories listed in its configuration, runs the configured formatter and linter tools over each one until the output stabilizes, and opens pull requests for the changes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(versionCmd)
}

// runCmd executes a full optimization run
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the optimization pipeline over all configured repositories",
	Long: `Run clones every enabled repository, applies the optimizer tools to the
configured paths until a pass produces no changes (bounded by max_iterations),
pushes an optimization branch for repositories that changed, and opens a pull
request per changed repository.

Exit codes:
  0  every repository optimized without unrecovered failures
  1  the run failed outright
  2  the configuration is invalid or the access token is missing
  3  some repositories succeeded, some failed`,
	Args: cobra.NoArgs,
	RunE: runOptimization,
}

// notifyCmd re-sends the outcome notification for a given status
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send the run-outcome notification for a status",
	Long: `Notify evaluates the global notifications block against the given status
and sends the corresponding email. Useful for re-sending a notification after
a run, or for testing SMTP settings.`,
	Args: cobra.NoArgs,
	RunE: runNotify,
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("polish by Fyrsmith Labs\n")
		cmd.Printf("Version:    %s\n", version)
		cmd.Printf("Commit:     %s\n", gitCommit)
		cmd.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	runCmd.Flags().StringVar(&repoToken, "repo-token", "", "access token override (defaults to the variable named by auth.token_name)")
	notifyCmd.Flags().StringVar(&notifyStatus, "status", "", "run status to notify for (success, partial_failure, failure)")
	_ = notifyCmd.MarkFlagRequired("status")
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	logger, closeLogger, err := logging.New(cfg.Logging)
	if err != nil {
		return &exitError{code: exitConfigError, err: fmt.Errorf("initializing logger: %w", err)}
	}
	defer closeLogger()

	// The token value itself must never reach a log line; it travels as
	// config.Secret from here on.
	token := config.Secret(repoToken)
	if !token.IsSet() {
		token = config.Secret(os.Getenv(cfg.Auth.TokenName))
	}
	if !token.IsSet() && anyEnabled(cfg) {
		return &exitError{
			code: exitConfigError,
			err:  fmt.Errorf("environment variable %s is not set", cfg.Auth.TokenName),
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		logger.Warn("received signal, finishing current file and reporting partial results",
			zap.String("signal", sig.String()))
		cancel()
	}()

	scratch, err := os.MkdirTemp("", "polish-*")
	if err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("creating scratch directory: %w", err)}
	}
	defer os.RemoveAll(scratch)

	var prs repo.PullRequestOpener
	if token.IsSet() {
		gh, err := repo.NewGitHubClient(ctx, token, logger)
		if err != nil {
			return &exitError{code: exitConfigError, err: err}
		}
		prs = gh
	}

	ctrl := controller.New(controller.Options{
		Config:       cfg,
		VCS:          repo.NewGitVCS(token, logger),
		PullRequests: prs,
		Tools:        optimizer.Tools(cfg.Optimizers),
		Dispatcher:   notify.NewDispatcher(nil, logger),
		Hooks:        hooks.NewRunner(logger),
		Metrics:      metrics.New(),
		Logger:       logger,
		ScratchRoot:  scratch,
	})

	status, runErr := ctrl.Run(ctx)
	switch status {
	case notify.StatusSuccess:
		return nil
	case notify.StatusPartialFailure:
		return &exitError{code: exitPartialFailure, err: runErr}
	default:
		return &exitError{code: exitFailure, err: runErr}
	}
}

func runNotify(cmd *cobra.Command, args []string) error {
	status := notify.Status(notifyStatus)
	switch status {
	case notify.StatusSuccess, notify.StatusPartialFailure, notify.StatusFailure:
	default:
		return &exitError{
			code: exitConfigError,
			err:  fmt.Errorf("invalid status %q: want success, partial_failure, or failure", notifyStatus),
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	logger, closeLogger, err := logging.New(cfg.Logging)
	if err != nil {
		return &exitError{code: exitConfigError, err: fmt.Errorf("initializing logger: %w", err)}
	}
	defer closeLogger()

	dispatcher := notify.NewDispatcher(nil, logger)
	if err := dispatcher.Notify(cmd.Context(), status, cfg.Notifications); err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	return nil
}

// anyEnabled reports whether at least one repository will actually be
// processed after settings resolution.
func anyEnabled(cfg *config.Config) bool {
	for i := range cfg.Repositories {
		if cfg.Resolve(&cfg.Repositories[i]).EnableOptimizers {
			return true
		}
	}
	return false
}
