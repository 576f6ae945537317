// Package controller drives the whole optimization run: it resolves per-repo
// settings against defaults, clones each repository into an isolated
// workspace, runs the optimizer over every matching file, publishes changed
// repositories, and fans results out to the report builder, metrics, and
// notification dispatcher.
package controller

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/polish/internal/config"
	"github.com/fyrsmithlabs/polish/internal/hooks"
	"github.com/fyrsmithlabs/polish/internal/metrics"
	"github.com/fyrsmithlabs/polish/internal/notify"
	"github.com/fyrsmithlabs/polish/internal/optimizer"
	"github.com/fyrsmithlabs/polish/internal/repo"
	"github.com/fyrsmithlabs/polish/internal/report"
	"github.com/fyrsmithlabs/polish/internal/retry"
)

// Options wires the controller's collaborators. Everything is injected;
// the controller owns no transport of its own.
type Options struct {
	Config       *config.Config
	VCS          repo.VCS
	PullRequests repo.PullRequestOpener // nil disables PR creation
	Tools        []optimizer.Tool
	Dispatcher   *notify.Dispatcher
	Hooks        *hooks.Runner
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	ScratchRoot  string
}

// Controller is the run orchestrator.
type Controller struct {
	cfg         *config.Config
	vcs         repo.VCS
	prs         repo.PullRequestOpener
	runner      *optimizer.Runner
	retry       *retry.Policy
	dispatcher  *notify.Dispatcher
	hooks       *hooks.Runner
	metrics     *metrics.Metrics
	logger      *zap.Logger
	scratchRoot string
}

// New creates a controller from options.
func New(opts Options) *Controller {
	return &Controller{
		cfg:         opts.Config,
		vcs:         opts.VCS,
		prs:         opts.PullRequests,
		runner:      optimizer.NewRunner(opts.Tools, opts.Logger),
		retry:       retry.NewPolicy(opts.Config.Retry, opts.Logger),
		dispatcher:  opts.Dispatcher,
		hooks:       opts.Hooks,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		scratchRoot: opts.ScratchRoot,
	}
}

// repoOutcome tracks one repository's terminal state for status
// determination and per-repo notifications.
type repoOutcome struct {
	spec        *config.RepositorySpec
	settings    config.OptimizationSettings
	skipped     bool
	fileFails   int
	aborted     bool // repo-level unrecovered error (clone/push/PR)
	interrupted bool // cancellation landed mid-repository
}

func (o *repoOutcome) failed() bool {
	return o.aborted || o.fileFails > 0
}

// unrecovered reports whether the outcome counts against the overall exit
// status: failures on repositories marked ignore_failure are forgiven.
func (o *repoOutcome) unrecovered() bool {
	return o.failed() && !o.settings.IgnoreFailure
}

// Run executes the full optimization run and returns the terminal status.
// Report writing, metrics, and notification failures are logged and
// contained; the returned error is non-nil only for run-level aborts
// (cancellation, fatal repository errors).
func (c *Controller) Run(ctx context.Context) (notify.Status, error) {
	runID := uuid.NewString()
	logger := c.logger.With(zap.String("run_id", runID))
	builder := report.NewBuilder(runID)

	logger.Info("starting optimization run",
		zap.Int("repositories", len(c.cfg.Repositories)))

	if err := c.hooks.Run(ctx, hooks.PhasePreRun, c.cfg.Advanced.PreRunHooks); err != nil {
		logger.Warn("pre-run hook failed", zap.Error(err))
	}

	outcomes := make([]*repoOutcome, 0, len(c.cfg.Repositories))
	var runErr error

repos:
	for i := range c.cfg.Repositories {
		spec := &c.cfg.Repositories[i]
		if err := ctx.Err(); err != nil {
			logger.Warn("run interrupted, reporting partial results", zap.Error(err))
			runErr = err
			break
		}

		outcome := c.processRepository(ctx, spec, builder, logger)
		outcomes = append(outcomes, outcome)

		if outcome.interrupted {
			// Cancellation landed inside this repository: its remaining files
			// were never processed and nothing was published, so the run must
			// not report success even when this was the last repository.
			logger.Warn("run interrupted, reporting partial results",
				zap.String("repository", spec.Name))
			runErr = ctx.Err()
			break repos
		}

		if outcome.aborted && !outcome.settings.IgnoreFailure {
			// A fatal repository error stops the remaining repositories.
			logger.Error("aborting remaining repositories after fatal error",
				zap.String("repository", spec.Name))
			break repos
		}
	}

	status := terminalStatus(outcomes, runErr)

	c.writeArtifacts(builder, status, logger)
	c.notifyOutcomes(ctx, status, outcomes, logger)

	if err := c.hooks.Run(ctx, hooks.PhasePostRun, c.cfg.Advanced.PostRunHooks); err != nil {
		logger.Warn("post-run hook failed", zap.Error(err))
	}

	logger.Info("optimization run finished", zap.String("status", string(status)))

	if runErr != nil {
		return status, runErr
	}
	if status == notify.StatusFailure {
		return status, fmt.Errorf("optimization run failed")
	}
	return status, nil
}

// processRepository handles one repository end to end: settings resolution,
// clone under retry, per-file optimization, publish, PR.
func (c *Controller) processRepository(ctx context.Context, spec *config.RepositorySpec, builder *report.Builder, logger *zap.Logger) *repoOutcome {
	settings := c.cfg.Resolve(spec)
	outcome := &repoOutcome{spec: spec, settings: settings}
	log := logger.With(zap.String("repository", spec.Name))

	if !settings.EnableOptimizers {
		log.Info("optimizers disabled, skipping repository")
		builder.AddSkipped(spec.Name, "optimizers disabled")
		c.metrics.ReposSkipped.Inc()
		outcome.skipped = true
		return outcome
	}

	h := repo.NewHandle(*spec, settings, c.scratchRoot)

	if err := c.retry.Do(ctx, "clone "+spec.Name, func(ctx context.Context) error {
		return c.vcs.Clone(ctx, h)
	}); err != nil {
		log.Error("clone failed", zap.Error(err))
		builder.SetRepoError(spec.Name, err)
		c.metrics.ReposFailed.Inc()
		outcome.aborted = true
		return outcome
	}

	if err := c.setupEnvironment(ctx, h, log); err != nil {
		log.Error("environment setup failed", zap.Error(err))
		builder.SetRepoError(spec.Name, err)
		c.metrics.ReposFailed.Inc()
		outcome.aborted = true
		return outcome
	}

	exclusions, dropped := spec.Exclusions()
	if dropped > 0 {
		log.Warn("dropped malformed excluded_files entries", zap.Int("count", dropped))
	}

	files, err := collectFiles(h, exclusions, c.metrics)
	if err != nil {
		log.Error("resolving paths_to_optimize failed", zap.Error(err))
		builder.SetRepoError(spec.Name, err)
		c.metrics.ReposFailed.Inc()
		outcome.aborted = true
		return outcome
	}
	log.Info("optimizing files", zap.Int("count", len(files)))

	changed := false
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			// Interrupted between files: everything processed so far stays
			// reportable, but the repository did not complete.
			outcome.interrupted = true
			return outcome
		}

		res := c.runner.Optimize(ctx, f.abs, settings)
		res.Repository = spec.Name
		res.Path = f.rel
		builder.AddResult(spec.Name, res)

		c.metrics.FilesOptimized.Inc()
		c.metrics.Passes.Add(float64(res.IterationsApplied))
		if res.Changed {
			c.metrics.FilesChanged.Inc()
			changed = true
		}
		if !res.Success {
			c.metrics.FilesFailed.Inc()
			outcome.fileFails++
			log.Warn("file optimization failed",
				zap.String("path", f.rel), zap.Error(res.Err))
		}
	}

	if changed {
		if err := c.publish(ctx, h, builder, log); err != nil {
			c.metrics.ReposFailed.Inc()
			outcome.aborted = true
			return outcome
		}
	} else {
		log.Info("no changes to publish")
	}

	c.metrics.ReposProcessed.Inc()
	return outcome
}

// publish commits and pushes the optimization branch under retry, then opens
// a pull request when a PR client is configured.
func (c *Controller) publish(ctx context.Context, h *repo.Handle, builder *report.Builder, log *zap.Logger) error {
	if err := c.retry.Do(ctx, "push "+h.Spec.Name, func(ctx context.Context) error {
		return c.vcs.CommitAndPush(ctx, h)
	}); err != nil {
		log.Error("publishing changes failed", zap.Error(err))
		builder.SetRepoError(h.Spec.Name, err)
		return err
	}

	if c.prs == nil {
		log.Info("no pull request client configured, branch pushed only",
			zap.String("branch", h.OptimizationBranch()))
		return nil
	}

	var url string
	if err := c.retry.Do(ctx, "pull request "+h.Spec.Name, func(ctx context.Context) error {
		var err error
		url, err = c.prs.OpenPullRequest(ctx, h)
		return err
	}); err != nil {
		log.Error("opening pull request failed", zap.Error(err))
		builder.SetRepoError(h.Spec.Name, err)
		return err
	}
	builder.SetPullRequest(h.Spec.Name, url)
	return nil
}

// terminalStatus derives the run's terminal status from per-repository
// outcomes. Success requires every enabled repository to finish with zero
// unrecovered failures; failures covered by ignore_failure do not count.
func terminalStatus(outcomes []*repoOutcome, runErr error) notify.Status {
	anyUnrecovered := false
	anyCompleted := false
	fatal := false

	for _, o := range outcomes {
		if o.skipped || o.interrupted {
			continue
		}
		if o.unrecovered() {
			anyUnrecovered = true
			if o.aborted {
				fatal = true
			}
			continue
		}
		anyCompleted = true
	}

	switch {
	case runErr != nil:
		if anyCompleted {
			return notify.StatusPartialFailure
		}
		return notify.StatusFailure
	case !anyUnrecovered:
		return notify.StatusSuccess
	case fatal && !anyCompleted:
		return notify.StatusFailure
	default:
		return notify.StatusPartialFailure
	}
}

// writeArtifacts emits the summary report and the metrics textfile.
// Failures here never change the exit status.
func (c *Controller) writeArtifacts(builder *report.Builder, status notify.Status, logger *zap.Logger) {
	written, err := builder.Write(c.cfg.Reporting, status)
	if err != nil {
		logger.Error("writing report failed", zap.Error(err))
	}
	for _, path := range written {
		logger.Info("report written", zap.String("path", path))
	}

	if c.cfg.Reporting.MetricsPath != "" {
		if err := c.metrics.WriteTextfile(c.cfg.Reporting.MetricsPath); err != nil {
			logger.Error("writing metrics textfile failed", zap.Error(err))
		}
	}
}

// notifyOutcomes dispatches the terminal run notification from the global
// block, plus a repo-scoped notification for every repository that declares
// its own block (which replaces the global block entirely).
func (c *Controller) notifyOutcomes(ctx context.Context, status notify.Status, outcomes []*repoOutcome, logger *zap.Logger) {
	if err := c.dispatcher.Notify(ctx, status, c.cfg.Notifications); err != nil {
		logger.Warn("terminal notification failed", zap.Error(err))
	}

	for _, o := range outcomes {
		if o.spec.Notifications == nil || o.skipped {
			continue
		}
		repoStatus := notify.StatusSuccess
		if o.failed() {
			repoStatus = notify.StatusFailure
		}
		if err := c.dispatcher.Notify(ctx, repoStatus, c.cfg.ResolveNotifications(o.spec)); err != nil {
			logger.Warn("repository notification failed",
				zap.String("repository", o.spec.Name), zap.Error(err))
		}
	}
}
