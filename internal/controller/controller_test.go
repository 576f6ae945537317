package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/polish/internal/config"
	"github.com/fyrsmithlabs/polish/internal/hooks"
	"github.com/fyrsmithlabs/polish/internal/metrics"
	"github.com/fyrsmithlabs/polish/internal/notify"
	"github.com/fyrsmithlabs/polish/internal/optimizer"
	"github.com/fyrsmithlabs/polish/internal/repo"
)

// fakeVCS materializes seeded file trees on clone and records pushes.
type fakeVCS struct {
	mu        sync.Mutex
	seed      map[string]map[string]string // repo name -> rel path -> content
	cloneErrs map[string]int               // repo name -> failures before success
	pushed    []string
	cloneTry  map[string]int
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{
		seed:      make(map[string]map[string]string),
		cloneErrs: make(map[string]int),
		cloneTry:  make(map[string]int),
	}
}

func (f *fakeVCS) Clone(ctx context.Context, h *repo.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cloneTry[h.Spec.Name]++
	if f.cloneErrs[h.Spec.Name] > 0 {
		f.cloneErrs[h.Spec.Name]--
		return fmt.Errorf("%w: connection reset", repo.ErrTransient)
	}
	for rel, content := range f.seed[h.Spec.Name] {
		path := filepath.Join(h.Dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeVCS) CommitAndPush(ctx context.Context, h *repo.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, h.Spec.Name)
	return nil
}

type fakePR struct {
	opened []string
}

func (f *fakePR) OpenPullRequest(ctx context.Context, h *repo.Handle) (string, error) {
	f.opened = append(f.opened, h.Spec.Name)
	return "https://github.com/org/" + h.Spec.Name + "/pull/1", nil
}

// normTool reformats "x=1" into "x = 1\n"; a fixed point thereafter.
type normTool struct{}

func (normTool) Name() string { return "formatter" }

func (normTool) Apply(ctx context.Context, path string, content []byte) ([]byte, bool, error) {
	if string(content) != "x=1" {
		return content, false, nil
	}
	out := []byte("x = 1\n")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// failTool fails for files whose base name starts with "bad".
type failTool struct{}

func (failTool) Name() string { return "linter" }

func (failTool) Apply(ctx context.Context, path string, content []byte) ([]byte, bool, error) {
	if len(filepath.Base(path)) >= 3 && filepath.Base(path)[:3] == "bad" {
		return content, false, fmt.Errorf("%w: linter rejected %s", optimizer.ErrToolFailed, path)
	}
	return content, false, nil
}

type capturingTransport struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (c *capturingTransport) Name() string { return "capture" }

func (c *capturingTransport) Send(ctx context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

type fixture struct {
	cfg       *config.Config
	vcs       *fakeVCS
	pr        *fakePR
	transport *capturingTransport
	ctrl      *Controller
	reportDir string
}

func newFixture(t *testing.T, cfg *config.Config, tools []optimizer.Tool) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	reportDir := t.TempDir()
	if cfg.Reporting.SummaryPath == "" {
		cfg.Reporting.SummaryPath = filepath.Join(reportDir, "report")
	}
	if len(cfg.Reporting.Formats) == 0 {
		cfg.Reporting.Formats = []string{"markdown"}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.DefaultSettings.FilePattern == "" {
		cfg.DefaultSettings.FilePattern = "*.py"
	}

	vcs := newFakeVCS()
	pr := &fakePR{}
	transport := &capturingTransport{}
	dispatcher := notify.NewDispatcher(func(config.NotificationConfig) notify.Transport {
		return transport
	}, logger)

	ctrl := New(Options{
		Config:       cfg,
		VCS:          vcs,
		PullRequests: pr,
		Tools:        tools,
		Dispatcher:   dispatcher,
		Hooks:        hooks.NewRunner(logger),
		Metrics:      metrics.New(),
		Logger:       logger,
		ScratchRoot:  t.TempDir(),
	})

	return &fixture{cfg: cfg, vcs: vcs, pr: pr, transport: transport, ctrl: ctrl, reportDir: reportDir}
}

func (f *fixture) reportContents(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.cfg.Reporting.SummaryPath + ".md")
	require.NoError(t, err)
	return string(data)
}

func baseConfig(repos ...config.RepositorySpec) *config.Config {
	return &config.Config{
		Repositories: repos,
		DefaultSettings: config.OptimizationSettings{
			EnableOptimizers: true,
			MaxIterations:    5,
			FilePattern:      "*.py",
		},
		Retry: config.RetryConfig{MaxAttempts: 3, DelaySeconds: 0},
	}
}

func TestRun_HappyPath(t *testing.T) {
	cfg := baseConfig(config.RepositorySpec{
		Name:            "service-a",
		URL:             "https://github.com/org/service-a",
		Branch:          "main",
		PathsToOptimize: []string{"test1.py"},
	})
	f := newFixture(t, cfg, []optimizer.Tool{normTool{}})
	f.vcs.seed["service-a"] = map[string]string{"test1.py": "x=1"}

	status, err := f.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, notify.StatusSuccess, status)

	// Pipeline stabilizes after 2 passes.
	md := f.reportContents(t)
	assert.Contains(t, md, "| test1.py | ok | 2 | true |")
	assert.Equal(t, []string{"service-a"}, f.vcs.pushed)
	assert.Equal(t, []string{"service-a"}, f.pr.opened)
	assert.Contains(t, md, "pull/1")
}

func TestRun_DisabledRepositorySkipped(t *testing.T) {
	off := false
	cfg := baseConfig(config.RepositorySpec{
		Name:            "service-a",
		URL:             "https://github.com/org/service-a",
		PathsToOptimize: []string{"."},
		Optimization:    config.OptimizationOverride{EnableOptimizers: &off},
	})
	f := newFixture(t, cfg, []optimizer.Tool{normTool{}})
	f.vcs.seed["service-a"] = map[string]string{"test1.py": "x=1"}

	status, err := f.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, notify.StatusSuccess, status)

	assert.Zero(t, f.vcs.cloneTry["service-a"], "skipped repository must have no side effects")
	assert.Empty(t, f.vcs.pushed)
	assert.Contains(t, f.reportContents(t), "Skipped: optimizers disabled")
	assert.NotContains(t, f.reportContents(t), "| test1.py |", "no RunResult for a skipped repository")
}

func TestRun_ExcludedFileAbsentFromResults(t *testing.T) {
	cfg := baseConfig(config.RepositorySpec{
		Name:            "service-a",
		URL:             "https://github.com/org/service-a",
		PathsToOptimize: []string{"src"},
		ExcludedFiles:   []interface{}{"test1.py", []interface{}{}},
	})
	f := newFixture(t, cfg, []optimizer.Tool{normTool{}})
	f.vcs.seed["service-a"] = map[string]string{
		"src/test1.py": "x=1",
		"src/keep.py":  "y = 2\n",
	}

	status, err := f.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, notify.StatusSuccess, status)

	md := f.reportContents(t)
	assert.NotContains(t, md, "test1.py", "excluded file must be absent from RunResults")
	assert.Contains(t, md, "| src/keep.py | ok | 1 | false |")
	assert.Empty(t, f.vcs.pushed, "nothing changed, nothing published")
}

func TestRun_CloneRetriesThenSucceeds(t *testing.T) {
	cfg := baseConfig(config.RepositorySpec{
		Name:            "service-a",
		URL:             "https://github.com/org/service-a",
		PathsToOptimize: []string{"test1.py"},
	})
	f := newFixture(t, cfg, []optimizer.Tool{normTool{}})
	f.vcs.seed["service-a"] = map[string]string{"test1.py": "x=1"}
	f.vcs.cloneErrs["service-a"] = 2 // two transient failures, third attempt succeeds

	status, err := f.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, notify.StatusSuccess, status)
	assert.Equal(t, 3, f.vcs.cloneTry["service-a"])
}

func TestRun_FatalCloneStopsRemainingRepositories(t *testing.T) {
	cfg := baseConfig(
		config.RepositorySpec{Name: "broken", URL: "https://github.com/org/broken", PathsToOptimize: []string{"."}},
		config.RepositorySpec{Name: "after", URL: "https://github.com/org/after", PathsToOptimize: []string{"."}},
	)
	f := newFixture(t, cfg, []optimizer.Tool{normTool{}})
	f.vcs.cloneErrs["broken"] = 99

	status, err := f.ctrl.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, notify.StatusFailure, status)
	assert.Zero(t, f.vcs.cloneTry["after"], "fatal failure must stop remaining repositories")
}

func TestRun_IgnoredCloneFailureContinues(t *testing.T) {
	ignore := true
	cfg := baseConfig(
		config.RepositorySpec{
			Name: "flaky", URL: "https://github.com/org/flaky",
			PathsToOptimize: []string{"."},
			Optimization:    config.OptimizationOverride{IgnoreFailure: &ignore},
		},
		config.RepositorySpec{Name: "after", URL: "https://github.com/org/after", PathsToOptimize: []string{"test1.py"}},
	)
	f := newFixture(t, cfg, []optimizer.Tool{normTool{}})
	f.vcs.cloneErrs["flaky"] = 99
	f.vcs.seed["after"] = map[string]string{"test1.py": "x=1"}

	status, err := f.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, notify.StatusSuccess, status, "ignored failures are forgiven")
	assert.Equal(t, 3, f.vcs.cloneTry["flaky"], "retry still bounded by max_attempts")
	assert.Equal(t, []string{"after"}, f.vcs.pushed)
}

func TestRun_FileFailureIsPartialFailure(t *testing.T) {
	cfg := baseConfig(config.RepositorySpec{
		Name:            "service-a",
		URL:             "https://github.com/org/service-a",
		PathsToOptimize: []string{"src"},
	})
	f := newFixture(t, cfg, []optimizer.Tool{failTool{}, normTool{}})
	f.vcs.seed["service-a"] = map[string]string{
		"src/bad.py":  "broken",
		"src/good.py": "x=1",
	}

	status, err := f.ctrl.Run(context.Background())
	require.NoError(t, err, "partial failure surfaces via status, not error")
	assert.Equal(t, notify.StatusPartialFailure, status)

	md := f.reportContents(t)
	assert.Contains(t, md, "| src/bad.py | failed |")
	assert.Contains(t, md, "| src/good.py | ok |", "a failing file must not impact other files")
}

func TestRun_CancellationReportsPartialResults(t *testing.T) {
	cfg := baseConfig(
		config.RepositorySpec{Name: "first", URL: "https://github.com/org/first", PathsToOptimize: []string{"test1.py"}},
		config.RepositorySpec{Name: "second", URL: "https://github.com/org/second", PathsToOptimize: []string{"test1.py"}},
	)
	f := newFixture(t, cfg, []optimizer.Tool{normTool{}})
	f.vcs.seed["first"] = map[string]string{"test1.py": "x=1"}
	f.vcs.seed["second"] = map[string]string{"test1.py": "x=1"}

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel as soon as the first repository's pull request is opened, so the
	// interruption lands between repositories.
	f.ctrl.prs = &cancelPR{inner: f.pr, cancel: cancel}

	status, err := f.ctrl.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, notify.StatusPartialFailure, status)

	md := f.reportContents(t)
	assert.Contains(t, md, "## first", "partial results up to interruption must be reportable")
	assert.NotContains(t, md, "## second")
}

// cancelTool cancels the run context while applying, without failing the file.
type cancelTool struct {
	cancel context.CancelFunc
}

func (c *cancelTool) Name() string { return "canceller" }

func (c *cancelTool) Apply(ctx context.Context, path string, content []byte) ([]byte, bool, error) {
	c.cancel()
	return content, false, nil
}

func TestRun_CancellationWithinFinalRepository(t *testing.T) {
	cfg := baseConfig(config.RepositorySpec{
		Name:            "only",
		URL:             "https://github.com/org/only",
		PathsToOptimize: []string{"src"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, cfg, []optimizer.Tool{&cancelTool{cancel: cancel}})
	f.vcs.seed["only"] = map[string]string{
		"src/a.py": "a = 1\n",
		"src/b.py": "b = 2\n",
	}

	status, err := f.ctrl.Run(ctx)
	require.Error(t, err, "an interrupted run must not exit zero")
	assert.NotEqual(t, notify.StatusSuccess, status)
	assert.Equal(t, notify.StatusFailure, status)
	assert.Empty(t, f.vcs.pushed, "nothing may be published after an interruption")

	md := f.reportContents(t)
	assert.Contains(t, md, "| src/a.py | ok | 1 | false |", "results before the interruption stay reportable")
	assert.NotContains(t, md, "src/b.py", "remaining files must not be processed after cancellation")
}

// cancelPR cancels the run context once a pull request has been opened.
type cancelPR struct {
	inner  *fakePR
	cancel context.CancelFunc
}

func (c *cancelPR) OpenPullRequest(ctx context.Context, h *repo.Handle) (string, error) {
	url, err := c.inner.OpenPullRequest(ctx, h)
	c.cancel()
	return url, err
}

func TestRun_RepoNotificationOverrideReplacesGlobal(t *testing.T) {
	repoBlock := &config.NotificationConfig{
		Enable: true,
		SendOn: []string{"success"},
		Email:  config.EmailConfig{Recipients: []string{"oncall@example.com"}, SenderEmail: "repo@example.com"},
	}
	cfg := baseConfig(config.RepositorySpec{
		Name:            "service-a",
		URL:             "https://github.com/org/service-a",
		PathsToOptimize: []string{"test1.py"},
		Notifications:   repoBlock,
	})
	cfg.Notifications = config.NotificationConfig{
		Enable: true,
		SendOn: []string{"success", "failure"},
		Email:  config.EmailConfig{Recipients: []string{"team@example.com"}, SenderEmail: "global@example.com"},
	}
	f := newFixture(t, cfg, []optimizer.Tool{normTool{}})
	f.vcs.seed["service-a"] = map[string]string{"test1.py": "x=1"}

	_, err := f.ctrl.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.transport.sent, 2, "terminal plus repo-scoped notification")
	assert.Equal(t, []string{"team@example.com"}, f.transport.sent[0].Recipients)
	assert.Equal(t, []string{"oncall@example.com"}, f.transport.sent[1].Recipients)
	assert.Equal(t, "repo@example.com", f.transport.sent[1].Sender,
		"repo block must replace the global block entirely")
}

func TestExcluded(t *testing.T) {
	tests := []struct {
		rel      string
		patterns []string
		want     bool
	}{
		{"src/legacy.py", []string{"legacy.py"}, true},
		{"src/legacy.py", []string{"src/legacy.py"}, true},
		{"src/gen_a.py", []string{"gen_*.py"}, true},
		{"src/app.py", []string{"legacy.py"}, false},
		{"src/app.py", nil, false},
	}
	for _, tt := range tests {
		if got := excluded(tt.rel, tt.patterns); got != tt.want {
			t.Errorf("excluded(%q, %v) = %v, want %v", tt.rel, tt.patterns, got, tt.want)
		}
	}
}

func TestTerminalStatus(t *testing.T) {
	mk := func(skipped, aborted bool, fails int, ignore bool) *repoOutcome {
		return &repoOutcome{
			spec:      &config.RepositorySpec{},
			settings:  config.OptimizationSettings{IgnoreFailure: ignore},
			skipped:   skipped,
			aborted:   aborted,
			fileFails: fails,
		}
	}
	tests := []struct {
		name     string
		outcomes []*repoOutcome
		runErr   error
		want     notify.Status
	}{
		{"all ok", []*repoOutcome{mk(false, false, 0, false)}, nil, notify.StatusSuccess},
		{"all skipped", []*repoOutcome{mk(true, false, 0, false)}, nil, notify.StatusSuccess},
		{"ignored failures", []*repoOutcome{mk(false, true, 0, true)}, nil, notify.StatusSuccess},
		{"file failure beside success", []*repoOutcome{mk(false, false, 1, false), mk(false, false, 0, false)}, nil, notify.StatusPartialFailure},
		{"only fatal abort", []*repoOutcome{mk(false, true, 0, false)}, nil, notify.StatusFailure},
		{"fatal abort beside success", []*repoOutcome{mk(false, false, 0, false), mk(false, true, 0, false)}, nil, notify.StatusPartialFailure},
		{"canceled with progress", []*repoOutcome{mk(false, false, 0, false)}, errors.New("canceled"), notify.StatusPartialFailure},
		{"canceled before progress", nil, errors.New("canceled"), notify.StatusFailure},
		{"canceled inside the only repository", []*repoOutcome{{spec: &config.RepositorySpec{}, interrupted: true}}, errors.New("canceled"), notify.StatusFailure},
		{"canceled inside a later repository", []*repoOutcome{mk(false, false, 0, false), {spec: &config.RepositorySpec{}, interrupted: true}}, errors.New("canceled"), notify.StatusPartialFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, terminalStatus(tt.outcomes, tt.runErr))
		})
	}
}
