// Package report accumulates per-file optimization results into a summary
// document and writes one artifact per configured format. Report writing is
// best-effort: a write failure is logged by the caller and never changes the
// run's exit status.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"

	"github.com/fyrsmithlabs/polish/internal/config"
	"github.com/fyrsmithlabs/polish/internal/notify"
	"github.com/fyrsmithlabs/polish/internal/optimizer"
)

// repoSection collects outcomes for one repository.
type repoSection struct {
	name    string
	skipped bool
	reason  string
	runErr  error
	prURL   string
	results []optimizer.RunResult
}

// Builder aggregates run results. The collection is append-only; appends are
// synchronized so repositories may be processed concurrently.
type Builder struct {
	mu       sync.Mutex
	runID    string
	started  time.Time
	sections map[string]*repoSection
	order    []string
}

// NewBuilder creates a report builder for one run.
func NewBuilder(runID string) *Builder {
	return &Builder{
		runID:    runID,
		started:  time.Now(),
		sections: make(map[string]*repoSection),
	}
}

func (b *Builder) section(name string) *repoSection {
	s, ok := b.sections[name]
	if !ok {
		s = &repoSection{name: name}
		b.sections[name] = s
		b.order = append(b.order, name)
	}
	return s
}

// AddResult records a per-file outcome for a repository.
func (b *Builder) AddResult(repoName string, res optimizer.RunResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.section(repoName)
	s.results = append(s.results, res)
}

// AddSkipped records a repository that was skipped before any processing.
func (b *Builder) AddSkipped(repoName, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.section(repoName)
	s.skipped = true
	s.reason = reason
}

// SetRepoError records a repository-level failure (clone, push, PR).
func (b *Builder) SetRepoError(repoName string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.section(repoName).runErr = err
}

// SetPullRequest records the PR opened for a repository.
func (b *Builder) SetPullRequest(repoName, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.section(repoName).prURL = url
}

// Results returns all recorded per-file results, for exit-status
// determination.
func (b *Builder) Results() []optimizer.RunResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []optimizer.RunResult
	for _, name := range b.order {
		out = append(out, b.sections[name].results...)
	}
	return out
}

// Markdown renders the summary document.
func (b *Builder) Markdown(status notify.Status, includeDiff bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var md strings.Builder
	fmt.Fprintf(&md, "# Optimization Report\n\n")
	fmt.Fprintf(&md, "- Run: `%s`\n", b.runID)
	fmt.Fprintf(&md, "- Started: %s\n", b.started.Format(time.RFC3339))
	fmt.Fprintf(&md, "- Status: **%s**\n\n", status)

	for _, name := range b.order {
		s := b.sections[name]
		fmt.Fprintf(&md, "## %s\n\n", s.name)

		if s.skipped {
			fmt.Fprintf(&md, "Skipped: %s\n\n", s.reason)
			continue
		}
		if s.runErr != nil {
			fmt.Fprintf(&md, "Failed: %v\n\n", s.runErr)
		}
		if s.prURL != "" {
			fmt.Fprintf(&md, "Pull request: %s\n\n", s.prURL)
		}
		if len(s.results) == 0 {
			continue
		}

		md.WriteString("| File | Status | Iterations | Changed |\n")
		md.WriteString("|------|--------|------------|---------|\n")
		for _, r := range s.results {
			status := "ok"
			if !r.Success {
				status = "failed"
			}
			fmt.Fprintf(&md, "| %s | %s | %d | %t |\n", r.Path, status, r.IterationsApplied, r.Changed)
		}
		md.WriteString("\n")

		if includeDiff {
			for _, r := range s.results {
				if r.Diff == "" {
					continue
				}
				fmt.Fprintf(&md, "### %s\n\n```diff\n%s\n```\n\n", r.Path, strings.TrimRight(r.Diff, "\n"))
			}
		}
	}

	return md.String()
}

// Write emits one artifact per configured format next to cfg.SummaryPath.
// Returns the paths written. A failure for one format does not prevent the
// others; the first error is returned after all formats were attempted.
func (b *Builder) Write(cfg config.ReportingConfig, status notify.Status) ([]string, error) {
	md := b.Markdown(status, cfg.IncludeDetailedDiff)

	if dir := filepath.Dir(cfg.SummaryPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating report directory %s: %w", dir, err)
		}
	}

	formats := append([]string{}, cfg.Formats...)
	sort.Strings(formats)

	var written []string
	var firstErr error
	for _, format := range formats {
		var path string
		var content []byte
		switch format {
		case "markdown":
			path = cfg.SummaryPath + ".md"
			content = []byte(md)
		case "html":
			path = cfg.SummaryPath + ".html"
			html, err := renderHTML(md)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			content = html
		default:
			if firstErr == nil {
				firstErr = fmt.Errorf("unknown report format %q", format)
			}
			continue
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("writing %s report: %w", format, err)
			}
			continue
		}
		written = append(written, path)
	}
	return written, firstErr
}

// renderHTML converts the markdown summary into a standalone hypertext page.
func renderHTML(md string) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("rendering html report: %w", err)
	}
	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Optimization Report</title></head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}
