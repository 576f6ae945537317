// Package metrics records run counters and exposes them as a Prometheus
// textfile. A batch run has no scrape endpoint; writing the registry to
// reporting.metrics_path lets the node-exporter textfile collector pick the
// counters up after the run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-run counters.
type Metrics struct {
	registry *prometheus.Registry

	ReposProcessed prometheus.Counter
	ReposSkipped   prometheus.Counter
	ReposFailed    prometheus.Counter
	FilesOptimized prometheus.Counter
	FilesChanged   prometheus.Counter
	FilesFailed    prometheus.Counter
	FilesSkipped   prometheus.Counter
	Passes         prometheus.Counter
}

// New creates a registry with all run counters registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ReposProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polish_repositories_processed_total",
			Help: "Repositories processed during the run.",
		}),
		ReposSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polish_repositories_skipped_total",
			Help: "Repositories skipped because optimizers were disabled.",
		}),
		ReposFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polish_repositories_failed_total",
			Help: "Repositories that failed with an unrecovered error.",
		}),
		FilesOptimized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polish_files_optimized_total",
			Help: "Files run through the tool pipeline.",
		}),
		FilesChanged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polish_files_changed_total",
			Help: "Files whose content changed.",
		}),
		FilesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polish_files_failed_total",
			Help: "Files whose processing failed.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polish_files_skipped_total",
			Help: "Files skipped by exclusion patterns.",
		}),
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polish_optimization_passes_total",
			Help: "Tool pipeline passes executed across all files.",
		}),
	}

	m.registry.MustRegister(
		m.ReposProcessed, m.ReposSkipped, m.ReposFailed,
		m.FilesOptimized, m.FilesChanged, m.FilesFailed, m.FilesSkipped,
		m.Passes,
	)
	return m
}

// WriteTextfile writes the registry in the Prometheus text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
