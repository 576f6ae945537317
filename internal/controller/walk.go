package controller

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/polish/internal/metrics"
	"github.com/fyrsmithlabs/polish/internal/repo"
)

// candidate is a file selected for optimization, in both absolute and
// worktree-relative form.
type candidate struct {
	abs string
	rel string
}

// skipDirs are never descended into while resolving paths_to_optimize.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
}

// collectFiles resolves a handle's paths_to_optimize entries against its
// working directory, in declaration order. Directory entries are walked
// recursively for files matching the resolved file pattern; file entries are
// taken as-is. Excluded files always win over paths_to_optimize matches and
// are absent from the result.
func collectFiles(h *repo.Handle, exclusions []string, m *metrics.Metrics) ([]candidate, error) {
	var out []candidate
	seen := make(map[string]bool)

	add := func(abs string) {
		rel, err := filepath.Rel(h.Dir, abs)
		if err != nil || seen[rel] {
			return
		}
		seen[rel] = true
		if excluded(rel, exclusions) {
			m.FilesSkipped.Inc()
			return
		}
		out = append(out, candidate{abs: abs, rel: rel})
	}

	for _, entry := range h.Spec.PathsToOptimize {
		base := filepath.Join(h.Dir, entry)
		info, err := os.Stat(base)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("resolving path %q: %w", entry, err)
		}

		if !info.IsDir() {
			add(base)
			continue
		}

		err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			matched, merr := filepath.Match(h.Settings.FilePattern, d.Name())
			if merr != nil {
				return fmt.Errorf("invalid file pattern %q: %w", h.Settings.FilePattern, merr)
			}
			if matched {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %q: %w", entry, err)
		}
	}

	return out, nil
}

// excluded checks a worktree-relative path against exclusion patterns. A
// pattern matches on the full relative path or on the file's base name.
func excluded(rel string, patterns []string) bool {
	base := filepath.Base(rel)
	for _, p := range patterns {
		if p == rel || p == base {
			return true
		}
		if ok, err := filepath.Match(p, rel); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(p, base); err == nil && ok {
			return true
		}
	}
	return false
}
