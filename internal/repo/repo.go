// Package repo provides source-control operations for polish: cloning
// configured repositories into isolated working directories, committing and
// pushing optimization branches, and opening pull requests.
//
// The controller talks to the VCS and PullRequestOpener interfaces only, so
// tests and future transports stay decoupled from go-git and the GitHub API.
package repo

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/polish/internal/config"
)

// ErrTransient marks clone/push failures that are worth retrying. An
// exhausted retry on a repository whose ignore_failure is false fails the
// overall run.
var ErrTransient = errors.New("transient network error")

// Handle represents one configured repository bound to its resolved settings
// and an isolated working directory. No two handles share a workspace, so
// repositories can be processed concurrently without interleaved git state.
type Handle struct {
	Spec     config.RepositorySpec
	Settings config.OptimizationSettings
	Dir      string
}

// NewHandle binds a repository spec to a working directory under scratchRoot.
func NewHandle(spec config.RepositorySpec, settings config.OptimizationSettings, scratchRoot string) *Handle {
	return &Handle{
		Spec:     spec,
		Settings: settings,
		Dir:      filepath.Join(scratchRoot, spec.Name),
	}
}

// OptimizationBranch is the branch pushed with optimized code, derived from
// the base branch.
func (h *Handle) OptimizationBranch() string {
	base := h.Spec.Branch
	if base == "" {
		base = "main"
	}
	return "optimize/" + base
}

// CommitMessage is the message used for the optimization commit.
func (h *Handle) CommitMessage() string {
	return fmt.Sprintf("Optimized code for repository '%s' - detailed improvements included", h.Spec.Name)
}

// ParseOwnerRepo extracts the owner and repository name from a GitHub remote
// URL. Supports https and ssh forms, with or without a .git suffix.
func ParseOwnerRepo(url string) (owner, name string, err error) {
	s := strings.TrimSuffix(url, ".git")
	switch {
	case strings.HasPrefix(s, "git@"):
		// git@github.com:owner/repo
		_, after, ok := strings.Cut(s, ":")
		if !ok {
			return "", "", fmt.Errorf("unrecognized repository url %q", url)
		}
		s = after
	case strings.Contains(s, "://"):
		// https://github.com/owner/repo
		_, after, _ := strings.Cut(s, "://")
		parts := strings.SplitN(after, "/", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("unrecognized repository url %q", url)
		}
		s = parts[1]
	}

	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("unrecognized repository url %q", url)
	}
	return parts[0], parts[1], nil
}
