package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/polish/internal/config"
)

// VCS abstracts the source-control operations the controller needs.
type VCS interface {
	// Clone fetches the handle's branch into its working directory.
	Clone(ctx context.Context, h *Handle) error

	// CommitAndPush stages everything in the working directory, commits on
	// the handle's optimization branch, and pushes it to origin.
	CommitAndPush(ctx context.Context, h *Handle) error
}

// GitVCS implements VCS with go-git. The auth token, when set, is supplied
// as basic-auth credentials on https remotes; it never appears in logs or
// the stored remote URL.
type GitVCS struct {
	token       config.Secret
	authorName  string
	authorEmail string
	logger      *zap.Logger
}

// NewGitVCS creates a go-git backed VCS client.
func NewGitVCS(token config.Secret, logger *zap.Logger) *GitVCS {
	return &GitVCS{
		token:       token,
		authorName:  "polish",
		authorEmail: "polish@users.noreply.github.com",
		logger:      logger,
	}
}

// auth returns credentials for https transports, or nil when no token is
// configured (local remotes in tests, public pulls).
func (g *GitVCS) auth() transport.AuthMethod {
	if !g.token.IsSet() {
		return nil
	}
	// GitHub accepts any non-empty username with a token password.
	return &githttp.BasicAuth{Username: "x-access-token", Password: g.token.Value()}
}

// Clone performs a single-branch clone of the configured branch into h.Dir.
func (g *GitVCS) Clone(ctx context.Context, h *Handle) error {
	opts := &git.CloneOptions{
		URL:          h.Spec.URL,
		Auth:         g.auth(),
		SingleBranch: true,
	}
	if h.Spec.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(h.Spec.Branch)
	}

	g.logger.Info("cloning repository",
		zap.String("repository", h.Spec.Name),
		zap.String("branch", h.Spec.Branch),
		zap.String("dir", h.Dir),
	)

	if _, err := git.PlainCloneContext(ctx, h.Dir, false, opts); err != nil {
		return fmt.Errorf("%w: cloning %s: %v", ErrTransient, h.Spec.Name, err)
	}
	return nil
}

// CommitAndPush creates the optimization branch, commits all staged changes,
// and pushes the branch to origin.
func (g *GitVCS) CommitAndPush(ctx context.Context, h *Handle) error {
	r, err := git.PlainOpen(h.Dir)
	if err != nil {
		return fmt.Errorf("opening %s: %w", h.Dir, err)
	}
	w, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("worktree for %s: %w", h.Spec.Name, err)
	}

	branch := h.OptimizationBranch()
	if err := w.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: true,
	}); err != nil {
		return fmt.Errorf("creating branch %s: %w", branch, err)
	}

	if err := w.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("staging changes for %s: %w", h.Spec.Name, err)
	}

	commit, err := w.Commit(h.CommitMessage(), &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.authorName,
			Email: g.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("committing changes for %s: %w", h.Spec.Name, err)
	}

	g.logger.Info("pushing optimization branch",
		zap.String("repository", h.Spec.Name),
		zap.String("branch", branch),
		zap.String("commit", commit.String()),
	)

	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	if err := r.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{refSpec},
		Auth:       g.auth(),
	}); err != nil {
		return fmt.Errorf("%w: pushing %s: %v", ErrTransient, h.Spec.Name, err)
	}
	return nil
}
