package repo

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/polish/internal/config"
)

const (
	prTitle = "Automated Code Optimization"
	prBody  = "This PR contains automated optimizations for the code, improving formatting, style, and ensuring compliance with best practices."
)

// PullRequestOpener opens a pull request for a pushed optimization branch.
type PullRequestOpener interface {
	OpenPullRequest(ctx context.Context, h *Handle) (url string, err error)
}

// GitHubClient implements PullRequestOpener against the GitHub API.
type GitHubClient struct {
	gh     *github.Client
	logger *zap.Logger
}

// NewGitHubClient creates a GitHub client with token authentication.
func NewGitHubClient(ctx context.Context, token config.Secret, logger *zap.Logger) (*GitHubClient, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHubClient{gh: github.NewClient(tc), logger: logger}, nil
}

// OpenPullRequest creates a PR from the handle's optimization branch into
// its base branch.
func (c *GitHubClient) OpenPullRequest(ctx context.Context, h *Handle) (string, error) {
	owner, name, err := ParseOwnerRepo(h.Spec.URL)
	if err != nil {
		return "", err
	}

	pr, _, err := c.gh.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: github.String(prTitle),
		Body:  github.String(prBody),
		Head:  github.String(h.OptimizationBranch()),
		Base:  github.String(h.Spec.Branch),
	})
	if err != nil {
		return "", fmt.Errorf("%w: creating pull request for %s: %v", ErrTransient, h.Spec.Name, err)
	}

	c.logger.Info("pull request opened",
		zap.String("repository", h.Spec.Name),
		zap.String("url", pr.GetHTMLURL()),
	)
	return pr.GetHTMLURL(), nil
}
