package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/polish/internal/config"
)

func TestNewGitHubClient_RequiresToken(t *testing.T) {
	_, err := NewGitHubClient(context.Background(), config.Secret(""), zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestOpenPullRequest(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/org/service-a/pulls" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"number": 7, "html_url": "https://github.com/org/service-a/pull/7"}`))
	}))
	defer srv.Close()

	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base

	client := &GitHubClient{gh: gh, logger: zaptest.NewLogger(t)}
	h := NewHandle(config.RepositorySpec{
		Name:   "service-a",
		URL:    "https://github.com/org/service-a",
		Branch: "main",
	}, config.OptimizationSettings{}, t.TempDir())

	prURL, err := client.OpenPullRequest(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/org/service-a/pull/7", prURL)
	assert.Equal(t, "optimize/main", gotBody["head"])
	assert.Equal(t, "main", gotBody["base"])
	assert.Equal(t, prTitle, gotBody["title"])
}

func TestOpenPullRequest_APIFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base

	client := &GitHubClient{gh: gh, logger: zaptest.NewLogger(t)}
	h := NewHandle(config.RepositorySpec{
		Name: "service-a", URL: "https://github.com/org/service-a", Branch: "main",
	}, config.OptimizationSettings{}, t.TempDir())

	_, err = client.OpenPullRequest(context.Background(), h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
}
