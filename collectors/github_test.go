package collectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgsignal.dev/analyzer/model"
	"pkgsignal.dev/analyzer/tokendealer"
)

func TestGithubOwnerRepoParsesHTTPSURL(t *testing.T) {
	owner, repo, ok := githubOwnerRepo("git+https://github.com/left-pad/left-pad.git")
	require.True(t, ok)
	assert.Equal(t, "left-pad", owner)
	assert.Equal(t, "left-pad", repo)
}

func TestGithubOwnerRepoRejectsNonGitHub(t *testing.T) {
	_, _, ok := githubOwnerRepo("https://gitlab.com/left-pad/left-pad.git")
	assert.False(t, ok)
}

func TestToleratedGitHubStatus(t *testing.T) {
	assert.True(t, toleratedGitHubStatus(404))
	assert.True(t, toleratedGitHubStatus(403))
	assert.True(t, toleratedGitHubStatus(451))
	assert.False(t, toleratedGitHubStatus(500))
	assert.False(t, toleratedGitHubStatus(200))
}

func TestGithubGetObservesExhaustedRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var rl rateLimitState
	_, status, err := githubGet(context.Background(), tokendealer.Token{Value: "t"}, srv.URL, &rl)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, rl.exhausted)
	assert.Equal(t, int64(1700000000), rl.reset.Unix())
	assert.Equal(t, rl.reset, rl.exhaustedUntil())
}

func TestGithubGetIgnoresRateLimitWhenRemaining(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "42")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var rl rateLimitState
	_, _, err := githubGet(context.Background(), tokendealer.Token{Value: "t"}, srv.URL, &rl)
	require.NoError(t, err)
	assert.False(t, rl.exhausted)
	assert.True(t, rl.exhaustedUntil().IsZero())
}

func TestGithubGetTreatsNotFoundAsTolerated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	body, status, err := githubGet(context.Background(), tokendealer.Token{Value: "t"}, srv.URL, &rateLimitState{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Nil(t, body)
}

func TestRunFetchesRepoContributorsAndStatuses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/left-pad/left-pad", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"homepage":"https://example.com","stargazers_count":10,"forks_count":2,"subscribers_count":1,"default_branch":"main","has_issues":true,"open_issues_count":3}`))
	})
	mux.HandleFunc("/repos/left-pad/left-pad/contributors", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"login":"alice","contributions":5}]`))
	})
	recentWeek := time.Now().AddDate(0, 0, -3).Unix()
	mux.HandleFunc("/repos/left-pad/left-pad/stats/commit_activity", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"week":` + strconv.FormatInt(recentWeek, 10) + `,"total":4}]`))
	})
	mux.HandleFunc("/repos/left-pad/left-pad/commits/main/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"statuses":[{"context":"ci/build","state":"success"},{"context":"ci/build","state":"success"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	orig := githubAPIBase
	githubAPIBase = srv.URL
	defer func() { githubAPIBase = orig }()

	dealer := tokendealer.New([]tokendealer.Token{{Value: "tok", Group: "github"}})
	c := &GitHubCollector{}
	in := Input{
		Manifest: model.Manifest{Repository: model.Repository{URL: "https://github.com/left-pad/left-pad"}},
		Dealer:   dealer,
	}

	out, err := c.Run(context.Background(), in)
	require.NoError(t, err)
	gh, ok := out.(*model.GitHub)
	require.True(t, ok)

	assert.Equal(t, int64(10), gh.StarsCount)
	assert.Equal(t, int64(2), gh.ForksCount)
	require.Len(t, gh.Contributors, 1)
	assert.Equal(t, "alice", gh.Contributors[0].Username)
	require.Len(t, gh.Statuses, 1)
	assert.Equal(t, "ci/build", gh.Statuses[0].Context)
	require.Len(t, gh.Commits, 5)
	assert.Equal(t, int64(4), gh.Commits[0].Count) // 7-day bucket catches the 3-day-old week
}

func TestRunReturnsNilWhenRepositoryIsNotGitHub(t *testing.T) {
	dealer := tokendealer.New([]tokendealer.Token{{Value: "tok", Group: "github"}})
	c := &GitHubCollector{}
	in := Input{
		Manifest: model.Manifest{Repository: model.Repository{URL: "https://example.com/left-pad"}},
		Dealer:   dealer,
	}

	out, err := c.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, out)
}
