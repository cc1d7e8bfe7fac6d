package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pkgsignal.dev/analyzer/common"
	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/httpclient"
	"pkgsignal.dev/analyzer/model"
	"pkgsignal.dev/analyzer/tokendealer"
)

// GitHubCollector gathers repo/contributor/commit-activity/status/issue
// signals from the GitHub API, rotating credentials through TokenDealer.
// A 202 from the commit-activity endpoint means the stats cache is still
// warming; the call is retried with backoff. 404/403/451 responses yield
// a tolerated nil result rather than failing the whole analysis.
type GitHubCollector struct{}

func (c *GitHubCollector) Name() string { return model.CollectedGitHub }

const githubTokenGroup = "github"

// githubAPIBase is overridden in tests to point at an httptest server.
var githubAPIBase = "https://api.github.com"

func (c *GitHubCollector) Run(ctx context.Context, in Input) (interface{}, error) {
	owner, repo, ok := githubOwnerRepo(in.Manifest.Repository.URL)
	if !ok {
		return nil, nil
	}

	tok, release, err := in.Dealer.WithToken(ctx, githubTokenGroup, true)
	if err != nil {
		if errkind.Is(err, errkind.NoTokensAvailable) {
			return nil, nil
		}
		return nil, errkind.Wrap(errkind.CollectorFatal, err)
	}
	var rl rateLimitState
	defer func() { release(rl.exhaustedUntil()) }()

	repoInfo, status, err := githubGet(ctx, tok, fmt.Sprintf("%s/repos/%s/%s", githubAPIBase, owner, repo), &rl)
	if toleratedGitHubStatus(status) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.CollectorFatal, err)
	}

	var repoFields struct {
		Homepage         string `json:"homepage"`
		StargazersCount  int64  `json:"stargazers_count"`
		ForksCount       int64  `json:"forks_count"`
		SubscribersCount int64  `json:"subscribers_count"`
		DefaultBranch    string `json:"default_branch"`
		HasIssues        bool   `json:"has_issues"`
		OpenIssuesCount  int64  `json:"open_issues_count"`
	}
	if err := json.Unmarshal(repoInfo, &repoFields); err != nil {
		return nil, errkind.New(errkind.CollectorTolerated, "github: malformed repo response")
	}

	out := &model.GitHub{
		Homepage:         repoFields.Homepage,
		StarsCount:       repoFields.StargazersCount,
		ForksCount:       repoFields.ForksCount,
		SubscribersCount: repoFields.SubscribersCount,
		Issues: model.Issues{
			IsDisabled: !repoFields.HasIssues,
			OpenCount:  repoFields.OpenIssuesCount,
		},
	}

	out.Contributors = githubContributors(ctx, tok, owner, repo, &rl)
	out.Commits = githubCommitActivity(ctx, tok, owner, repo, &rl)

	ref := in.GitRef
	if ref == "" {
		ref = repoFields.DefaultBranch
	}
	out.Statuses = githubCommitStatuses(ctx, tok, owner, repo, ref, &rl)

	if in.IssueStatsURL != "" {
		out.Issues.Count, out.Issues.Distribution = fetchIssueStats(ctx, in.IssueStatsURL, owner, repo)
	}

	return out, nil
}

func githubOwnerRepo(repoURL string) (owner, repo string, ok bool) {
	if !strings.Contains(repoURL, "github.com") {
		return "", "", false
	}
	u := strings.TrimSuffix(repoURL, ".git")
	u = strings.TrimPrefix(u, "git+")
	idx := strings.Index(u, "github.com/")
	if idx < 0 {
		return "", "", false
	}
	parts := strings.SplitN(u[idx+len("github.com/"):], "/", 2)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func toleratedGitHubStatus(status int) bool {
	return status == 404 || status == 403 || status == 451
}

// rateLimitState tracks the most exhausted reading of X-RateLimit-Remaining/
// X-RateLimit-Reset seen across every call a single Run makes with one
// token, so the token is released back to tokendealer.Dealer quarantined
// until the reset time GitHub actually reported, instead of always being
// handed back as fresh.
type rateLimitState struct {
	exhausted bool
	reset     time.Time
}

func (s *rateLimitState) observe(headers map[string]string) {
	if headers["X-Ratelimit-Remaining"] != "0" {
		return
	}
	epoch, err := strconv.ParseInt(headers["X-Ratelimit-Reset"], 10, 64)
	if err != nil {
		return
	}
	s.exhausted = true
	s.reset = time.Unix(epoch, 0)
}

func (s *rateLimitState) exhaustedUntil() time.Time {
	if !s.exhausted {
		return time.Time{}
	}
	return s.reset
}

func githubGet(ctx context.Context, tok tokendealer.Token, url string, rl *rateLimitState) ([]byte, int, error) {
	req := httpclient.NewRequest("GET", url)
	req.Headers["Authorization"] = "token " + tok.Value
	req.IsRetryable = func(resp *httpclient.Response) bool { return resp.StatusCode == 202 }

	resp, err := httpclient.Execute(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	rl.observe(resp.Headers)
	if toleratedGitHubStatus(resp.StatusCode) {
		return nil, resp.StatusCode, nil
	}
	if !resp.IsSuccess() {
		return nil, resp.StatusCode, fmt.Errorf("github: unexpected status %d for %s", resp.StatusCode, url)
	}
	return resp.Body, resp.StatusCode, nil
}

func githubContributors(ctx context.Context, tok tokendealer.Token, owner, repo string, rl *rateLimitState) []model.Contributor {
	body, status, err := githubGet(ctx, tok, fmt.Sprintf("%s/repos/%s/%s/contributors", githubAPIBase, owner, repo), rl)
	if err != nil || toleratedGitHubStatus(status) {
		return nil
	}
	var raw []struct {
		Login         string `json:"login"`
		Contributions int64  `json:"contributions"`
	}
	if json.Unmarshal(body, &raw) != nil {
		return nil
	}
	out := make([]model.Contributor, 0, len(raw))
	for _, r := range raw {
		out = append(out, model.Contributor{Username: r.Login, CommitsCount: r.Contributions})
	}
	return out
}

// githubCommitActivity fetches the weekly commit-activity series and
// projects it into the spec's fixed {7,30,90,180,365}-day buckets by
// summing every weekly point whose timestamp falls in [now-N, now).
func githubCommitActivity(ctx context.Context, tok tokendealer.Token, owner, repo string, rl *rateLimitState) []model.ReleaseBucket {
	body, status, err := githubGet(ctx, tok, fmt.Sprintf("%s/repos/%s/%s/stats/commit_activity", githubAPIBase, owner, repo), rl)
	if err != nil || toleratedGitHubStatus(status) || body == nil {
		return nil
	}
	var weeks []struct {
		Week  int64 `json:"week"`
		Total int64 `json:"total"`
	}
	if json.Unmarshal(body, &weeks) != nil {
		return nil
	}

	now := time.Now()
	buckets := make([]model.ReleaseBucket, 0, 5)
	for _, days := range []int{7, 30, 90, 180, 365} {
		window := common.TrailingWindow(now, days)
		for _, w := range weeks {
			common.SumInWindow(&window, time.Unix(w.Week, 0), w.Total)
		}
		buckets = append(buckets, window)
	}
	return buckets
}

func githubCommitStatuses(ctx context.Context, tok tokendealer.Token, owner, repo, ref string, rl *rateLimitState) []model.CommitStatus {
	if ref == "" {
		return nil
	}
	body, status, err := githubGet(ctx, tok, fmt.Sprintf("%s/repos/%s/%s/commits/%s/status", githubAPIBase, owner, repo, ref), rl)
	if err != nil || toleratedGitHubStatus(status) || body == nil {
		return nil
	}
	var parsed struct {
		Statuses []struct {
			Context string `json:"context"`
			State   string `json:"state"`
		} `json:"statuses"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return nil
	}

	seen := make(map[string]bool, len(parsed.Statuses))
	out := make([]model.CommitStatus, 0, len(parsed.Statuses))
	for _, s := range parsed.Statuses {
		if seen[s.Context] {
			continue
		}
		seen[s.Context] = true
		out = append(out, model.CommitStatus{Context: s.Context, State: s.State})
	}
	return out
}

func fetchIssueStats(ctx context.Context, baseURL, owner, repo string) (int64, []int64) {
	url := fmt.Sprintf("%s/github/%s/%s", baseURL, owner, repo)
	req := httpclient.NewRequest("GET", url)
	resp, err := httpclient.Execute(ctx, req)
	if err != nil || !resp.IsSuccess() {
		return 0, nil
	}
	var parsed struct {
		Count        int64   `json:"count"`
		Distribution []int64 `json:"distribution"`
	}
	if json.Unmarshal(resp.Body, &parsed) != nil {
		return 0, nil
	}
	return parsed.Count, parsed.Distribution
}
