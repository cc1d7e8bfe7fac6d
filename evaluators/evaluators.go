// Package evaluators turns one package's Collected record into the
// fixed-shape Evaluation vector: pure, deterministic, single-pass
// arithmetic over whatever collectors managed to gather, tolerant of any
// collector's output being entirely absent. Grounded on the scoring
// modules under original_source/ (carried over as arithmetic, not code:
// the original is in another language, so every formula here is
// reimplemented against common.Normalize rather than translated) since
// no example repo in the pack implements this kind of piecewise-linear
// quality scoring natively.
package evaluators

import (
	"strings"

	"pkgsignal.dev/analyzer/common"
	"pkgsignal.dev/analyzer/model"
	"pkgsignal.dev/analyzer/store"
)

// Evaluate runs all three evaluators over collected and returns the
// combined Evaluation. Missing collector outputs degrade their dependent
// sub-measures toward zero rather than failing the whole evaluation.
func Evaluate(collected model.Collected, manifest model.Manifest) store.Evaluation {
	md, _ := collected[model.CollectedMetadata].(*model.Metadata)
	rs, _ := collected[model.CollectedRegistryStats].(*model.RegistryStats)
	gh, _ := collected[model.CollectedGitHub].(*model.GitHub) // nil when absent/inaccessible
	sa, _ := collected[model.CollectedSourceAnalysis].(*model.SourceAnalysis)

	if md == nil {
		md = &model.Metadata{}
	}
	if rs == nil {
		rs = &model.RegistryStats{}
	}
	if sa == nil {
		sa = &model.SourceAnalysis{}
	}

	var e store.Evaluation
	e.Quality.Carefulness = carefulness(md, sa)
	e.Quality.Tests = tests(md, sa, gh)
	e.Quality.DependenciesHealth = dependenciesHealth(md, sa)
	e.Quality.Branding = branding(md, sa)

	e.Popularity.CommunityInterest = communityInterest(rs, gh)
	e.Popularity.DownloadsCount = downloadsCount(rs)
	e.Popularity.DownloadsAcceleration = downloadsAcceleration(rs)
	e.Popularity.DependentsCount = float64(rs.DependentsCount)

	e.Maintenance.RecentCommits = recentCommits(gh)
	e.Maintenance.CommitsFrequency = commitsFrequency(gh)
	e.Maintenance.OpenIssues = openIssues(gh)
	e.Maintenance.IssuesDistribution = issuesDistribution(gh)

	return e
}

func boolF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// --- Quality ---

// versionBefore1 reports whether a semver-ish version string's major
// component is 0 ("0.x.y"), used by carefulness's maturity discount.
func versionBefore1(version string) bool {
	major := strings.SplitN(version, ".", 2)[0]
	return major == "0" || major == ""
}

func carefulness(md *model.Metadata, sa *model.SourceAnalysis) float64 {
	cond := 1.0
	switch {
	case md.Deprecated:
		cond = 0.3
	case versionBefore1(md.Version):
		cond = 0.7
	}

	license := boolF(md.License != "")
	readme := common.Normalize(float64(sa.Files.ReadmeSize), []common.Breakpoint{{Value: 0, Norm: 0}, {Value: 400, Norm: 1}})
	linters := boolF(len(sa.Linters) > 0)
	npmIgnore := boolF(sa.Files.HasNpmIgnore)

	return (0.35*license + 0.40*readme + 0.15*linters + 0.10*npmIgnore) * cond
}

func tests(md *model.Metadata, sa *model.SourceAnalysis, gh *model.GitHub) float64 {
	var testsSize float64
	if md.HasTestScript {
		testsSize = common.Normalize(float64(sa.Files.TestsSize), []common.Breakpoint{{Value: 0, Norm: 0}, {Value: 400, Norm: 1}})
	}

	var statusScore float64
	if gh != nil && len(gh.Statuses) > 0 {
		var sum float64
		for _, s := range gh.Statuses {
			switch s.State {
			case "success":
				sum += 1
			case "pending":
				sum += 0.3
			}
		}
		statusScore = sum / float64(len(gh.Statuses))
	}

	var coverage float64
	if sa.Coverage != nil {
		coverage = *sa.Coverage
	}

	return 0.6*testsSize + 0.25*statusScore + 0.15*coverage
}

func dependenciesHealth(md *model.Metadata, sa *model.SourceAnalysis) float64 {
	n := len(md.Dependencies)
	if n == 0 {
		return 1
	}

	out := len(sa.OutdatedDependencies)
	vul := len(sa.DependenciesVulnerable)

	unlocked := 0
	if !sa.HasLockfile {
		for _, rng := range md.Dependencies {
			if rng == "*" || rng == ">=0" || rng == ">=0.0.0" {
				unlocked++
			}
		}
	}

	upperOut := float64(n) / 4
	if upperOut < 2 {
		upperOut = 2
	}
	outNorm := common.Normalize(float64(out), []common.Breakpoint{{Value: 0, Norm: 1}, {Value: upperOut, Norm: 0}})
	vulNorm := common.Normalize(float64(vul), []common.Breakpoint{{Value: 0, Norm: 1}, {Value: upperOut, Norm: 0}})

	return (0.5*outNorm + 0.5*vulNorm) / (1 + float64(unlocked))
}

func branding(md *model.Metadata, sa *model.SourceAnalysis) float64 {
	hasCustomWebsite := boolF(md.Homepage != "")
	badges := common.Normalize(float64(len(sa.Badges)), []common.Breakpoint{{Value: 0, Norm: 0}, {Value: 4, Norm: 1}})
	return 0.4*hasCustomWebsite + 0.6*badges
}

// --- Popularity ---

// registryStatsDownloadOrder is the fixed bucket order RegistryStatsCollector
// appends Downloads in (see collectors/registrystats.go).
var registryStatsDownloadOrder = []int{1, 7, 30, 90, 180, 365}

func downloadsBucket(rs *model.RegistryStats, days int) int64 {
	for i, d := range registryStatsDownloadOrder {
		if d == days && i < len(rs.Downloads) {
			return rs.Downloads[i].Count
		}
	}
	return 0
}

func communityInterest(rs *model.RegistryStats, gh *model.GitHub) float64 {
	stars := float64(rs.StarsCount)
	var forks, subscribers, contributors float64
	if gh != nil {
		stars += float64(gh.StarsCount)
		forks = float64(gh.ForksCount)
		subscribers = float64(gh.SubscribersCount)
		contributors = float64(len(gh.Contributors))
	}
	return stars + forks + subscribers + contributors
}

func downloadsCount(rs *model.RegistryStats) float64 {
	return float64(downloadsBucket(rs, 90)) / 3
}

func downloadsAcceleration(rs *model.RegistryStats) float64 {
	m30 := float64(downloadsBucket(rs, 30)) / 30
	m90 := float64(downloadsBucket(rs, 90)) / 90
	m180 := float64(downloadsBucket(rs, 180)) / 180
	m365 := float64(downloadsBucket(rs, 365)) / 365
	return 0.25*(m30-m90) + 0.25*(m90-m180) + 0.5*(m180-m365)
}

// --- Maintenance ---

// githubCommitsOrder is the fixed bucket order GitHubCollector appends
// Commits in (see collectors/github.go).
var githubCommitsOrder = []int{7, 30, 90, 180, 365}

func commitsBucket(gh *model.GitHub, days int) int64 {
	if gh == nil {
		return 0
	}
	for i, d := range githubCommitsOrder {
		if d == days && i < len(gh.Commits) {
			return gh.Commits[i].Count
		}
	}
	return 0
}

func recentCommits(gh *model.GitHub) float64 {
	breakpoints := []common.Breakpoint{
		{Value: 30, Norm: 1},
		{Value: 90, Norm: 0.9},
		{Value: 180, Norm: 0.5},
		{Value: 365, Norm: 0},
	}
	if gh == nil {
		return common.Normalize(365, breakpoints)
	}
	for _, days := range githubCommitsOrder {
		if commitsBucket(gh, days) > 0 {
			return common.Normalize(float64(days), breakpoints)
		}
	}
	return common.Normalize(365, breakpoints)
}

// commitsFrequency weighs the trailing 30/90/365-day buckets toward
// recent activity: half the signal is the last month, the rest tapers off
// across the quarter and the year. The spec names "weighted monthly mean"
// without pinning exact weights; this split is the evaluator's own
// open-question decision (see DESIGN.md).
func commitsFrequency(gh *model.GitHub) float64 {
	m30 := float64(commitsBucket(gh, 30))
	m90 := float64(commitsBucket(gh, 90)) / 3
	m365 := float64(commitsBucket(gh, 365)) / 12
	weighted := 0.5*m30 + 0.3*m90 + 0.2*m365

	return common.Normalize(weighted, []common.Breakpoint{
		{Value: 0, Norm: 0},
		{Value: 1, Norm: 0.7},
		{Value: 5, Norm: 0.9},
		{Value: 10, Norm: 1},
	})
}

func openIssues(gh *model.GitHub) float64 {
	if gh == nil || gh.Issues.IsDisabled || gh.Issues.Count == 0 {
		return 0
	}
	ratio := float64(gh.Issues.OpenCount) / float64(gh.Issues.Count)
	return common.Normalize(ratio, []common.Breakpoint{
		{Value: 0, Norm: 1},
		{Value: 0.2, Norm: 1},
		{Value: 0.5, Norm: 0.5},
		{Value: 1, Norm: 0},
	})
}

// issueAgeWeight amplifies an issue's contribution to the weighted mean
// age the longer it's stayed open: issues under 29 days carry weight 1,
// ramping linearly to 5x at 365 days, per spec §4.5.
func issueAgeWeight(ageDays float64) float64 {
	if ageDays <= 29 {
		return 1
	}
	if ageDays >= 365 {
		return 5
	}
	return 1 + (ageDays-29)/(365-29)*4
}

func issuesDistribution(gh *model.GitHub) float64 {
	breakpoints := []common.Breakpoint{
		{Value: 5, Norm: 1},
		{Value: 30, Norm: 0.7},
		{Value: 90, Norm: 0},
	}
	if gh == nil || len(gh.Issues.Distribution) == 0 {
		return 0
	}

	var weightedSum, weightSum float64
	for _, age := range gh.Issues.Distribution {
		w := issueAgeWeight(float64(age))
		weightedSum += float64(age) * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return common.Normalize(weightedSum/weightSum, breakpoints)
}
