package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"pkgsignal.dev/analyzer/httpclient"
	"pkgsignal.dev/analyzer/model"
)

// SourceAnalysisCollector inspects the files Downloader staged on disk:
// README/tests presence and size, linter configs, npm/git ignore files,
// a changelog, an approximate repository size, badge-derived coverage,
// and dependency health via two best-effort outbound checks (outdated
// versions, known vulnerabilities) that degrade to "check failed" rather
// than aborting the collector.
type SourceAnalysisCollector struct{}

func (c *SourceAnalysisCollector) Name() string { return model.CollectedSourceAnalysis }

var lintersConfigFiles = map[string]string{
	".eslintrc":         "eslint",
	".eslintrc.json":    "eslint",
	".eslintrc.js":      "eslint",
	".eslintrc.yml":     "eslint",
	".jshintrc":         "jshint",
	".editorconfig":     "editorconfig",
	".jscsrc":           "jscs",
	"tslint.json":       "tslint",
}

var badgeRe = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)]+)\)`)
var coverageBadgeRe = regexp.MustCompile(`(?i)(coveralls|codecov)`)

func (c *SourceAnalysisCollector) Run(ctx context.Context, in Input) (interface{}, error) {
	if in.Downloaded == nil {
		return nil, nil
	}

	dir := in.Downloaded.PackageDir
	if dir == "" {
		dir = in.Downloaded.RootDir
	}

	out := &model.SourceAnalysis{}
	out.Files.ReadmeSize = fileSizeAny(dir, in.Downloaded.RootDir, "readme.md", "README.md", "Readme.md", "README")
	out.Files.HasNpmIgnore = pathExistsAny(dir, in.Downloaded.RootDir, ".npmignore")
	out.Files.HasGitIgnore = pathExistsAny(dir, in.Downloaded.RootDir, ".gitignore")
	out.Files.HasChangelog = pathExistsAny(dir, in.Downloaded.RootDir, "CHANGELOG.md", "CHANGELOG", "HISTORY.md")
	out.Files.TestsSize = testsDirSize(dir)

	out.RepositorySize = dirSize(in.Downloaded.RootDir)
	out.Linters = detectLinters(dir, in.Downloaded.RootDir)

	readme := readFileAny(dir, in.Downloaded.RootDir, "readme.md", "README.md", "Readme.md", "README")
	out.Badges = extractBadges(readme)
	out.Coverage = probeCoverage(ctx, out.Badges)

	out.OutdatedDependencies = checkOutdated(ctx, in)
	out.DependenciesVulnerable = checkVulnerabilities(ctx, in)
	out.HasLockfile = in.Downloaded.HadLockfile

	return out, nil
}

func fileSizeAny(preferred, fallback string, names ...string) int64 {
	for _, name := range names {
		if info, err := os.Stat(filepath.Join(preferred, name)); err == nil {
			return info.Size()
		}
	}
	if fallback != preferred {
		for _, name := range names {
			if info, err := os.Stat(filepath.Join(fallback, name)); err == nil {
				return info.Size()
			}
		}
	}
	return 0
}

func readFileAny(preferred, fallback string, names ...string) string {
	for _, name := range names {
		if data, err := os.ReadFile(filepath.Join(preferred, name)); err == nil {
			return string(data)
		}
	}
	if fallback != preferred {
		for _, name := range names {
			if data, err := os.ReadFile(filepath.Join(fallback, name)); err == nil {
				return string(data)
			}
		}
	}
	return ""
}

func pathExistsAny(preferred, fallback string, names ...string) bool {
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(preferred, name)); err == nil {
			return true
		}
	}
	if fallback != preferred {
		for _, name := range names {
			if _, err := os.Stat(filepath.Join(fallback, name)); err == nil {
				return true
			}
		}
	}
	return false
}

func testsDirSize(dir string) int64 {
	var total int64
	for _, candidate := range []string{"test", "tests", "__tests__", "spec"} {
		total += dirSize(filepath.Join(dir, candidate))
	}
	return total
}

func dirSize(root string) int64 {
	var total int64
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

func detectLinters(preferred, fallback string) []string {
	seen := map[string]bool{}
	var out []string
	for _, dir := range []string{preferred, fallback} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if kind, ok := lintersConfigFiles[entry.Name()]; ok && !seen[kind] {
				seen[kind] = true
				out = append(out, kind)
			}
		}
	}
	return out
}

func extractBadges(readme string) []string {
	matches := badgeRe.FindAllStringSubmatch(readme, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func probeCoverage(ctx context.Context, badges []string) *float64 {
	for _, badge := range badges {
		if !coverageBadgeRe.MatchString(badge) {
			continue
		}
		req := httpclient.NewRequest("GET", badge)
		req.RetryCount = 0
		resp, err := httpclient.Execute(ctx, req)
		if err != nil || !resp.IsSuccess() {
			continue
		}
		if pct, ok := parseCoveragePercent(resp.BodyString); ok {
			return &pct
		}
	}
	return nil
}

var percentRe = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)

func parseCoveragePercent(body string) (float64, bool) {
	m := percentRe.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	var pct float64
	if _, err := fmt.Sscanf(m[1], "%f", &pct); err != nil {
		return 0, false
	}
	return pct / 100, true
}

// checkOutdated asks the registry's dist-tags endpoint, once per declared
// dependency, which of Manifest.Dependencies have a latest release newer
// than the declared range's base version (see isOutdated), and returns dependency name → latest version for
// each one found outdated. A single dependency's check failing (network
// error, unparseable range) is skipped rather than aborting the whole
// dependency set, consistent with this collector's other best-effort
// outbound checks.
func checkOutdated(ctx context.Context, in Input) map[string]string {
	out := make(map[string]string)
	if in.RegistryStatsURL == "" {
		return out
	}
	for dep, declaredRange := range in.Manifest.Dependencies {
		latest, err := fetchLatestVersion(ctx, in.RegistryStatsURL, dep)
		if err != nil || latest == "" {
			continue
		}
		if isOutdated(declaredRange, latest) {
			out[dep] = latest
		}
	}
	return out
}

func fetchLatestVersion(ctx context.Context, registryStatsURL, name string) (string, error) {
	url := fmt.Sprintf("%s/-/package/%s/dist-tags", registryStatsURL, name)
	req := httpclient.NewRequest("GET", url)
	resp, err := httpclient.Execute(ctx, req)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("dist-tags: status %d for %s", resp.StatusCode, name)
	}
	var tags map[string]string
	if err := json.Unmarshal(resp.Body, &tags); err != nil {
		return "", err
	}
	return tags["latest"], nil
}

var semverRangePrefixRe = regexp.MustCompile(`^[\^~>=<\s]+`)

// isOutdated reports whether latest is newer than the base version named in
// declaredRange (after stripping the range's ^/~/>=/etc. prefix). Ranges or
// versions this can't parse as plain major.minor.patch (workspace:
// protocols, "*", tags) are treated as not outdated: a conservative skip
// beats a false positive from a mis-parsed range.
func isOutdated(declaredRange, latest string) bool {
	declared, ok1 := parseSemver(semverRangePrefixRe.ReplaceAllString(strings.TrimSpace(declaredRange), ""))
	actual, ok2 := parseSemver(latest)
	if !ok1 || !ok2 {
		return false
	}
	return compareSemver(actual, declared) > 0
}

type semverTriple struct{ major, minor, patch int }

func parseSemver(v string) (semverTriple, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i] // drop prerelease/build metadata
	}
	parts := strings.SplitN(v, ".", 3)
	if parts[0] == "" {
		return semverTriple{}, false
	}
	var t semverTriple
	var err error
	if t.major, err = strconv.Atoi(parts[0]); err != nil {
		return semverTriple{}, false
	}
	if len(parts) > 1 {
		if t.minor, err = strconv.Atoi(parts[1]); err != nil {
			return semverTriple{}, false
		}
	}
	if len(parts) > 2 {
		if t.patch, err = strconv.Atoi(parts[2]); err != nil {
			return semverTriple{}, false
		}
	}
	return t, true
}

func compareSemver(a, b semverTriple) int {
	switch {
	case a.major != b.major:
		return a.major - b.major
	case a.minor != b.minor:
		return a.minor - b.minor
	default:
		return a.patch - b.patch
	}
}

func checkVulnerabilities(ctx context.Context, in Input) []string {
	if in.VulnScannerURL == "" || len(in.Manifest.Dependencies) == 0 {
		return []string{}
	}
	names := make([]string, 0, len(in.Manifest.Dependencies))
	for dep := range in.Manifest.Dependencies {
		names = append(names, dep)
	}
	body, err := json.Marshal(struct {
		Dependencies []string `json:"dependencies"`
	}{Dependencies: names})
	if err != nil {
		return nil
	}
	req := httpclient.NewRequest("POST", in.VulnScannerURL)
	req.JSONBody = string(body)
	resp, err := httpclient.Execute(ctx, req)
	if err != nil || resp.IsServerError() {
		return nil
	}
	var parsed struct {
		Vulnerable []string `json:"vulnerable"`
	}
	if json.Unmarshal(resp.Body, &parsed) != nil {
		return []string{}
	}
	return parsed.Vulnerable
}
