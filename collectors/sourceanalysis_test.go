package collectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgsignal.dev/analyzer/model"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestSourceAnalysisCollectorReturnsNilWithoutDownload(t *testing.T) {
	c := &SourceAnalysisCollector{}
	out, err := c.Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSourceAnalysisCollectorDetectsFilesAndLinters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "# left-pad\n\n[![codecov](https://badges.example/codecov.png)](https://example.com)")
	writeFile(t, dir, ".eslintrc.json", "{}")
	writeFile(t, dir, ".npmignore", "")
	writeFile(t, dir, "CHANGELOG.md", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "test"), 0o755))
	writeFile(t, filepath.Join(dir, "test"), "index.test.js", "it('works', () => {})")

	c := &SourceAnalysisCollector{}
	in := Input{Downloaded: &model.Downloaded{RootDir: dir, PackageDir: dir}}

	out, err := c.Run(context.Background(), in)
	require.NoError(t, err)
	sa := out.(*model.SourceAnalysis)

	assert.True(t, sa.Files.HasNpmIgnore)
	assert.True(t, sa.Files.HasChangelog)
	assert.False(t, sa.Files.HasGitIgnore)
	assert.Contains(t, sa.Linters, "eslint")
	assert.Greater(t, sa.Files.ReadmeSize, int64(0))
	assert.Greater(t, sa.Files.TestsSize, int64(0))
	assert.Len(t, sa.Badges, 1)
}

func TestProbeCoverageParsesPercentFromBadgeTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("coverage: 87.5%"))
	}))
	defer srv.Close()

	pct := probeCoverage(context.Background(), []string{srv.URL + "/codecov-badge.svg"})
	require.NotNil(t, pct)
	assert.InDelta(t, 0.875, *pct, 0.0001)
}

func TestProbeCoverageReturnsNilWithoutCoverageBadge(t *testing.T) {
	pct := probeCoverage(context.Background(), []string{"https://example.com/build-status.svg"})
	assert.Nil(t, pct)
}

func TestCheckOutdatedFlagsNewerDependency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/-/package/left-pad/dist-tags":
			w.Write([]byte(`{"latest":"2.0.0"}`))
		case "/-/package/is-odd/dist-tags":
			w.Write([]byte(`{"latest":"3.0.0"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	in := Input{
		RegistryStatsURL: srv.URL,
		Manifest: model.Manifest{Dependencies: map[string]string{
			"left-pad": "^1.0.0",
			"is-odd":   "3.0.0",
		}},
	}

	out := checkOutdated(context.Background(), in)
	assert.Equal(t, "2.0.0", out["left-pad"])
	_, stillCurrent := out["is-odd"]
	assert.False(t, stillCurrent)
}

func TestCheckOutdatedWithoutRegistryStatsURLReturnsEmpty(t *testing.T) {
	in := Input{Manifest: model.Manifest{Dependencies: map[string]string{"left-pad": "^1.0.0"}}}
	out := checkOutdated(context.Background(), in)
	assert.Empty(t, out)
}

func TestIsOutdatedComparesSemverIgnoringRangePrefix(t *testing.T) {
	assert.True(t, isOutdated("^1.2.3", "1.3.0"))
	assert.False(t, isOutdated("^1.2.3", "1.2.3"))
	assert.False(t, isOutdated("^1.2.3", "1.2.0"))
	assert.False(t, isOutdated("workspace:*", "1.2.3"))
}

func TestParseSemverHandlesPrereleaseAndMissingParts(t *testing.T) {
	v, ok := parseSemver("v1.2.3-beta.1")
	require.True(t, ok)
	assert.Equal(t, semverTriple{1, 2, 3}, v)

	v, ok = parseSemver("2")
	require.True(t, ok)
	assert.Equal(t, semverTriple{2, 0, 0}, v)

	_, ok = parseSemver("")
	assert.False(t, ok)
}

func TestCompareSemver(t *testing.T) {
	assert.Equal(t, 0, compareSemver(semverTriple{1, 2, 3}, semverTriple{1, 2, 3}))
	assert.Greater(t, compareSemver(semverTriple{1, 3, 0}, semverTriple{1, 2, 9}), 0)
	assert.Less(t, compareSemver(semverTriple{1, 0, 0}, semverTriple{2, 0, 0}), 0)
}

func TestCheckVulnerabilitiesReturnsEmptyWithoutDependencies(t *testing.T) {
	out := checkVulnerabilities(context.Background(), Input{})
	assert.Empty(t, out)
}

func TestCheckVulnerabilitiesReportsFlaggedDependencies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"vulnerable":["left-pad"]}`))
	}))
	defer srv.Close()

	in := Input{
		VulnScannerURL: srv.URL,
		Manifest:       model.Manifest{Dependencies: map[string]string{"left-pad": "^1.0.0"}},
	}
	out := checkVulnerabilities(context.Background(), in)
	assert.Equal(t, []string{"left-pad"}, out)
}
