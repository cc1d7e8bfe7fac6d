package collectors

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgsignal.dev/analyzer/model"
)

func TestAuthorStringFromPlainString(t *testing.T) {
	raw, err := json.Marshal("Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", authorString(raw))
}

func TestAuthorStringFromObject(t *testing.T) {
	raw, err := json.Marshal(map[string]string{"name": "Jane Doe", "email": "jane@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", authorString(raw))
}

func TestAuthorStringEmptyInput(t *testing.T) {
	assert.Equal(t, "", authorString(nil))
}

func TestHasMeaningfulTestScript(t *testing.T) {
	assert.False(t, hasMeaningfulTestScript(nil))
	assert.False(t, hasMeaningfulTestScript(map[string]string{"test": `echo "Error: no test specified" && exit 1`}))
	assert.True(t, hasMeaningfulTestScript(map[string]string{"test": "jest"}))
}

func TestWebURLFromRepoStripsGitDecorations(t *testing.T) {
	assert.Equal(t, "https://github.com/left-pad/left-pad", webURLFromRepo("git+https://github.com/left-pad/left-pad.git"))
}

func TestBuildLinksExtractsBugsURLFromObject(t *testing.T) {
	extra := rawVersionExtra{Bugs: json.RawMessage(`{"url":"https://github.com/left-pad/left-pad/issues"}`)}
	m := model.Manifest{Name: "left-pad", Homepage: "https://left-pad.io"}

	links := buildLinks(m, extra)
	assert.Equal(t, "https://www.npmjs.com/package/left-pad", links.NPM)
	assert.Equal(t, "https://left-pad.io", links.Homepage)
	assert.Equal(t, "https://github.com/left-pad/left-pad/issues", links.Bugs)
}

func TestBuildLinksExtractsBugsURLFromPlainString(t *testing.T) {
	extra := rawVersionExtra{Bugs: json.RawMessage(`"https://github.com/left-pad/left-pad/issues"`)}
	links := buildLinks(model.Manifest{Name: "left-pad"}, extra)
	assert.Equal(t, "https://github.com/left-pad/left-pad/issues", links.Bugs)
}

func TestReleaseBucketCountsVersionsInWindowSkippingReservedKeys(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	doc := model.RawPackageDoc{
		Time: map[string]time.Time{
			"created":  now.AddDate(-1, 0, 0),
			"modified": now,
			"1.0.0":    now.AddDate(0, 0, -10),
			"0.9.0":    now.AddDate(0, 0, -400),
		},
	}

	bucket := releaseBucket(doc, now, 30)
	assert.Equal(t, int64(1), bucket.Count)
}
