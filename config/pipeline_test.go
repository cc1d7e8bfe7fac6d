package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKVSplitsOnEquals(t *testing.T) {
	got := parseKV([]string{"left-pad=archived, do not re-analyze", "event-stream=deprecated"})
	assert.Equal(t, "archived, do not re-analyze", got["left-pad"])
	assert.Equal(t, "deprecated", got["event-stream"])
	assert.Len(t, got, 2)
}

func TestParseKVSkipsMalformedEntries(t *testing.T) {
	got := parseKV([]string{"no-equals-sign", "=missing-key", "trimmed = value "})
	assert.Equal(t, "value", got["trimmed"])
	assert.Len(t, got, 1)
}

func TestParseKVEmptyInputReturnsEmptyMap(t *testing.T) {
	got := parseKV(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestParseFloatFallsBackOnInvalidInput(t *testing.T) {
	assert.Equal(t, 10.0, parseFloat("not-a-number"))
	assert.Equal(t, 2.5, parseFloat("2.5"))
}

func TestGitHubDealerTokensGroupsUnderGithub(t *testing.T) {
	cfg := PipelineConfig{GitHubTokens: []string{"token-a", "token-b"}}
	tokens := cfg.GitHubDealerTokens()
	assert.Len(t, tokens, 2)
	for _, tok := range tokens {
		assert.Equal(t, "github", tok.Group)
	}
	assert.Equal(t, "token-a", tokens[0].Value)
	assert.Equal(t, "token-b", tokens[1].Value)
}

func TestGitHubDealerTokensEmptyReturnsEmptySlice(t *testing.T) {
	cfg := PipelineConfig{}
	tokens := cfg.GitHubDealerTokens()
	assert.Empty(t, tokens)
}

func TestLoadYAMLStringMapParsesFlatMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.yaml")
	require := func(err error) {
		if err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
	}
	require(os.WriteFile(path, []byte("left-pad: archived, do not re-analyze\nevent-stream: deprecated\n"), 0o644))

	m, err := loadYAMLStringMap(path)
	assert.NoError(t, err)
	assert.Equal(t, "archived, do not re-analyze", m["left-pad"])
	assert.Equal(t, "deprecated", m["event-stream"])
}

func TestLoadYAMLStringMapMissingFileErrors(t *testing.T) {
	_, err := loadYAMLStringMap(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadPolicyMapPrefersFileOverEnvEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	if err := os.WriteFile(path, []byte("left-pad: main\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	t.Setenv("ANALYZER_GIT_REF_OVERRIDES_FILE", path)
	t.Setenv("ANALYZER_GIT_REF_OVERRIDES", "left-pad=develop")

	env := NewEnvConfig("ANALYZER")
	got := loadPolicyMap(env, "GIT_REF_OVERRIDES")
	assert.Equal(t, "main", got["left-pad"])
}

func TestLoadPolicyMapFallsBackToEnvEntries(t *testing.T) {
	t.Setenv("ANALYZER_BLACKLIST", "left-pad=archived")

	env := NewEnvConfig("ANALYZER")
	got := loadPolicyMap(env, "BLACKLIST")
	assert.Equal(t, "archived", got["left-pad"])
}
