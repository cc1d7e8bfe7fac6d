package model

import "pkgsignal.dev/analyzer/common"

// Collector output keys, the map keys Collected is addressed by.
const (
	CollectedMetadata       = "metadata"
	CollectedRegistryStats  = "registryStats"
	CollectedGitHub         = "github"
	CollectedSourceAnalysis = "sourceAnalysis"
)

// Links is Metadata's set of outbound links, broken ones pruned by a HEAD
// probe before the result is produced.
type Links struct {
	NPM        string `json:"npm,omitempty"`
	Homepage   string `json:"homepage,omitempty"`
	Repository string `json:"repository,omitempty"`
	Bugs       string `json:"bugs,omitempty"`
}

// ReleaseBucket counts releases/downloads/commits in one trailing window.
type ReleaseBucket = common.TimeRange

// Metadata is the Metadata collector's output.
type Metadata struct {
	Name                string            `json:"name"`
	Version             string            `json:"version"`
	Description         string            `json:"description"`
	DateCreated         string            `json:"dateCreated,omitempty"`
	DateModified        string            `json:"dateModified,omitempty"`
	Publisher           string            `json:"publisher,omitempty"`
	Maintainers         []Maintainer      `json:"maintainers"`
	Repository          Repository        `json:"repository"`
	Homepage            string            `json:"homepage,omitempty"`
	License             string            `json:"license,omitempty"`
	Keywords            []string          `json:"keywords"`
	Dependencies        map[string]string `json:"dependencies"`
	DevDependencies     map[string]string `json:"devDependencies"`
	PeerDependencies    map[string]string `json:"peerDependencies"`
	BundledDependencies []string          `json:"bundledDependencies"`
	Releases            []ReleaseBucket   `json:"releases"`
	HasTestScript       bool              `json:"hasTestScript"`
	Deprecated          bool              `json:"deprecated"`
	Links               Links             `json:"links"`
}

// RegistryStats is the RegistryStats collector's output.
type RegistryStats struct {
	Downloads       []ReleaseBucket `json:"downloads"`
	DependentsCount int64           `json:"dependentsCount"`
	StarsCount      int64           `json:"starsCount"`
}

// Contributor is one GitHub contributor's commit count.
type Contributor struct {
	Username     string `json:"username"`
	CommitsCount int64  `json:"commitsCount"`
}

// CommitStatus is one deduplicated commit-status context at gitRef.
type CommitStatus struct {
	Context string `json:"context"`
	State   string `json:"state"`
}

// Issues is GitHub's issue-tracker snapshot.
type Issues struct {
	IsDisabled   bool    `json:"isDisabled"`
	Count        int64   `json:"count"`
	OpenCount    int64   `json:"openCount"`
	Distribution []int64 `json:"distribution,omitempty"`
}

// GitHub is the GitHub collector's output. A nil *GitHub (absent from
// Collected) means the repository was inaccessible/nonexistent/blocked.
type GitHub struct {
	Homepage           string          `json:"homepage,omitempty"`
	StarsCount         int64           `json:"starsCount"`
	ForksCount         int64           `json:"forksCount"`
	SubscribersCount   int64           `json:"subscribersCount"`
	Issues             Issues          `json:"issues"`
	Contributors       []Contributor   `json:"contributors"`
	Commits            []ReleaseBucket `json:"commits"`
	Statuses           []CommitStatus  `json:"statuses"`
}

// SourceAnalysisFiles reports which well-known files were found.
type SourceAnalysisFiles struct {
	ReadmeSize    int64 `json:"readmeSize"`
	TestsSize     int64 `json:"testsSize"`
	HasNpmIgnore  bool  `json:"hasNpmIgnore"`
	HasGitIgnore  bool  `json:"hasGitIgnore"`
	HasChangelog  bool  `json:"hasChangelog"`
}

// SourceAnalysis is the SourceAnalysis collector's output. Coverage is nil
// when no badge could be resolved; DependenciesVulnerable is nil when the
// scanner check failed. OutdatedDependencies lists only dependencies found
// outdated: lookups that fail are skipped, so a failed check is not told
// apart from one that found nothing.
type SourceAnalysis struct {
	Files                  SourceAnalysisFiles `json:"files"`
	RepositorySize         int64               `json:"repositorySize"`
	Linters                []string            `json:"linters"`
	Coverage               *float64            `json:"coverage,omitempty"`
	Badges                 []string            `json:"badges"`
	OutdatedDependencies   map[string]string   `json:"outdatedDependencies,omitempty"`
	DependenciesVulnerable []string            `json:"dependenciesVulnerabilities,omitempty"`
	HasLockfile            bool                `json:"hasLockfile"`
}
