// Package store is the Persistence component: optimistic-concurrency
// document reads/writes keyed package!<name>, observer!lastSeq, and
// scoring!aggregation. Adapted from the teacher's db package (couchdb.go's
// SaveDocument/GetDocument, couchdb_query.go's Mango Find, couchdb_bulk.go's
// paging), generalized from the teacher's FlowProcessDocument shape to the
// AnalysisDoc/Aggregation/SeqCheckpoint documents this pipeline owns.
package store

import "time"

// AnalysisError carries the closed error kind (errkind.Kind, stored as a
// plain string) alongside a human-readable message.
type AnalysisError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Evaluation is the fixed-shape vector of quality/popularity/maintenance
// sub-scores produced by the evaluators package.
type Evaluation struct {
	Quality struct {
		Carefulness        float64 `json:"carefulness"`
		Tests              float64 `json:"tests"`
		DependenciesHealth float64 `json:"dependenciesHealth"`
		Branding           float64 `json:"branding"`
	} `json:"quality"`
	Popularity struct {
		CommunityInterest     float64 `json:"communityInterest"`
		DownloadsCount        float64 `json:"downloadsCount"`
		DownloadsAcceleration float64 `json:"downloadsAcceleration"`
		DependentsCount       float64 `json:"dependentsCount"`
	} `json:"popularity"`
	Maintenance struct {
		RecentCommits       float64 `json:"recentCommits"`
		CommitsFrequency    float64 `json:"commitsFrequency"`
		OpenIssues          float64 `json:"openIssues"`
		IssuesDistribution  float64 `json:"issuesDistribution"`
	} `json:"maintenance"`
}

// AnalysisDoc is stored per package, keyed package!<name>.
type AnalysisDoc struct {
	ID          string                     `json:"_id"`
	Rev         string                     `json:"_rev,omitempty"`
	Name        string                     `json:"name"`
	StartedAt   time.Time                  `json:"startedAt"`
	FinishedAt  time.Time                  `json:"finishedAt"`
	Collected   map[string]interface{}     `json:"collected,omitempty"`
	Evaluation  *Evaluation                `json:"evaluation,omitempty"`
	Error       *AnalysisError             `json:"error,omitempty"`
	CollectedAt map[string]time.Time       `json:"collectedAt,omitempty"`
}

// AnalysisDocID builds the document key for a package name.
func AnalysisDocID(name string) string { return "package!" + name }

// DimensionStat holds corpus-wide min/mean/max for one Evaluation member.
type DimensionStat struct {
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	Count int64   `json:"count"`
}

// Aggregation is the single document keyed scoring!aggregation.
type Aggregation struct {
	ID         string                   `json:"_id"`
	Rev        string                   `json:"_rev,omitempty"`
	Dimensions map[string]DimensionStat `json:"dimensions"`
	UpdatedAt  time.Time                `json:"updatedAt"`
}

const AggregationDocID = "scoring!aggregation"

// SeqCheckpoint is the single document keyed observer!lastSeq.
type SeqCheckpoint struct {
	ID    string `json:"_id"`
	Rev   string `json:"_rev,omitempty"`
	Value string `json:"value"`
}

const SeqCheckpointDocID = "observer!lastSeq"

// ScoreDoc is indexed in the search engine, document id = package name.
type ScoreDoc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Keywords    []string               `json:"keywords,omitempty"`
	Score       Score                  `json:"score"`
	Flags       map[string]interface{} `json:"flags,omitempty"`
}

type Score struct {
	Final  float64      `json:"final"`
	Detail ScoreDetail  `json:"detail"`
}

type ScoreDetail struct {
	Quality     float64 `json:"quality"`
	Popularity  float64 `json:"popularity"`
	Maintenance float64 `json:"maintenance"`
}
