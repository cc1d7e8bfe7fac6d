// Package scorer maps a package's Evaluation plus the corpus-wide
// Aggregation into a normalized [0,1] score and indexes it into the
// search engine. Pure math grounded on original_source/'s scoring
// formulas (reimplemented, not translated, since the original is in
// another language), plus a thin httpclient-based SearchIndexer for the
// index/remove side effects.
package scorer

import (
	"context"
	"math"

	"pkgsignal.dev/analyzer/store"
)

// SearchIndexer is the outbound write side of scoring: indexing a
// ScoreDoc, or removing one. An interface so Scorer can be tested without
// a live search engine.
type SearchIndexer interface {
	Index(ctx context.Context, doc store.ScoreDoc) error
	Remove(ctx context.Context, name string) error
}

// Scorer computes and persists scores for analyzed packages.
type Scorer struct {
	Store   *store.Store
	Indexer SearchIndexer
}

// New builds a Scorer over st and indexer.
func New(st *store.Store, indexer SearchIndexer) *Scorer {
	return &Scorer{Store: st, Indexer: indexer}
}

// Score computes analysis's score against the current corpus-wide
// Aggregation and indexes the resulting ScoreDoc, per spec §4.12 steps
// 1-4. Returns the computed Score for callers (e.g. the `analyze`
// command) that want to print it.
func (s *Scorer) Score(ctx context.Context, analysis *store.AnalysisDoc) (*store.Score, error) {
	if analysis.Evaluation == nil {
		return nil, nil
	}

	agg, err := s.Store.GetAggregation(ctx)
	if err != nil {
		return nil, err
	}

	values := flatten(analysis.Evaluation)
	normed := make(map[string]float64, len(values))
	for name, v := range values {
		normed[name] = normalizedMember(v, agg.Dimensions[name])
	}

	quality := 0.35*normed["quality.carefulness"] + 0.35*normed["quality.tests"] +
		0.2*normed["quality.dependenciesHealth"] + 0.1*normed["quality.branding"]
	popularity := 0.3*normed["popularity.communityInterest"] + 0.25*normed["popularity.downloadsCount"] +
		0.2*normed["popularity.downloadsAcceleration"] + 0.25*normed["popularity.dependentsCount"]
	maintenance := 0.2*normed["maintenance.recentCommits"] + 0.3*normed["maintenance.commitsFrequency"] +
		0.2*normed["maintenance.openIssues"] + 0.3*normed["maintenance.issuesDistribution"]
	final := 0.3*quality + 0.35*popularity + 0.35*maintenance

	score := &store.Score{
		Final: final,
		Detail: store.ScoreDetail{
			Quality:     quality,
			Popularity:  popularity,
			Maintenance: maintenance,
		},
	}

	doc := store.ScoreDoc{
		Name:  analysis.Name,
		Score: *score,
	}
	if err := s.Indexer.Index(ctx, doc); err != nil {
		return score, err
	}
	return score, nil
}

// Remove deletes any ScoreDoc for name. This is the Scorer's genuine
// destructor: it is never aliased to Score/index, unlike the probable
// source bug the spec calls out in its open question.
func (s *Scorer) Remove(ctx context.Context, name string) error {
	return s.Indexer.Remove(ctx, name)
}

// flatten extracts the same twelve dimension keys the aggregator writes,
// off of one Evaluation.
func flatten(e *store.Evaluation) map[string]float64 {
	return map[string]float64{
		"quality.carefulness":              e.Quality.Carefulness,
		"quality.tests":                    e.Quality.Tests,
		"quality.dependenciesHealth":       e.Quality.DependenciesHealth,
		"quality.branding":                 e.Quality.Branding,
		"popularity.communityInterest":     e.Popularity.CommunityInterest,
		"popularity.downloadsCount":        e.Popularity.DownloadsCount,
		"popularity.downloadsAcceleration": e.Popularity.DownloadsAcceleration,
		"popularity.dependentsCount":       e.Popularity.DependentsCount,
		"maintenance.recentCommits":        e.Maintenance.RecentCommits,
		"maintenance.commitsFrequency":     e.Maintenance.CommitsFrequency,
		"maintenance.openIssues":           e.Maintenance.OpenIssues,
		"maintenance.issuesDistribution":   e.Maintenance.IssuesDistribution,
	}
}

// normalizedMember computes s = σ(-12·normValue + 12·normMean), per spec
// §4.12 step 2, literally: normValue = (value-min)/max, normMean =
// (mean-min)/max (not (max-min) — the spec's own wording, preserved as
// written). A zero-count dimension (no corpus data yet) or a zero max
// degrades to the plain logistic of 0, keeping the result defined.
func normalizedMember(value float64, stat store.DimensionStat) float64 {
	if stat.Count == 0 || stat.Max == 0 {
		return sigmoid(0)
	}
	normValue := (value - stat.Min) / stat.Max
	normMean := (stat.Mean - stat.Min) / stat.Max
	return sigmoid(-12*normValue + 12*normMean)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
