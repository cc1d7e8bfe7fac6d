// Package aggregator periodically recomputes corpus-wide min/mean/max
// statistics over every Evaluation dimension, the rolling baseline Scorer
// normalizes each package's evaluation against. Grounded on
// db/couchdb_bulk.go's paging idiom (Store.EachAnalysisDoc carries that
// forward) and scheduled with robfig/cron/v3, same as Observer.Stale.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pkgsignal.dev/analyzer/common"
	"pkgsignal.dev/analyzer/store"
)

// Config tunes the aggregator's scan schedule and concurrency.
type Config struct {
	Schedule    string // cron expression; e.g. "@every 6h"
	Concurrency int    // bounded concurrency across the corpus scan
	PageSize    int
}

// DefaultConfig matches the spec's example concurrency (50).
func DefaultConfig() Config {
	return Config{
		Schedule:    "@every 6h",
		Concurrency: 50,
		PageSize:    200,
	}
}

// Aggregator recomputes and persists the single Aggregation document.
type Aggregator struct {
	Store  *store.Store
	Config Config

	cron *cron.Cron
}

// New builds an Aggregator, defaulting any zero Config fields.
func New(st *store.Store, cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	return &Aggregator{Store: st, Config: cfg}
}

// Run schedules Sweep on Config.Schedule and blocks until ctx is
// cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	a.cron = cron.New()
	_, err := a.cron.AddFunc(a.Config.Schedule, func() {
		if err := a.Sweep(ctx); err != nil {
			common.Logger.WithError(err).Error("aggregator: sweep failed")
		}
	})
	if err != nil {
		return err
	}
	a.cron.Start()
	defer a.cron.Stop()

	<-ctx.Done()
	return nil
}

// dimensionNames are the twelve flat Evaluation members the aggregation
// tracks min/mean/max for, named the way Scorer reads them back out.
var dimensionNames = []string{
	"quality.carefulness", "quality.tests", "quality.dependenciesHealth", "quality.branding",
	"popularity.communityInterest", "popularity.downloadsCount", "popularity.downloadsAcceleration", "popularity.dependentsCount",
	"maintenance.recentCommits", "maintenance.commitsFrequency", "maintenance.openIssues", "maintenance.issuesDistribution",
}

// dimensionValues extracts the flat values named in dimensionNames out of
// one Evaluation.
func dimensionValues(e *store.Evaluation) map[string]float64 {
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

// runningStat accumulates min/mean/max across a stream of values without
// holding them all in memory, mean computed as a running average.
type runningStat struct {
	min, max, sum float64
	count         int64
}

func (r *runningStat) add(v float64) {
	if r.count == 0 {
		r.min, r.max = v, v
	} else {
		if v < r.min {
			r.min = v
		}
		if v > r.max {
			r.max = v
		}
	}
	r.sum += v
	r.count++
}

func (r *runningStat) toDimensionStat() store.DimensionStat {
	mean := 0.0
	if r.count > 0 {
		mean = r.sum / float64(r.count)
	}
	return store.DimensionStat{Min: r.min, Mean: mean, Max: r.max, Count: r.count}
}

// Sweep streams every AnalysisDoc, bounded-concurrency, folding each
// present Evaluation into per-dimension running stats, and persists the
// result as the Aggregation document. Docs with no Evaluation (failed
// analyses) are skipped entirely — their dimensions are absent, not
// zeroed, per spec §4.11.
func (a *Aggregator) Sweep(ctx context.Context) error {
	var mu sync.Mutex
	stats := make(map[string]*runningStat, len(dimensionNames))
	for _, name := range dimensionNames {
		stats[name] = &runningStat{}
	}

	sem := make(chan struct{}, a.Config.Concurrency)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	err := a.Store.EachAnalysisDoc(ctx, a.Config.PageSize, func(doc *store.AnalysisDoc) error {
		if doc.Evaluation == nil {
			return nil
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(e *store.Evaluation) {
			defer wg.Done()
			defer func() { <-sem }()
			values := dimensionValues(e)
			mu.Lock()
			for name, v := range values {
				stats[name].add(v)
			}
			mu.Unlock()
		}(doc.Evaluation)
		return ctx.Err()
	})
	wg.Wait()
	if err != nil {
		errOnce.Do(func() { firstErr = err })
	}
	if firstErr != nil {
		return firstErr
	}

	agg := &store.Aggregation{
		Dimensions: make(map[string]store.DimensionStat, len(dimensionNames)),
		UpdatedAt:  time.Now(),
	}
	for name, s := range stats {
		agg.Dimensions[name] = s.toDimensionStat()
	}

	if existing, gerr := a.Store.GetAggregation(ctx); gerr == nil {
		agg.Rev = existing.Rev
	}
	return a.Store.PutAggregation(ctx, agg)
}
