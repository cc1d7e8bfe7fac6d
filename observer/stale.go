package observer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"pkgsignal.dev/analyzer/common"
	"pkgsignal.dev/analyzer/store"
)

// StaleConfig tunes the periodic staleness sweep.
type StaleConfig struct {
	Schedule         string        // cron expression; e.g. "@every 1h"
	StalenessWindow  time.Duration // AnalysisDocs older than this get re-enqueued
	PageSize         int
}

// DefaultStaleConfig matches the spec's example staleness window.
func DefaultStaleConfig() StaleConfig {
	return StaleConfig{
		Schedule:        "@every 1h",
		StalenessWindow: 25 * 24 * time.Hour,
		PageSize:        200,
	}
}

// EnqueueFunc pushes one package name onto the analysis queue.
type EnqueueFunc func(ctx context.Context, name, reason string) error

// Stale periodically scans AnalysisDocs whose finishedAt predates the
// staleness window and re-enqueues them, the sweep that guarantees
// eventual re-analysis of packages the realtime observer missed.
type Stale struct {
	Store   *store.Store
	Config  StaleConfig
	Enqueue EnqueueFunc

	cron *cron.Cron
}

// NewStale builds a Stale scanner, defaulting any zero Config fields.
func NewStale(st *store.Store, cfg StaleConfig, enqueue EnqueueFunc) *Stale {
	def := DefaultStaleConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = def.StalenessWindow
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	return &Stale{Store: st, Config: cfg, Enqueue: enqueue}
}

// Run schedules the sweep on Config.Schedule and blocks until ctx is
// cancelled.
func (s *Stale) Run(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.Config.Schedule, func() {
		if err := s.sweep(ctx); err != nil {
			common.Logger.WithError(err).Error("observer: stale sweep failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	defer s.cron.Stop()

	<-ctx.Done()
	return nil
}

// sweep runs one pass of the staleness scan, usable standalone (e.g. from
// a one-shot operational command) without the cron scheduler.
func (s *Stale) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.Config.StalenessWindow)
	count := 0
	err := s.Store.FindStaleAnalysisDocs(ctx, cutoff, s.Config.PageSize, func(doc *store.AnalysisDoc) error {
		count++
		return s.Enqueue(ctx, doc.Name, "stale")
	})
	common.Logger.WithField("count", count).Info("observer: stale sweep enqueued packages")
	return err
}

// SweepOnce runs a single staleness scan immediately, used by the
// operational `enqueue-outdated` command.
func (s *Stale) SweepOnce(ctx context.Context) error {
	return s.sweep(ctx)
}
