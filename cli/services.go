package cli

import (
	"context"
	"fmt"

	"pkgsignal.dev/analyzer/aggregator"
	"pkgsignal.dev/analyzer/analysis"
	"pkgsignal.dev/analyzer/config"
	"pkgsignal.dev/analyzer/observer"
	"pkgsignal.dev/analyzer/queue"
	"pkgsignal.dev/analyzer/scorer"
	"pkgsignal.dev/analyzer/store"
	"pkgsignal.dev/analyzer/tokendealer"
)

// envPrefix namespaces every environment variable this pipeline reads,
// e.g. ANALYZER_REGISTRY_URL.
const envPrefix = "ANALYZER"

// services bundles the long-lived components every daemon command
// shares, built once from config.PipelineConfig. Individual commands
// pull out only what they need.
type services struct {
	cfg     config.PipelineConfig
	store   *store.Store
	dealer  *tokendealer.Dealer
	engine  *analysis.Engine
	scorer  *scorer.Scorer
	aggr    *aggregator.Aggregator
	stale   *observer.Stale
	realtim *observer.Realtime
	pub     *queue.RabbitMQService
	stat    *queue.Stat // nil when cfg.StatRedisURL is unset
}

// statsSnapshot reports the admin /stats payload. Returns an empty map
// when no stat side channel is configured, rather than nil, so the
// JSON response is always `{}` at worst instead of `null`.
func (s *services) statsSnapshot() map[string]interface{} {
	if s.stat == nil {
		return map[string]interface{}{}
	}
	pending, err := s.stat.Pending(context.Background())
	if err != nil {
		return map[string]interface{}{"queue_pending_error": err.Error()}
	}
	return map[string]interface{}{"queue_pending": pending}
}

// newServices loads PipelineConfig and constructs every component that
// reads from it, wiring OnPackageNotFound so a deleted package's
// ScoreDoc is removed alongside its AnalysisDoc without analysis
// depending on scorer directly.
func newServices(ctx context.Context) (*services, error) {
	cfg := config.LoadPipelineConfig(envPrefix)

	st, err := store.New(ctx, store.Config{URL: cfg.AnalysisDBURL, Database: cfg.AnalysisDBName})
	if err != nil {
		return nil, fmt.Errorf("cli: connecting to analysis store: %w", err)
	}

	dealer := tokendealer.New(cfg.GitHubDealerTokens())

	indexer := &scorer.HTTPSearchIndexer{BaseURL: cfg.SearchIndexURL}
	sc := scorer.New(st, indexer)

	engine := analysis.New(&analysis.HTTPRegistryClient{BaseURL: cfg.RegistryURL}, dealer, st, analysis.Config{
		StagingRoot:      cfg.StagingRoot,
		RegistryStatsURL: cfg.RegistryStatsURL,
		IssueStatsURL:    cfg.IssueStatsURL,
		VulnScannerURL:   cfg.VulnScannerURL,
		GiteaToken:       cfg.GiteaToken,
		GitlabToken:      cfg.GitlabToken,
		Blacklist:        cfg.Blacklist,
		GitRefOverrides:  cfg.GitRefOverrides,
	})
	engine.OnPackageNotFound = func(name string) {
		if err := sc.Remove(ctx, name); err != nil {
			// logged inside Remove's caller context via common.Logger in scorer itself would
			// duplicate; this path is rare enough (PACKAGE_NOT_FOUND) that a best-effort
			// removal failure is tolerated silently by the daemon loop.
			_ = err
		}
	}

	aggr := aggregator.New(st, aggregator.Config{
		Schedule:    cfg.AggregatorSchedule,
		Concurrency: cfg.AggregatorConcurrency,
	})

	pub, err := queue.NewRabbitMQService(queue.Config{URL: cfg.BrokerURL, QueueName: cfg.QueueName})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("cli: connecting to broker: %w", err)
	}

	var stat *queue.Stat
	if cfg.StatRedisURL != "" {
		stat, err = queue.NewStat(ctx, queue.StatConfig{RedisURL: cfg.StatRedisURL, QueueName: cfg.QueueName})
		if err != nil {
			pub.Close()
			st.Close()
			return nil, fmt.Errorf("cli: connecting to queue stat redis: %w", err)
		}
	}

	enqueue := func(ctx context.Context, name, reason string) error {
		if err := pub.PublishMessage(queue.Message{Name: name, Reason: reason}); err != nil {
			return err
		}
		if stat != nil {
			_ = stat.Pushed(ctx)
		}
		return nil
	}

	stale := observer.NewStale(st, observer.StaleConfig{
		Schedule:        cfg.ObserverStaleSchedule,
		StalenessWindow: cfg.StalenessWindow,
	}, enqueue)

	realtime := observer.NewRealtime(st, observer.RealtimeConfig{
		BufferSize:       cfg.ObserverBufferSize,
		BufferFlushDelay: cfg.ObserverBufferFlushDelay,
		RestartDelay:     cfg.ObserverRestartDelay,
	}, func(ctx context.Context, names []string) error {
		for _, name := range names {
			if err := enqueue(ctx, name, "changed"); err != nil {
				return err
			}
		}
		return nil
	})

	return &services{
		cfg:     cfg,
		store:   st,
		dealer:  dealer,
		engine:  engine,
		scorer:  sc,
		aggr:    aggr,
		stale:   stale,
		realtim: realtime,
		pub:     pub,
		stat:    stat,
	}, nil
}

func (s *services) Close() {
	if s.pub != nil {
		s.pub.Close()
	}
	if s.stat != nil {
		s.stat.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}
