// Package observer watches the source registry for change and staleness
// signals and pushes package names onto the analysis queue. Realtime is
// adapted from the teacher's db package (couchdb_changes.go's
// WatchChanges channel feed), wrapped with the buffer/flush/pause/resume
// state machine the spec names; Stale is a new periodic sweep scheduled
// with robfig/cron/v3, the same scheduling library http/server.go's
// maintenance tasks use.
package observer

import (
	"context"
	"time"

	"pkgsignal.dev/analyzer/common"
	"pkgsignal.dev/analyzer/store"
)

// RealtimeConfig tunes the CDC follower's batching and restart behavior.
type RealtimeConfig struct {
	BufferSize       int           // flush once the pending batch reaches this size
	BufferFlushDelay time.Duration // flush after this much inactivity
	RestartDelay     time.Duration // wait before resubscribing after a feed error
	DefaultSeq       string        // "now" resolution seed when no checkpoint exists; "" or "0" means resolve against the db's current seq
}

// DefaultRealtimeConfig matches the spec's stated defaults.
func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		BufferSize:       1000,
		BufferFlushDelay: 2 * time.Second,
		RestartDelay:     5 * time.Second,
	}
}

// OnPackages is called with one flushed batch of package names. Errors
// are logged, never propagated: the callback is expected to be
// idempotent and retry-safe (typically queue.RabbitMQService.PublishMessage
// for each name), per spec §4.9 step 2.
type OnPackages func(ctx context.Context, names []string) error

// Realtime is the CDC follower. Run blocks until ctx is cancelled,
// reconnecting on feed errors after RestartDelay.
type Realtime struct {
	Store  *store.Store
	Config RealtimeConfig
	OnFlush OnPackages
}

// NewRealtime builds a Realtime observer over st, defaulting any zero
// Config fields.
func NewRealtime(st *store.Store, cfg RealtimeConfig, onFlush OnPackages) *Realtime {
	def := DefaultRealtimeConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BufferFlushDelay <= 0 {
		cfg.BufferFlushDelay = def.BufferFlushDelay
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}
	return &Realtime{Store: st, Config: cfg, OnFlush: onFlush}
}

// Run follows the change feed until ctx is cancelled, restarting from the
// last checkpointed seq whenever the feed errors out.
func (r *Realtime) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		since, err := r.resolveSince(ctx)
		if err != nil {
			return err
		}

		err = r.followOnce(ctx, since)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			common.Logger.WithError(err).Warn("observer: change feed error, restarting after delay")
		}

		select {
		case <-time.After(r.Config.RestartDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// resolveSince reads the checkpoint, falling back to "now" (the db's
// current update sequence) when none has ever been written, per spec's
// "CDC defaultSeq=0 with no checkpoint → follower starts at now".
func (r *Realtime) resolveSince(ctx context.Context) (string, error) {
	cp, err := r.Store.GetSeqCheckpoint(ctx)
	if err != nil {
		return "", err
	}
	if cp.Value != "" {
		return cp.Value, nil
	}
	if r.Config.DefaultSeq != "" && r.Config.DefaultSeq != "0" {
		return r.Config.DefaultSeq, nil
	}
	return r.Store.LastSequence(ctx)
}

// followOnce subscribes to the change feed starting at since and runs the
// buffer/flush state machine until the feed closes, errors, or ctx is
// cancelled.
func (r *Realtime) followOnce(ctx context.Context, since string) error {
	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()

	changes, errs := r.Store.WatchChanges(feedCtx, since)

	buf := newBatcher(r.Config.BufferSize)
	timer := time.NewTimer(r.Config.BufferFlushDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case change, ok := <-changes:
			if !ok {
				return r.flushRemaining(ctx, buf)
			}
			if change.Deleted {
				continue
			}
			buf.add(change.ID, change.Seq)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if buf.full() {
				if err := r.flush(ctx, buf); err != nil {
					return err
				}
			} else {
				timer.Reset(r.Config.BufferFlushDelay)
			}

		case <-timer.C:
			if buf.len() > 0 {
				if err := r.flush(ctx, buf); err != nil {
					return err
				}
			}
			timer.Reset(r.Config.BufferFlushDelay)

		case err := <-errs:
			return err
		}
	}
}

func (r *Realtime) flushRemaining(ctx context.Context, buf *batcher) error {
	if buf.len() == 0 {
		return nil
	}
	return r.flush(ctx, buf)
}

// flush is the pause-submit-checkpoint-resume sequence of spec §4.9.
// "Pause" is implicit: followOnce's select loop does not read from the
// changes channel again until flush returns, so the CDC stream backs up
// against the store's own buffering rather than needing an explicit pause
// call.
func (r *Realtime) flush(ctx context.Context, buf *batcher) error {
	names, lastSeq := buf.drain()

	if err := r.OnFlush(ctx, names); err != nil {
		common.Logger.WithError(err).WithField("batchSize", len(names)).
			Warn("observer: onPackages callback failed, continuing (idempotent retry expected)")
	}

	if err := r.advanceCheckpoint(ctx, lastSeq); err != nil {
		return err
	}
	return nil
}

// advanceCheckpoint writes lastSeq with optimistic concurrency. A
// conflict means a second observer instance is also following the feed;
// that is logged, not fatal, and this observer simply continues from its
// own view.
func (r *Realtime) advanceCheckpoint(ctx context.Context, lastSeq string) error {
	cp, err := r.Store.GetSeqCheckpoint(ctx)
	if err != nil {
		return err
	}
	cp.Value = lastSeq
	if err := r.Store.PutSeqCheckpoint(ctx, cp); err != nil {
		common.Logger.WithError(err).Warn("observer: seq checkpoint conflict, likely a second observer running")
	}
	return nil
}

// batcher accumulates distinct package names for one pending flush,
// tracking the seq of the most recent change folded in.
type batcher struct {
	capacity int
	names    []string
	seen     map[string]bool
	lastSeq  string
}

func newBatcher(capacity int) *batcher {
	return &batcher{capacity: capacity, seen: make(map[string]bool, capacity)}
}

func (b *batcher) add(name, seq string) {
	if !b.seen[name] {
		b.seen[name] = true
		b.names = append(b.names, name)
	}
	b.lastSeq = seq
}

func (b *batcher) len() int  { return len(b.names) }
func (b *batcher) full() bool { return len(b.names) >= b.capacity }

func (b *batcher) drain() ([]string, string) {
	names, lastSeq := b.names, b.lastSeq
	b.names = nil
	b.seen = make(map[string]bool, b.capacity)
	return names, lastSeq
}
