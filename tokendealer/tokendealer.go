// Package tokendealer rotates a pool of API credentials (GitHub tokens)
// across concurrent collectors, quarantining any token an upstream 403/429
// response marks exhausted until its reported reset time passes. Grounded
// on the rate.Limiter idiom the teacher uses in its admin HTTP middleware
// (http/server.go's rate-limit middleware, adminsrv's RateLimiter), but
// applied here to credential selection rather than inbound request shaping.
package tokendealer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkgsignal.dev/analyzer/errkind"
)

// Token is one pooled credential, grouped (e.g. "github") so unrelated
// credential pools never interfere with each other's exhaustion state.
type Token struct {
	Value string
	Group string
}

type entry struct {
	token      Token
	exhausted  bool
	reset      time.Time
	lastUsedAt time.Time
}

// Usage reports one token's pool-visible state for the check-credentials
// command.
type Usage struct {
	Token     string
	Group     string
	Exhausted bool
	Reset     time.Time
}

// Dealer is a thread-safe, process-wide pool of credentials. All mutation
// is serialized under a single mutex: the pool is small (tens of tokens)
// and selection is not a hot path relative to the network calls each
// token gates.
type Dealer struct {
	mu      sync.Mutex
	entries []*entry
	cursor  map[string]int // round-robin position per group
	now     func() time.Time
}

// New builds a Dealer over tokens. Tokens sharing a Group rotate together.
func New(tokens []Token) *Dealer {
	d := &Dealer{
		cursor: make(map[string]int),
		now:    time.Now,
	}
	for _, t := range tokens {
		d.entries = append(d.entries, &entry{token: t})
	}
	return d
}

// Release is returned by WithToken; call it with the exhaustion epoch the
// upstream reported (zero time if the call succeeded and the token
// remains usable).
type Release func(exhaustedUntil time.Time)

// WithToken selects a non-exhausted token from group, round-robin among
// candidates. If none are available and wait is false, it returns
// errkind.NoTokensAvailable. If wait is true, it blocks until the
// soonest-resetting token in the group passes its reset time or ctx is
// cancelled.
func (d *Dealer) WithToken(ctx context.Context, group string, wait bool) (Token, Release, error) {
	for {
		tok, idx, ok := d.selectToken(group)
		if ok {
			entryRef := d.entries[idx]
			release := func(exhaustedUntil time.Time) {
				d.mu.Lock()
				defer d.mu.Unlock()
				if exhaustedUntil.IsZero() {
					entryRef.exhausted = false
					return
				}
				entryRef.exhausted = true
				entryRef.reset = exhaustedUntil
			}
			return tok, release, nil
		}

		if !wait {
			return Token{}, nil, errkind.New(errkind.NoTokensAvailable, fmt.Sprintf("no available tokens in group %q", group))
		}

		wakeAt := d.nextReset(group)
		if wakeAt.IsZero() {
			return Token{}, nil, errkind.New(errkind.NoTokensAvailable, fmt.Sprintf("no tokens configured for group %q", group))
		}

		d.waitUntil(ctx, wakeAt)
		if err := ctx.Err(); err != nil {
			return Token{}, nil, err
		}
	}
}

func (d *Dealer) waitUntil(ctx context.Context, t time.Time) {
	dur := t.Sub(d.now())
	if dur <= 0 {
		return
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (d *Dealer) selectToken(group string) (Token, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var candidates []int
	for i, e := range d.entries {
		if e.token.Group != group {
			continue
		}
		if e.exhausted && now.Before(e.reset) {
			continue
		}
		e.exhausted = false
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return Token{}, 0, false
	}

	start := d.cursor[group] % len(candidates)
	idx := candidates[start]
	d.cursor[group] = (start + 1) % len(candidates)
	d.entries[idx].lastUsedAt = now
	return d.entries[idx].token, idx, true
}

func (d *Dealer) nextReset(group string) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	var earliest time.Time
	for _, e := range d.entries {
		if e.token.Group != group {
			continue
		}
		if earliest.IsZero() || e.reset.Before(earliest) {
			earliest = e.reset
		}
	}
	return earliest
}

// Usage reports every token's exhaustion state for group, used by the
// check-credentials command.
func (d *Dealer) Usage(group string) []Usage {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var out []Usage
	for _, e := range d.entries {
		if e.token.Group != group {
			continue
		}
		out = append(out, Usage{
			Token:     e.token.Value,
			Group:     e.token.Group,
			Exhausted: e.exhausted && now.Before(e.reset),
			Reset:     e.reset,
		})
	}
	return out
}
