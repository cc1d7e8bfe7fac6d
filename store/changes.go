package store

import (
	"context"
	"fmt"

	kivik "github.com/go-kivik/kivik/v4"

	"pkgsignal.dev/analyzer/errkind"
)

// Change is one entry off the database's change feed: a document id, the
// seq it landed at, and whether it was a deletion.
type Change struct {
	ID      string
	Seq     string
	Deleted bool
}

// WatchChanges opens a continuous changes feed starting at since ("now"
// starts at the current update sequence) and streams Change values on the
// returned channel until ctx is cancelled or the feed errors. Adapted
// from the teacher's db package (couchdb_changes.go's WatchChanges), but
// collapsed to the one feed shape Observer.Realtime actually needs:
// continuous, docs excluded (the observer only cares about ids), no
// selector/filter.
func (s *Store) WatchChanges(ctx context.Context, since string) (<-chan Change, <-chan error) {
	changeCh := make(chan Change, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(changeCh)
		defer close(errCh)

		params := map[string]interface{}{"feed": "continuous"}
		if since != "" {
			params["since"] = since
		}

		rows := s.db.Changes(ctx, kivik.Params(params))
		defer rows.Close()

		for rows.Next() {
			select {
			case changeCh <- Change{ID: rows.ID(), Seq: rows.Seq(), Deleted: rows.Deleted()}:
			case <-ctx.Done():
				return
			}
		}

		if err := rows.Err(); err != nil && ctx.Err() == nil {
			select {
			case errCh <- errkind.Wrap(errkind.TransientNetwork, fmt.Errorf("store: changes feed: %w", err)):
			default:
			}
		}
	}()

	return changeCh, errCh
}

// LastSequence reports the database's current update sequence, the value
// Observer.Realtime resolves "now" to when no SeqCheckpoint exists yet.
func (s *Store) LastSequence(ctx context.Context) (string, error) {
	info, err := s.db.Stats(ctx)
	if err != nil {
		return "", errkind.Wrap(errkind.PersistenceFatal, fmt.Errorf("store: fetching db stats: %w", err))
	}
	return info.UpdateSeq, nil
}
