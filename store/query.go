package store

import (
	"context"
	"fmt"
	"time"

	kivik "github.com/go-kivik/kivik/v4"

	"pkgsignal.dev/analyzer/errkind"
)

// StaleSelector finds AnalysisDocs whose FinishedAt predates cutoff, the
// query Observer.Stale runs on its periodic sweep to catch packages the
// realtime CDC follower missed (a dropped change, a skipped seq). Mirrors
// the teacher's Mango selector shape in couchdb_query.go's Find.
func StaleSelector(cutoff time.Time, limit int) map[string]interface{} {
	return map[string]interface{}{
		"finishedAt": map[string]interface{}{
			"$lt": cutoff.Format(time.RFC3339),
		},
	}
}

// FindStaleAnalysisDocs pages through AnalysisDocs older than cutoff,
// bookmark-style via skip, stopping once a page returns fewer than
// pageSize results. Callers drive re-analysis enqueueing per result.
func (s *Store) FindStaleAnalysisDocs(ctx context.Context, cutoff time.Time, pageSize int, fn func(*AnalysisDoc) error) error {
	skip := 0
	for {
		selector := StaleSelector(cutoff, pageSize)
		rows := s.db.Find(ctx, selector, kivik.Params(map[string]interface{}{
			"limit": pageSize,
			"skip":  skip,
			"sort":  []map[string]string{{"finishedAt": "asc"}},
		}))

		n := 0
		for rows.Next() {
			var doc AnalysisDoc
			if err := rows.ScanDoc(&doc); err != nil {
				rows.Close()
				return errkind.Wrap(errkind.PersistenceFatal, fmt.Errorf("store: scanning stale doc: %w", err))
			}
			n++
			if err := fn(&doc); err != nil {
				rows.Close()
				return err
			}
		}
		err := rows.Err()
		rows.Close()
		if err != nil {
			return errkind.Wrap(errkind.PersistenceFatal, fmt.Errorf("store: stale query page at skip=%d: %w", skip, err))
		}
		if n < pageSize {
			return nil
		}
		skip += pageSize

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// EachAnalysisDoc streams every AnalysisDoc in the store via CouchDB's
// primary index (AllDocs with include_docs), the full-corpus scan the
// Aggregator runs to recompute min/mean/max per dimension. Pages of
// pageSize keep memory bounded across ~250k packages.
func (s *Store) EachAnalysisDoc(ctx context.Context, pageSize int, fn func(*AnalysisDoc) error) error {
	startKey := "package!"
	endKey := "package!￰"

	for {
		rows := s.db.AllDocs(ctx,
			kivik.Param("include_docs", true),
			kivik.Param("start_key", startKey),
			kivik.Param("end_key", endKey),
			kivik.Param("limit", pageSize+1),
		)

		var last string
		n := 0
		for rows.Next() {
			var doc AnalysisDoc
			if err := rows.ScanDoc(&doc); err != nil {
				rows.Close()
				return errkind.Wrap(errkind.PersistenceFatal, fmt.Errorf("store: scanning corpus doc: %w", err))
			}
			n++
			if n == pageSize+1 {
				// lookahead row: it becomes the next page's startKey and is
				// processed there; skip.
				last = doc.ID
				continue
			}
			if err := fn(&doc); err != nil {
				rows.Close()
				return err
			}
			last = doc.ID
		}
		err := rows.Err()
		rows.Close()
		if err != nil {
			return errkind.Wrap(errkind.PersistenceFatal, fmt.Errorf("store: corpus scan page after %s: %w", startKey, err))
		}
		if n <= pageSize {
			return nil
		}
		startKey = last

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
