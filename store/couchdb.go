package store

import (
	"context"
	"fmt"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // registers the "couch" driver

	"pkgsignal.dev/analyzer/errkind"
)

// maxConflictRetries bounds the optimistic-concurrency retry loop in Put.
const maxConflictRetries = 5

// Store wraps a single CouchDB database with the narrow Get/Put/Delete
// surface the pipeline needs, adapted from the teacher's CouchDBService
// (couchdb.go's SaveDocument/GetDocument/DeleteDocument) but with a genuine
// retry-on-conflict loop: the teacher's SaveDocument only retried the
// initial revision fetch, never a losing Put itself.
type Store struct {
	client *kivik.Client
	db     *kivik.DB
	name   string
}

// Config names the CouchDB server and database this Store talks to.
type Config struct {
	URL      string
	Database string
}

// New connects to CouchDB and ensures Database exists, creating it on
// first use.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := kivik.New("couch", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: connecting to %s: %w", cfg.URL, err)
	}

	exists, err := client.DBExists(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("store: checking database %s: %w", cfg.Database, err)
	}
	if !exists {
		if err := client.CreateDB(ctx, cfg.Database); err != nil {
			return nil, fmt.Errorf("store: creating database %s: %w", cfg.Database, err)
		}
	}

	return &Store{
		client: client,
		db:     client.DB(cfg.Database),
		name:   cfg.Database,
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Get reads the document at key into out, which must be a pointer. Returns
// errkind.PackageNotFound when the key doesn't exist.
func (s *Store) Get(ctx context.Context, key string, out interface{}) error {
	row := s.db.Get(ctx, key)
	if err := row.Err(); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return errkind.New(errkind.PackageNotFound, key)
		}
		return errkind.Wrap(errkind.PersistenceFatal, err)
	}
	if err := row.ScanDoc(out); err != nil {
		return errkind.Wrap(errkind.PersistenceFatal, fmt.Errorf("scanning %s: %w", key, err))
	}
	return nil
}

// revCarrier is implemented by every document type Store persists, so Put
// can re-stamp the winning revision onto the caller's struct after a
// conflict retry without the caller juggling it by hand.
type revCarrier interface {
	getRev() string
	setRev(rev string)
}

func (d *AnalysisDoc) getRev() string    { return d.Rev }
func (d *AnalysisDoc) setRev(rev string) { d.Rev = rev }

func (a *Aggregation) getRev() string    { return a.Rev }
func (a *Aggregation) setRev(rev string) { a.Rev = rev }

func (c *SeqCheckpoint) getRev() string    { return c.Rev }
func (c *SeqCheckpoint) setRev(rev string) { c.Rev = rev }

// Put writes doc (one of *AnalysisDoc, *Aggregation, *SeqCheckpoint, each
// carrying its own _id) under key, retrying up to maxConflictRetries times
// on a 409 conflict: re-fetch the current revision, re-apply doc's fields
// onto it, and retry. Backoff is linear and short since conflicts here are
// expected to be transient contention between the observer/aggregator and
// an overlapping analysis run, not sustained.
func (s *Store) Put(ctx context.Context, key string, doc revCarrier) error {
	put := func() (string, error) { return s.db.Put(ctx, key, doc) }
	isConflict := func(err error) bool { return kivik.HTTPStatus(err) == 409 }
	refetchRev := func() (string, error) { return s.currentRev(ctx, key) }
	wait := func(attempt int) error {
		select {
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rev, err := retryOnConflict(maxConflictRetries, put, isConflict, refetchRev, doc.setRev, wait)
	if err == nil {
		doc.setRev(rev)
		return nil
	}
	if ce, ok := err.(*conflictExhaustedError); ok {
		return errkind.New(errkind.PersistenceFatal, fmt.Sprintf("store: %s: %s", key, ce.Error()))
	}
	return errkind.Wrap(errkind.PersistenceFatal, fmt.Errorf("store: put %s: %w", key, err))
}

// conflictExhaustedError marks retryOnConflict giving up after maxAttempts
// consecutive 409s, as distinct from any other persistence failure.
type conflictExhaustedError struct {
	attempts int
	lastErr  error
}

func (e *conflictExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d conflict retries: %v", e.attempts, e.lastErr)
}

// retryOnConflict is the pure retry loop behind Put, extracted so the
// conflict/backoff/refetch behavior can be unit tested without a real or
// mocked CouchDB connection. put attempts one write; isConflict classifies
// put's error; refetchRev re-reads the current revision after a conflict;
// setRev re-applies it to the document before the next attempt; wait backs
// off between attempts (and can observe context cancellation).
func retryOnConflict(maxAttempts int, put func() (string, error), isConflict func(error) bool, refetchRev func() (string, error), setRev func(string), wait func(attempt int) error) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rev, err := put()
		if err == nil {
			return rev, nil
		}
		if !isConflict(err) {
			return "", err
		}

		lastErr = err
		currentRev, rerr := refetchRev()
		if rerr != nil {
			return "", rerr
		}
		setRev(currentRev)

		if attempt < maxAttempts-1 {
			if werr := wait(attempt); werr != nil {
				return "", werr
			}
		}
	}
	return "", &conflictExhaustedError{attempts: maxAttempts, lastErr: lastErr}
}

func (s *Store) currentRev(ctx context.Context, key string) (string, error) {
	row := s.db.Get(ctx, key)
	if err := row.Err(); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return "", nil
		}
		return "", err
	}
	var probe struct {
		Rev string `json:"_rev"`
	}
	if err := row.ScanDoc(&probe); err != nil {
		return "", err
	}
	return probe.Rev, nil
}

// Delete removes the document at key and rev. A 404 is treated as success
// since the end state (document gone) already holds.
func (s *Store) Delete(ctx context.Context, key, rev string) error {
	_, err := s.db.Delete(ctx, key, rev)
	if err != nil && kivik.HTTPStatus(err) != 404 {
		return errkind.Wrap(errkind.PersistenceFatal, fmt.Errorf("store: delete %s: %w", key, err))
	}
	return nil
}

// GetAnalysisDoc is a typed convenience wrapper over Get for the hot path
// (AnalysisEngine read-modify-write and Observer.Stale inspection).
func (s *Store) GetAnalysisDoc(ctx context.Context, name string) (*AnalysisDoc, error) {
	doc := &AnalysisDoc{}
	if err := s.Get(ctx, AnalysisDocID(name), doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// PutAnalysisDoc persists doc, assigning its ID from Name if unset.
func (s *Store) PutAnalysisDoc(ctx context.Context, doc *AnalysisDoc) error {
	if doc.ID == "" {
		doc.ID = AnalysisDocID(doc.Name)
	}
	return s.Put(ctx, doc.ID, doc)
}

// GetAggregation reads the single corpus-wide aggregation document,
// returning a zero-value Aggregation (no error) if it has never been
// written yet.
func (s *Store) GetAggregation(ctx context.Context) (*Aggregation, error) {
	agg := &Aggregation{}
	err := s.Get(ctx, AggregationDocID, agg)
	if errkind.Is(err, errkind.PackageNotFound) {
		agg.ID = AggregationDocID
		agg.Dimensions = map[string]DimensionStat{}
		return agg, nil
	}
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// PutAggregation persists the corpus-wide aggregation document.
func (s *Store) PutAggregation(ctx context.Context, agg *Aggregation) error {
	agg.ID = AggregationDocID
	return s.Put(ctx, AggregationDocID, agg)
}

// GetSeqCheckpoint reads the observer's last-processed sequence, returning
// an empty-valued checkpoint (no error) if the observer has never run.
func (s *Store) GetSeqCheckpoint(ctx context.Context) (*SeqCheckpoint, error) {
	cp := &SeqCheckpoint{}
	err := s.Get(ctx, SeqCheckpointDocID, cp)
	if errkind.Is(err, errkind.PackageNotFound) {
		cp.ID = SeqCheckpointDocID
		return cp, nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// PutSeqCheckpoint persists the observer's last-processed sequence.
func (s *Store) PutSeqCheckpoint(ctx context.Context, cp *SeqCheckpoint) error {
	cp.ID = SeqCheckpointDocID
	return s.Put(ctx, SeqCheckpointDocID, cp)
}

