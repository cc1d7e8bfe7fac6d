package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConflictErr stands in for the error kivik.HTTPStatus would classify
// as 409; the test's isConflict closure matches on it directly rather than
// reaching into kivik, keeping this test free of any database dependency.
type fakeConflictErr struct{}

func (fakeConflictErr) Error() string { return "conflict" }

func noWait(int) error { return nil }

func TestRetryOnConflictSucceedsFirstTry(t *testing.T) {
	calls := 0
	put := func() (string, error) {
		calls++
		return "1-abc", nil
	}
	isConflict := func(error) bool { return false }
	refetch := func() (string, error) { t.Fatal("refetch should not be called"); return "", nil }

	rev, err := retryOnConflict(5, put, isConflict, refetch, func(string) {}, noWait)
	require.NoError(t, err)
	assert.Equal(t, "1-abc", rev)
	assert.Equal(t, 1, calls)
}

func TestRetryOnConflictRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	var seenRev string
	put := func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", fakeConflictErr{}
		}
		return "4-winner", nil
	}
	isConflict := func(err error) bool {
		_, ok := err.(fakeConflictErr)
		return ok
	}
	refetchCalls := 0
	refetch := func() (string, error) {
		refetchCalls++
		return "3-current", nil
	}
	setRev := func(rev string) { seenRev = rev }

	rev, err := retryOnConflict(5, put, isConflict, refetch, setRev, noWait)
	require.NoError(t, err)
	assert.Equal(t, "4-winner", rev)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, refetchCalls)
	assert.Equal(t, "3-current", seenRev)
}

func TestRetryOnConflictExhaustsAttempts(t *testing.T) {
	put := func() (string, error) { return "", fakeConflictErr{} }
	isConflict := func(error) bool { return true }
	refetch := func() (string, error) { return "x-rev", nil }

	_, err := retryOnConflict(5, put, isConflict, refetch, func(string) {}, noWait)
	require.Error(t, err)
	var exhausted *conflictExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 5, exhausted.attempts)
}

func TestRetryOnConflictPropagatesNonConflictError(t *testing.T) {
	wantErr := errors.New("boom")
	put := func() (string, error) { return "", wantErr }
	isConflict := func(error) bool { return false }
	refetch := func() (string, error) { t.Fatal("refetch should not be called"); return "", nil }

	_, err := retryOnConflict(5, put, isConflict, refetch, func(string) {}, noWait)
	assert.Equal(t, wantErr, err)
}

func TestRetryOnConflictStopsOnWaitError(t *testing.T) {
	waitErr := errors.New("context canceled")
	put := func() (string, error) { return "", fakeConflictErr{} }
	isConflict := func(error) bool { return true }
	refetch := func() (string, error) { return "r", nil }
	wait := func(int) error { return waitErr }

	_, err := retryOnConflict(5, put, isConflict, refetch, func(string) {}, wait)
	assert.Equal(t, waitErr, err)
}

func TestAnalysisDocIDFormat(t *testing.T) {
	assert.Equal(t, "package!left-pad", AnalysisDocID("left-pad"))
}
