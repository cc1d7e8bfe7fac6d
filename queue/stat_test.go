package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestStat(t *testing.T) *Stat {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewStat(context.Background(), StatConfig{RedisURL: "redis://" + mr.Addr(), QueueName: "analysis"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStatPushedAndSettled(t *testing.T) {
	s := newTestStat(t)
	ctx := context.Background()

	require.NoError(t, s.Pushed(ctx))
	require.NoError(t, s.Pushed(ctx))
	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, pending)

	require.NoError(t, s.Settled(ctx))
	pending, err = s.Pending(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, pending)
}

func TestStatPendingDefaultsZero(t *testing.T) {
	s := newTestStat(t)
	pending, err := s.Pending(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, pending)
}
