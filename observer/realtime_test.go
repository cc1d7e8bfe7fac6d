package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatcherDeduplicatesByName(t *testing.T) {
	b := newBatcher(10)
	b.add("left-pad", "1")
	b.add("left-pad", "2")
	b.add("cross-spawn", "3")

	assert.Equal(t, 2, b.len())
	names, lastSeq := b.drain()
	assert.ElementsMatch(t, []string{"left-pad", "cross-spawn"}, names)
	assert.Equal(t, "3", lastSeq)
}

func TestBatcherFullAtCapacity(t *testing.T) {
	b := newBatcher(2)
	assert.False(t, b.full())
	b.add("a", "1")
	b.add("b", "2")
	assert.True(t, b.full())
}

func TestBatcherDrainResetsState(t *testing.T) {
	b := newBatcher(10)
	b.add("a", "1")
	b.drain()
	assert.Equal(t, 0, b.len())

	b.add("a", "2")
	assert.Equal(t, 1, b.len(), "drain must reset dedup state, not just the name slice")
}

func TestDefaultRealtimeConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultRealtimeConfig()
	assert.Equal(t, 1000, cfg.BufferSize)
	assert.Equal(t, 2000000000, int(cfg.BufferFlushDelay))
	assert.Equal(t, 5000000000, int(cfg.RestartDelay))
}
