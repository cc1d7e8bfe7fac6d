package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pkgsignal.dev/analyzer/store"
)

func TestRunningStatTracksMinMeanMax(t *testing.T) {
	r := &runningStat{}
	r.add(0.2)
	r.add(0.8)
	r.add(0.5)

	got := r.toDimensionStat()
	assert.Equal(t, store.DimensionStat{Min: 0.2, Mean: 0.5, Max: 0.8, Count: 3}, got)
}

func TestRunningStatEmptyStaysZeroed(t *testing.T) {
	r := &runningStat{}
	got := r.toDimensionStat()
	assert.Equal(t, int64(0), got.Count)
	assert.Equal(t, 0.0, got.Mean)
}

func TestDimensionValuesCoversAllTwelveMembers(t *testing.T) {
	e := &store.Evaluation{}
	values := dimensionValues(e)
	assert.Len(t, values, len(dimensionNames))
	for _, name := range dimensionNames {
		_, ok := values[name]
		assert.True(t, ok, "missing dimension %s", name)
	}
}
