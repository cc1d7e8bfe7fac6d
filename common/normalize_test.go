package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeClampsAtEnds(t *testing.T) {
	bps := []Breakpoint{{0, 0}, {10, 1}}
	assert.Equal(t, 0.0, Normalize(-5, bps))
	assert.Equal(t, 1.0, Normalize(100, bps))
}

func TestNormalizeInterpolatesLinearly(t *testing.T) {
	bps := []Breakpoint{{0, 0}, {10, 1}}
	assert.InDelta(t, 0.5, Normalize(5, bps), 1e-9)
}

func TestNormalizeMonotoneBetweenBreakpoints(t *testing.T) {
	bps := []Breakpoint{{0, 1}, {30, 0.7}, {90, 0}}
	prev := Normalize(0, bps)
	for x := 1.0; x <= 90; x++ {
		cur := Normalize(x, bps)
		assert.LessOrEqual(t, cur, prev+1e-9)
		prev = cur
	}
}

func TestNormalizeEmptyBreakpoints(t *testing.T) {
	assert.Equal(t, 0.0, Normalize(5, nil))
}

func TestSumInWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := TrailingWindow(now, 30)
	SumInWindow(&r, now.AddDate(0, 0, -10), 5)
	SumInWindow(&r, now.AddDate(0, 0, -40), 5)
	assert.Equal(t, int64(5), r.Count)
}
