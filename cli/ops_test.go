package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskTokenShowsFirstAndLastFour(t *testing.T) {
	assert.Equal(t, "ghp_…cdef", maskToken("ghp_1234567890abcdef"))
}

func TestMaskTokenFullyMasksShortTokens(t *testing.T) {
	assert.Equal(t, "****", maskToken("short"))
	assert.Equal(t, "****", maskToken(""))
}

func TestMaskTokenBoundaryAtEightChars(t *testing.T) {
	assert.Equal(t, "****", maskToken("12345678"))
	assert.Equal(t, "1234…6789", maskToken("123456789"))
}
