package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header string
		start  int64
		end    int64
		total  int64
		fails  bool
	}{
		{header: "bytes 0-4/5", start: 0, end: 4, total: 5},
		{header: "0-4/5", start: 0, end: 4, total: 5},
		{header: "0-4", start: 0, end: 4, total: -1},
		{header: "5-9/*", start: 5, end: 9, total: -1},
		{header: "bytes 5-9", start: 5, end: 9, total: -1},
		{header: "junk", fails: true},
		{header: "9-5", fails: true},
		{header: "-3-5", fails: true},
		{header: "a-b/c", fails: true},
	}
	for _, tc := range tests {
		start, end, total, err := parseContentRange(tc.header)
		if tc.fails {
			assert.Error(t, err, tc.header)
			continue
		}
		require.NoError(t, err, tc.header)
		assert.Equal(t, tc.start, start, tc.header)
		assert.Equal(t, tc.end, end, tc.header)
		assert.Equal(t, tc.total, total, tc.header)
	}
}

func TestParseRangeHeader(t *testing.T) {
	const size = 10

	t.Run("absent", func(t *testing.T) {
		_, _, ok, _ := parseRangeHeader("", size)
		assert.False(t, ok)
	})

	t.Run("simple", func(t *testing.T) {
		start, end, ok, valid := parseRangeHeader("bytes=2-5", size)
		assert.True(t, ok)
		assert.True(t, valid)
		assert.Equal(t, int64(2), start)
		assert.Equal(t, int64(5), end)
	})

	t.Run("open ended", func(t *testing.T) {
		start, end, ok, valid := parseRangeHeader("bytes=3-", size)
		assert.True(t, ok)
		assert.True(t, valid)
		assert.Equal(t, int64(3), start)
		assert.Equal(t, int64(9), end)
	})

	t.Run("suffix", func(t *testing.T) {
		start, end, ok, valid := parseRangeHeader("bytes=-4", size)
		assert.True(t, ok)
		assert.True(t, valid)
		assert.Equal(t, int64(6), start)
		assert.Equal(t, int64(9), end)
	})

	t.Run("end clamped to size", func(t *testing.T) {
		_, end, _, valid := parseRangeHeader("bytes=0-99", size)
		assert.True(t, valid)
		assert.Equal(t, int64(9), end)
	})

	t.Run("past the end", func(t *testing.T) {
		_, _, ok, valid := parseRangeHeader("bytes=20-30", size)
		assert.True(t, ok)
		assert.False(t, valid)
	})

	t.Run("multi range unsupported", func(t *testing.T) {
		_, _, ok, valid := parseRangeHeader("bytes=0-1,4-5", size)
		assert.True(t, ok)
		assert.False(t, valid)
	})
}
