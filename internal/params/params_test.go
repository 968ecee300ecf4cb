package params

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	testCases := []struct {
		Query      string
		WantLimit  int
		WantPage   int
		WantOffset int
	}{
		{"", 20, 1, 0},
		{"limit=50&page=3", 50, 3, 100},
		{"limit=500", 100, 1, 0},
		{"limit=-1&page=0", 20, 1, 0},
		{"limit=abc&page=x", 20, 1, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.Query, func(t *testing.T) {
			q, err := url.ParseQuery(tc.Query)
			require.NoError(t, err)
			p := ParsePagination(q)
			assert.Equal(t, tc.WantLimit, p.Limit)
			assert.Equal(t, tc.WantPage, p.Page)
			assert.Equal(t, tc.WantOffset, p.Offset)
		})
	}
}

func TestComputeMeta(t *testing.T) {
	p := Pagination{Limit: 20, Page: 2, Offset: 20}
	p.ComputeMeta(45)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasPrev)
	assert.True(t, p.HasNext)

	p = Pagination{Limit: 20, Page: 1}
	p.ComputeMeta(0)
	assert.Zero(t, p.TotalPages)
	assert.False(t, p.HasNext)
}

func TestParseTime(t *testing.T) {
	sast := time.FixedZone("SAST", 2*60*60)
	q := url.Values{"since": {"2025-06-01"}, "at": {"2025-06-01T10:00:00Z"}, "bad": {"June"}}

	got, err := ParseTime(q, "since", sast)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, sast)))

	got, err = ParseTime(q, "at", sast)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))

	got, err = ParseTime(q, "missing", sast)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseTime(q, "bad", sast)
	assert.EqualError(t, err, "invalid bad: expected YYYY-MM-DD or RFC 3339")
}

func TestParseInt(t *testing.T) {
	q := url.Values{"days": {"7"}, "big": {"400"}, "word": {"seven"}}

	n, err := ParseInt(q, "days", 5, 1, 30)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = ParseInt(q, "missing", 5, 1, 30)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = ParseInt(q, "big", 5, 1, 30)
	assert.Error(t, err)
	_, err = ParseInt(q, "word", 5, 1, 30)
	assert.Error(t, err)
}
