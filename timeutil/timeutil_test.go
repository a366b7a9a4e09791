package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloorDatetime(t *testing.T) {
	in := time.Date(2026, 7, 29, 14, 37, 52, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC), FloorDatetime(in))
}

func TestPosixTimeRoundTrip(t *testing.T) {
	in := time.Date(2026, 7, 29, 14, 37, 52, 0, time.UTC)
	assert.Equal(t, in, FromPosixTime(ToPosixTime(in)))
	assert.Equal(t, int64(0), ToPosixTime(time.Time{}))
	assert.True(t, FromPosixTime(0).IsZero())
}

func TestNavitiaCompactRoundTrip(t *testing.T) {
	in := time.Date(2026, 7, 29, 8, 30, 0, 0, time.UTC)
	s := ToNavitiaCompact(in)
	assert.Equal(t, "20260729T083000", s)

	parsed, err := ParseNavitiaCompact(s)
	require.NoError(t, err)
	assert.True(t, in.Equal(parsed))
}

func TestResolveLocalTimeSameDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	anchor := time.Date(2026, 7, 29, 6, 0, 0, 0, time.UTC) // 08:00 Paris (CEST)
	got := ResolveLocalTime(loc, anchor, 9, 15, 0)
	assert.Equal(t, time.Date(2026, 7, 29, 7, 15, 0, 0, time.UTC), got)
}

func TestResolveLocalTimeMidnightWraparound(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	// Trip departs 23:50 local, next stop is at 00:10 local the next day.
	anchor := time.Date(2026, 7, 29, 21, 50, 0, 0, time.UTC) // 23:50 CEST
	got := ResolveLocalTime(loc, anchor, 0, 10, 0)
	assert.Equal(t, time.Date(2026, 7, 29, 22, 10, 0, 0, time.UTC), got) // 00:10 CEST next day
}
