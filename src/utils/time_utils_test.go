package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResetTime(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 42, 13, 0, time.UTC)
	require.Equal(t, ts, ResetTime(ts.Add(750*time.Millisecond), "second"))
	require.Equal(t, time.Date(2024, 1, 1, 10, 42, 0, 0, time.UTC), ResetTime(ts, "minute"))
	require.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), ResetTime(ts, "hour"))
	require.Equal(t, ts, ResetTime(ts, "week"))
}

func TestSplitWindows(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 16)

	windows := SplitWindows(start, end, 7*24*time.Hour)
	require.Len(t, windows, 3)
	require.Equal(t, start, windows[0].Start)
	require.Equal(t, windows[0].End, windows[1].Start)
	require.Equal(t, end, windows[2].End)
	require.Equal(t, 2*24*time.Hour, windows[2].End.Sub(windows[2].Start))

	require.Nil(t, SplitWindows(end, start, time.Hour))
	require.Nil(t, SplitWindows(start, end, 0))
}

func TestUnionStrings(t *testing.T) {
	require.Equal(t, []string{"BTC", "ETH", "SOL"}, UnionStrings([]string{"BTC", "ETH"}, []string{"", "ETH", "SOL"}))
	require.Nil(t, UnionStrings())
}
