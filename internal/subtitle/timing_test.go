package subtitle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(startMs, endMs int64) TimingRecord {
	return TimingRecord{Start: TimestampFromMs(startMs), End: TimestampFromMs(endMs)}
}

func TestParseTiming(t *testing.T) {
	got, err := ParseTiming("00:02:16,612 --> 00:02:19,376")
	require.NoError(t, err)
	assert.Equal(t, Timestamp{Minutes: 2, Seconds: 16, Milliseconds: 612}, got.Start)
	assert.Equal(t, Timestamp{Minutes: 2, Seconds: 19, Milliseconds: 376}, got.End)
	assert.Equal(t, int64(2764), got.DurationMs())

	got, err = ParseTiming("  01:00:00,000 --> 01:00:01,500\r")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.DurationMs())
}

func TestParseTimingArrowSpacing(t *testing.T) {
	for _, line := range []string{
		"00:00:01,000-->00:00:04,000",
		"00:00:01,000  -->\t00:00:04,000",
	} {
		got, err := ParseTiming(line)
		require.NoError(t, err, line)
		assert.Equal(t, int64(3000), got.DurationMs())
		assert.Equal(t, "00:00:01,000 --> 00:00:04,000", FormatTiming(got))
	}
}

func TestParseTimingRejects(t *testing.T) {
	lines := []string{
		"00:00:01 --> 00:00:04",
		"00:00:01,000 -> 00:00:04,000",
		"00:00:01.000 --> 00:00:04,000",
		"0:00:01,000 --> 00:00:04,000",
		"00:00:01,000 --> 00:00:04,0000",
		"00:60:01,000 --> 00:00:04,000",
		"00:00:61,000 --> 00:00:04,000",
		"00:00:01,000 --> 00:00:04,000 X:1",
		"",
	}
	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			_, err := ParseTiming(line)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedTiming))
			assert.Contains(t, err.Error(), fmt.Sprintf("%q", line))
		})
	}
}

func TestTimingRoundTrip(t *testing.T) {
	lines := []string{
		"00:00:00,000 --> 00:00:00,001",
		"00:00:01,000 --> 00:00:04,000",
		"12:34:56,789 --> 23:59:59,999",
		"99:59:59,999 --> 00:00:00,000",
	}
	for _, line := range lines {
		r, err := ParseTiming(line)
		require.NoError(t, err)
		assert.Equal(t, line, FormatTiming(r))

		again, err := ParseTiming(FormatTiming(r))
		require.NoError(t, err)
		assert.Equal(t, r, again)
	}

	for ms := int64(0); ms < 360_000_000; ms += 7_919_311 {
		r := rec(ms, ms+1234)
		again, err := ParseTiming(FormatTiming(r))
		require.NoError(t, err)
		assert.Equal(t, r, again)
	}
}

func TestValidateSequence(t *testing.T) {
	entries := []Entry{
		{Index: 1, Timing: rec(1000, 4000)},
		{Index: 2, Timing: rec(3500, 3500)},
		{Index: 3, Timing: rec(5000, 8000)},
	}

	issues := ValidateSequence(entries)
	assert.Equal(t, []string{
		"entry 1: overlaps with entry 2",
		"entry 2: invalid duration (0ms)",
	}, issues)

	assert.Empty(t, ValidateSequence([]Entry{{Index: 1, Timing: rec(0, 1)}}))
	assert.Empty(t, ValidateSequence(nil))
}

func TestPreserveKeepsTiming(t *testing.T) {
	original := []Entry{
		{Index: 1, Text: "Hello", Timing: rec(1000, 4000)},
		{Index: 2, Text: "World", Timing: rec(5000, 8000)},
	}

	out, err := Preserve(original, []string{"  Salam ", "Donya"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i := range out {
		assert.Equal(t, original[i].Index, out[i].Index)
		assert.Equal(t, original[i].Timing, out[i].Timing)
		assert.True(t, out[i].Translated)
		assert.NoError(t, out[i].Err)
	}
	assert.Equal(t, "Salam", out[0].Text)
	assert.Equal(t, "Donya", out[1].Text)
	assert.Equal(t, "Hello", original[0].Text)
}

func TestPreserveCountMismatch(t *testing.T) {
	_, err := Preserve([]Entry{{Index: 1, Timing: rec(0, 1000)}}, []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCountMismatch))
}

func TestPreserveFallbackEntry(t *testing.T) {
	broken := TimingRecord{Start: Timestamp{Minutes: 75}, End: Timestamp{Seconds: 2}}
	original := []Entry{
		{Index: 1, Text: "ok", Timing: rec(0, 1000)},
		{Index: 0, Text: "bad index", Timing: rec(1000, 2000)},
		{Index: 3, Text: "bad timing", Timing: broken},
	}

	out, err := Preserve(original, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.NoError(t, out[0].Err)

	assert.Error(t, out[1].Err)
	assert.Equal(t, 2, out[1].Index)
	assert.Equal(t, rec(1000, 2000), out[1].Timing)
	assert.Equal(t, "b", out[1].Text)

	assert.Error(t, out[2].Err)
	assert.Equal(t, 3, out[2].Index)
	assert.Equal(t, DefaultTiming, out[2].Timing)
	assert.Equal(t, "c", out[2].Text)
}

func TestStatistics(t *testing.T) {
	entries := []Entry{
		{Index: 1, Timing: rec(1000, 4000)},
		{Index: 2, Timing: rec(5000, 8000)},
		{Index: 3, Timing: rec(7000, 9000)},
	}

	st := Statistics(entries)
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, int64(8000), st.TotalDurationMs)
	assert.InDelta(t, 8000.0/3, st.AvgDurationMs, 0.001)
	assert.Equal(t, int64(2000), st.MinDurationMs)
	assert.Equal(t, int64(3000), st.MaxDurationMs)
	assert.InDelta(t, 0.0, st.AvgGapMs, 0.001)
	assert.Equal(t, 1, st.OverlapCount)
	assert.Equal(t, 1, st.IssueCount)

	assert.Equal(t, Stats{}, Statistics(nil))
}
