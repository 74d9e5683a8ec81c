package subtitle

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrMalformedTiming = errors.New("malformed timing line")
	ErrCountMismatch   = errors.New("entry count mismatch")
)

// HH:MM:SS,mmm --> HH:MM:SS,mmm; the arrow may carry any whitespace, or none.
var timingPattern = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}),(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2}),(\d{3})$`)

// DefaultTiming is used by fallback entries whose original timing is unusable.
var DefaultTiming = TimingRecord{
	Start: Timestamp{},
	End:   Timestamp{Seconds: 1},
}

// ParseTiming parses a timing line. Surrounding whitespace is ignored.
func ParseTiming(line string) (TimingRecord, error) {
	trimmed := strings.TrimSpace(line)
	m := timingPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return TimingRecord{}, fmt.Errorf("%w: %q", ErrMalformedTiming, line)
	}

	n := make([]int, 8)
	for i := range n {
		// The pattern guarantees digits.
		n[i], _ = strconv.Atoi(m[i+1])
	}

	rec := TimingRecord{
		Start: Timestamp{Hours: n[0], Minutes: n[1], Seconds: n[2], Milliseconds: n[3]},
		End:   Timestamp{Hours: n[4], Minutes: n[5], Seconds: n[6], Milliseconds: n[7]},
	}
	if !rec.Valid() {
		return TimingRecord{}, fmt.Errorf("%w: field out of range in %q", ErrMalformedTiming, line)
	}
	return rec, nil
}

func FormatTiming(r TimingRecord) string {
	return r.Start.String() + " --> " + r.End.String()
}

// ValidateSequence reports non-positive durations and overlaps with the next entry.
// The result is advisory; an empty slice means no issues.
func ValidateSequence(entries []Entry) []string {
	var issues []string
	for i, e := range entries {
		if d := e.Timing.DurationMs(); d <= 0 {
			issues = append(issues, fmt.Sprintf("entry %d: invalid duration (%dms)", i+1, d))
		}
		if i+1 < len(entries) && e.Timing.End.TotalMs() > entries[i+1].Timing.Start.TotalMs() {
			issues = append(issues, fmt.Sprintf("entry %d: overlaps with entry %d", i+1, i+2))
		}
	}
	return issues
}

// Preserve rebuilds entries with translated text while keeping index and timing.
// A malformed original still yields an entry at its position, marked with Err.
func Preserve(original []Entry, translated []string) ([]Entry, error) {
	if len(original) != len(translated) {
		return nil, fmt.Errorf("%w: %d entries, %d translations", ErrCountMismatch, len(original), len(translated))
	}

	out := make([]Entry, len(original))
	for i, orig := range original {
		text := strings.TrimSpace(translated[i])

		if err := checkEntry(orig); err != nil {
			fallback := Entry{
				Index:      orig.Index,
				Text:       text,
				Timing:     orig.Timing,
				Translated: true,
				Err:        err,
			}
			if fallback.Index <= 0 {
				fallback.Index = i + 1
			}
			if !fallback.Timing.Valid() {
				fallback.Timing = DefaultTiming
			}
			out[i] = fallback
			continue
		}

		out[i] = Entry{
			Index:      orig.Index,
			Text:       text,
			Timing:     orig.Timing,
			Translated: true,
		}
	}
	return out, nil
}

func checkEntry(e Entry) error {
	if e.Index <= 0 {
		return fmt.Errorf("invalid index %d", e.Index)
	}
	if !e.Timing.Valid() {
		return fmt.Errorf("%w: %s", ErrMalformedTiming, FormatTiming(e.Timing))
	}
	return nil
}

// Stats aggregates timing over a sequence of entries.
type Stats struct {
	Count           int
	TotalDurationMs int64
	AvgDurationMs   float64
	MinDurationMs   int64
	MaxDurationMs   int64
	AvgGapMs        float64
	OverlapCount    int
	IssueCount      int
}

func Statistics(entries []Entry) Stats {
	st := Stats{Count: len(entries)}
	if len(entries) == 0 {
		return st
	}

	var gapSum int64
	for i, e := range entries {
		d := e.Timing.DurationMs()
		st.TotalDurationMs += d
		if i == 0 || d < st.MinDurationMs {
			st.MinDurationMs = d
		}
		if i == 0 || d > st.MaxDurationMs {
			st.MaxDurationMs = d
		}
		if i+1 < len(entries) {
			gap := entries[i+1].Timing.Start.TotalMs() - e.Timing.End.TotalMs()
			gapSum += gap
			if gap < 0 {
				st.OverlapCount++
			}
		}
	}

	st.AvgDurationMs = float64(st.TotalDurationMs) / float64(len(entries))
	if len(entries) > 1 {
		st.AvgGapMs = float64(gapSum) / float64(len(entries)-1)
	}
	st.IssueCount = len(ValidateSequence(entries))
	return st
}
