package subtitle

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
)

// Reader is the interface for reading subtitle files
type Reader interface {
	Read(path string) (*File, error)
}

// Writer is the interface for writing subtitle files
type Writer interface {
	Write(path string, subtitle *File) error
}

// Timestamp is one side of a timing line.
type Timestamp struct {
	Hours        int
	Minutes      int
	Seconds      int
	Milliseconds int
}

// Valid reports whether every field fits the fixed-width timing format.
func (t Timestamp) Valid() bool {
	return t.Hours >= 0 && t.Hours <= 99 &&
		t.Minutes >= 0 && t.Minutes < 60 &&
		t.Seconds >= 0 && t.Seconds < 60 &&
		t.Milliseconds >= 0 && t.Milliseconds < 1000
}

// TotalMs is the timestamp expressed in milliseconds.
func (t Timestamp) TotalMs() int64 {
	return int64(t.Hours)*3_600_000 +
		int64(t.Minutes)*60_000 +
		int64(t.Seconds)*1_000 +
		int64(t.Milliseconds)
}

func (t Timestamp) Duration() time.Duration {
	return time.Duration(t.TotalMs()) * time.Millisecond
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%02d:%02d:%02d,%03d", t.Hours, t.Minutes, t.Seconds, t.Milliseconds)
}

// TimestampFromMs splits a millisecond offset into timestamp fields.
func TimestampFromMs(ms int64) Timestamp {
	if ms < 0 {
		ms = 0
	}
	return Timestamp{
		Hours:        int(ms / 3_600_000),
		Minutes:      int(ms % 3_600_000 / 60_000),
		Seconds:      int(ms % 60_000 / 1_000),
		Milliseconds: int(ms % 1_000),
	}
}

// TimingRecord is a start/end pair.
type TimingRecord struct {
	Start Timestamp
	End   Timestamp
}

func (r TimingRecord) Valid() bool {
	return r.Start.Valid() && r.End.Valid()
}

// DurationMs is end minus start; it may be zero or negative for broken input.
func (r TimingRecord) DurationMs() int64 {
	return r.End.TotalMs() - r.Start.TotalMs()
}

func (r TimingRecord) String() string {
	return FormatTiming(r)
}

// Entry is one caption block.
type Entry struct {
	Index      int // 1-based, stable across translation
	Text       string
	Timing     TimingRecord
	Translated bool
	// Err is set on fallback entries produced for malformed originals.
	Err error
}

// File represents subtitle file
type File struct {
	Path     string
	Entries  []Entry
	Language language.Tag
	Encoding string
	Format   string // SRT
}

// Texts returns the text of every entry in order.
func (f *File) Texts() []string {
	texts := make([]string, len(f.Entries))
	for i, e := range f.Entries {
		texts[i] = e.Text
	}
	return texts
}
