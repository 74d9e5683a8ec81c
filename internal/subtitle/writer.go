package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultWriter is the default subtitle file writer
type DefaultWriter struct{}

// NewWriter creates a new subtitle file writer
func NewWriter() Writer {
	return &DefaultWriter{}
}

// Write writes the subtitle to path through a temp file in the same directory.
func (w *DefaultWriter) Write(path string, subtitle *File) error {
	if subtitle == nil {
		return fmt.Errorf("subtitle data is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.srt")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Encode(tmp, subtitle.Entries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move output file into place: %w", err)
	}
	return nil
}

// Encode writes entries as SRT blocks: index, timing line, one text line, blank line.
func Encode(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)

	for _, e := range entries {
		fmt.Fprintf(bw, "%d\n", e.Index)
		fmt.Fprintf(bw, "%s\n", FormatTiming(e.Timing))
		fmt.Fprintf(bw, "%s\n\n", singleLine(e.Text))
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write subtitle: %w", err)
	}
	return nil
}

func singleLine(text string) string {
	if !strings.ContainsAny(text, "\r\n") {
		return text
	}
	return strings.Join(strings.Fields(text), " ")
}
