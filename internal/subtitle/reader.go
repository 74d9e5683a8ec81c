package subtitle

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"
)

var ErrInvalidFormat = errors.New("not an SRT file")

const (
	EncodingUTF8        = "utf-8"
	EncodingUTF16       = "utf-16"
	EncodingWindows1252 = "windows-1252"
)

// DefaultReader is the default subtitle file reader
type DefaultReader struct{}

// NewReader creates a new subtitle file reader
func NewReader() Reader {
	return &DefaultReader{}
}

func (r *DefaultReader) Read(path string) (*File, error) {
	return ReadFile(path)
}

// ReadFile reads and parses an SRT file from disk.
func ReadFile(path string) (*File, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".srt") {
		return nil, fmt.Errorf("%w: only SRT format subtitle files are supported: %s", ErrInvalidFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subtitle file: %w", err)
	}
	return ReadSRTBytes(data, path)
}

// ReadSRTBytes parses SRT content. Multi-line entry text is joined with a single space.
func ReadSRTBytes(data []byte, path string) (*File, error) {
	text, encoding, err := decode(data)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	current := Entry{}
	state := "index" // possible values: "index", "time", "text"
	var textLines []string
	lineNo := 0

	flush := func() {
		current.Text = strings.Join(textLines, " ")
		entries = append(entries, current)
		current = Entry{}
		textLines = nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		switch state {
		case "index":
			if line == "" {
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil {
				continue // skip non-index lines
			}
			current.Index = index
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			timing, err := ParseTiming(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current.Timing = timing
			state = "text"

		case "text":
			if line == "" {
				flush()
				state = "index"
				continue
			}
			textLines = append(textLines, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle file: %w", err)
	}

	switch state {
	case "text":
		flush()
	case "time":
		return nil, fmt.Errorf("%w: entry %d has no timing line", ErrMalformedTiming, current.Index)
	}

	return &File{
		Path:     path,
		Entries:  entries,
		Language: detectLanguage(entries),
		Encoding: encoding,
		Format:   "SRT",
	}, nil
}

// decode returns data as UTF-8, honouring a BOM and falling back to Windows-1252.
func decode(data []byte) (string, string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		dec := unicode.BOMOverride(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder())
		out, _, err := transform.Bytes(dec, data)
		if err != nil {
			return "", "", fmt.Errorf("decode utf-16: %w", err)
		}
		return string(out), EncodingUTF16, nil
	}

	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data), EncodingUTF8, nil
	}

	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", fmt.Errorf("decode windows-1252: %w", err)
	}
	return string(out), EncodingWindows1252, nil
}

// ValidateShape performs the cheap structural check done before any translation:
// .srt extension, readable file, first non-empty line an integer, next line a timing arrow.
func ValidateShape(path string) error {
	if !strings.HasSuffix(strings.ToLower(path), ".srt") {
		return fmt.Errorf("%w: extension must be .srt: %s", ErrInvalidFormat, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open subtitle file: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read subtitle file: %w", err)
		}
		return fmt.Errorf("%w: file is empty", ErrInvalidFormat)
	}

	text, _, err := decode(head[:n])
	if err != nil {
		return err
	}

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l == "" && len(lines) == 0 {
			continue
		}
		lines = append(lines, l)
		if len(lines) == 2 {
			break
		}
	}
	if len(lines) < 2 {
		return fmt.Errorf("%w: too short", ErrInvalidFormat)
	}
	if _, err := strconv.Atoi(lines[0]); err != nil {
		return fmt.Errorf("%w: first line %q is not an index", ErrInvalidFormat, lines[0])
	}
	if !strings.Contains(lines[1], "-->") {
		return fmt.Errorf("%w: second line %q is not a timing line", ErrInvalidFormat, lines[1])
	}
	return nil
}

// detectLanguage picks the most common language over entry texts.
func detectLanguage(entries []Entry) language.Tag {
	if len(entries) == 0 {
		return language.Und
	}

	langMap := make(map[string]int)
	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		langMap[whatlanggo.DetectLang(e.Text).Iso6391()]++
	}

	var topLang string
	var topCount int
	for lang, count := range langMap {
		if count > topCount || (count == topCount && lang < topLang) {
			topLang = lang
			topCount = count
		}
	}
	if topLang == "" {
		return language.Und
	}

	tag, err := language.Parse(topLang)
	if err != nil {
		return language.Und
	}
	return tag
}
