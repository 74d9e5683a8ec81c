package subtitle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/language"
)

func TestDetectLanguage(t *testing.T) {
	entries := []Entry{
		{Text: "Hello, world!"},
		{Text: "こんにちは、世界!"},
		{Text: "こんにちは、世界!"},
		{Text: "Привет, мир!"},
	}
	assert.Equal(t, language.Japanese, detectLanguage(entries))
	assert.Equal(t, language.Und, detectLanguage(nil))
}

func TestReadSRTBytesMultilineAndCRLF(t *testing.T) {
	data := []byte("\xEF\xBB\xBF1\r\n00:00:01,000 --> 00:00:04,000\r\nHello\r\nthere\r\n\r\n2\r\n00:00:05,000 --> 00:00:08,000\r\nWorld\r\n")

	file, err := ReadSRTBytes(data, "embedded://crlf")
	require.NoError(t, err)
	require.Len(t, file.Entries, 2)
	assert.Equal(t, "Hello there", file.Entries[0].Text)
	assert.Equal(t, 2, file.Entries[1].Index)
	assert.Equal(t, "00:00:05,000 --> 00:00:08,000", FormatTiming(file.Entries[1].Timing))
	assert.Equal(t, EncodingUTF8, file.Encoding)
}

func TestReadSRTBytesWindows1252(t *testing.T) {
	src := "1\n00:00:01,000 --> 00:00:02,000\nCafé crème\n"
	encoded, err := charmap.Windows1252.NewEncoder().String(src)
	require.NoError(t, err)

	file, err := ReadSRTBytes([]byte(encoded), "legacy.srt")
	require.NoError(t, err)
	require.Len(t, file.Entries, 1)
	assert.Equal(t, "Café crème", file.Entries[0].Text)
	assert.Equal(t, EncodingWindows1252, file.Encoding)
}

func TestReadSRTBytesMalformedTiming(t *testing.T) {
	data := []byte("1\n00:00:01 --> 00:00:04\nHello\n")

	_, err := ReadSRTBytes(data, "bad.srt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedTiming))
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadSRTBytesMissingTiming(t *testing.T) {
	_, err := ReadSRTBytes([]byte("1\n"), "short.srt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedTiming))
}

func TestReadSRTBytesEmptyText(t *testing.T) {
	data := []byte("1\n00:00:01,000 --> 00:00:02,000\n\n2\n00:00:03,000 --> 00:00:04,000\nSecond\n")

	file, err := ReadSRTBytes(data, "gap.srt")
	require.NoError(t, err)
	require.Len(t, file.Entries, 2)
	assert.Equal(t, "", file.Entries[0].Text)
	assert.Equal(t, "Second", file.Entries[1].Text)
}

func TestReadFileRejectsExtension(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "movie.txt"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFormat))
}

func TestValidateShape(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	good := write("good.srt", "\n\n1\n00:00:01,000 --> 00:00:02,000\nHi\n")
	require.NoError(t, ValidateShape(good))

	cases := map[string]string{
		"empty.srt":   "",
		"noindex.srt": "hello\n00:00:01,000 --> 00:00:02,000\n",
		"noarrow.srt": "1\nhello\n",
		"oneline.srt": "1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateShape(write(name, content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFormat))
		})
	}

	err := ValidateShape(write("movie.txt", "1\n00:00:01,000 --> 00:00:02,000\n"))
	assert.True(t, errors.Is(err, ErrInvalidFormat))

	err = ValidateShape(filepath.Join(dir, "missing.srt"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
