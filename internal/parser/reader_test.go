package parser

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harlam357/hfm-net-sub005/internal/models"
)

func readAll(t *testing.T, r *LineReader) []models.LogLine {
	t.Helper()
	var lines []models.LogLine
	for {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
}

// writeGzip compresses content into a file under dir.
func writeGzip(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestLineReader_Next(t *testing.T) {
	t.Run("numbers lines from zero", func(t *testing.T) {
		r := NewLineReader(strings.NewReader("a\nb\n\nc"))
		lines := readAll(t, r)
		require.Len(t, lines, 4)
		for i, line := range lines {
			assert.Equal(t, i, line.Index)
		}
		assert.Equal(t, "", lines[2].Raw)
		assert.Equal(t, "c", lines[3].Raw)
	})

	t.Run("eof is sticky", func(t *testing.T) {
		r := NewLineReader(strings.NewReader("a"))
		_, err := r.Next()
		require.NoError(t, err)
		_, err = r.Next()
		assert.ErrorIs(t, err, io.EOF)
		_, err = r.Next()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("strips bom and carriage returns", func(t *testing.T) {
		r := NewLineReader(strings.NewReader("\xEF\xBB\xBF03:24:27:WU00:FS00:Starting\r\n03:24:27:WU00:FS00:Core PID:3240\r\n"))
		lines := readAll(t, r)
		require.Len(t, lines, 2)
		assert.Equal(t, "03:24:27:WU00:FS00:Starting", lines[0].Raw)
		assert.Equal(t, models.LineTypeWorkUnitWorking, lines[0].Type)
		assert.Equal(t, "03:24:27:WU00:FS00:Core PID:3240", lines[1].Raw)
	})

	t.Run("decodes before classifying", func(t *testing.T) {
		r := NewLineReader(strings.NewReader(`20:14:06:Enabled folding slot 01: READY gpu:0:GK104 (\xc3\xa9cran)`))
		lines := readAll(t, r)
		require.Len(t, lines, 1)
		assert.Equal(t, "20:14:06:Enabled folding slot 01: READY gpu:0:GK104 (écran)", lines[0].Raw)
		f, ok := lines[0].Data.(*models.SlotFragment)
		require.True(t, ok)
		assert.Equal(t, "gpu:0:GK104 (écran)", f.Description)
	})

	t.Run("start index", func(t *testing.T) {
		r := NewLineReader(strings.NewReader("a\nb\n"), WithStartIndex(100))
		lines := readAll(t, r)
		require.Len(t, lines, 2)
		assert.Equal(t, 100, lines[0].Index)
		assert.Equal(t, 101, lines[1].Index)
		assert.Equal(t, 102, r.NextIndex())
	})

	t.Run("custom classifier", func(t *testing.T) {
		c := NewClassifier([]Rule{{Type: models.LineTypeClientShutdown, Match: func(l *RawLine) bool { return true }}})
		lines := readAll(t, NewLineReader(strings.NewReader("x\n"), WithClassifier(c)))
		require.Len(t, lines, 1)
		assert.Equal(t, models.LineTypeClientShutdown, lines[0].Type)
	})

	t.Run("counts bytes", func(t *testing.T) {
		r := NewLineReader(strings.NewReader("abc\nde\n"))
		readAll(t, r)
		assert.Equal(t, int64(7), r.BytesRead())
	})
}

func TestLineReader_NextContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewLineReader(strings.NewReader("a\nb\nc\n"))

	line, err := r.NextContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", line.Raw)

	cancel()
	_, err = r.NextContext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLineReader_OversizedLine(t *testing.T) {
	long := "03:25:00:WU00:FS00:0xa3:" + strings.Repeat("x", 2*maxLineLength)
	src := strings.Join([]string{
		banner,
		"03:24:27:WU00:FS00:Starting",
		long,
		"03:24:28:WU00:FS00:0xa3:Project: 7610 (Run 630, Clone 0, Gen 59)",
	}, "\n")

	r := NewLineReader(strings.NewReader(src))
	lines := readAll(t, r)
	require.Len(t, lines, 4)

	cut := lines[2]
	assert.Equal(t, models.LineTypeParserError, cut.Type)
	assert.Len(t, cut.Raw, maxLineLength)
	assert.Equal(t, 0, cut.SlotIndex)
	assert.Equal(t, 0, cut.QueueIndex)
	perr, ok := cut.ParserError()
	require.True(t, ok)
	assert.Len(t, perr.Content, truncatedContentLength)
	assert.Contains(t, perr.Reason, "truncated")

	assert.Equal(t, 3, lines[3].Index)
	assert.Equal(t, models.LineTypeWorkUnitProject, lines[3].Type)
	assert.Equal(t, int64(len(src)), r.BytesRead())
}

func TestLineReader_LineAtLimitIsKept(t *testing.T) {
	exact := strings.Repeat("y", maxLineLength)
	lines := readAll(t, NewLineReader(strings.NewReader(exact+"\nz\n")))
	require.Len(t, lines, 2)
	assert.Equal(t, models.LineTypeUnknown, lines[0].Type)
	assert.Len(t, lines[0].Raw, maxLineLength)
	assert.Equal(t, "z", lines[1].Raw)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestLineReader_PropagatesReadErrors(t *testing.T) {
	r := NewLineReader(io.MultiReader(strings.NewReader("a\n"), failingReader{}))
	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestOpenLineReader(t *testing.T) {
	content := []byte("*********************** Log Started 2012-01-11T03:24:22Z ***********************\n03:24:27:WU00:FS00:Starting\n")

	t.Run("plain file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "log.txt")
		require.NoError(t, os.WriteFile(path, content, 0644))

		r, err := OpenLineReader(path)
		require.NoError(t, err)
		defer r.Close()

		lines := readAll(t, r)
		require.Len(t, lines, 2)
		assert.Equal(t, models.LineTypeLogOpen, lines[0].Type)
		assert.Equal(t, int64(len(content)), r.BytesRead())
	})

	t.Run("gzip file", func(t *testing.T) {
		path := writeGzip(t, t.TempDir(), "log.txt.gz", content)

		r, err := OpenLineReader(path)
		require.NoError(t, err)
		defer r.Close()

		lines := readAll(t, r)
		require.Len(t, lines, 2)
		assert.Equal(t, models.LineTypeWorkUnitWorking, lines[1].Type)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := OpenLineReader(filepath.Join(t.TempDir(), "nope.txt"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "log.txt")
		require.NoError(t, os.WriteFile(path, content, 0644))

		r, err := OpenLineReader(path)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.NoError(t, r.Close())

		_, err = r.Next()
		assert.ErrorIs(t, err, io.EOF)
	})
}
