package parser

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/harlam357/hfm-net-sub005/internal/models"
)

const (
	readBufferSize = 64 * 1024

	// maxLineLength caps one physical line. Longer lines are cut to this
	// length and reported as parser errors instead of failing the read.
	maxLineLength = 1024 * 1024

	// truncatedContentLength bounds the text kept in a truncation error.
	truncatedContentLength = 256
)

var (
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
	gzipMagic = []byte{0x1f, 0x8b}
)

// LineReader yields classified lines from a text source one at a time.
// It holds no more than the current physical line.
type LineReader struct {
	reader     *bufio.Reader
	buf        []byte
	classifier *Classifier
	closers    []io.Closer
	counter    *countingReader

	index     int
	bytesRead int64
	started   bool
	done      bool
}

// ReaderOption configures a LineReader.
type ReaderOption func(*LineReader)

// WithStartIndex numbers the first line n instead of 0.
func WithStartIndex(n int) ReaderOption {
	return func(r *LineReader) { r.index = n }
}

// WithClassifier replaces the default rule table.
func WithClassifier(c *Classifier) ReaderOption {
	return func(r *LineReader) { r.classifier = c }
}

// NewLineReader reads lines from src. The caller owns src.
func NewLineReader(src io.Reader, opts ...ReaderOption) *LineReader {
	r := &LineReader{reader: bufio.NewReaderSize(src, readBufferSize)}
	for _, opt := range opts {
		opt(r)
	}
	if r.classifier == nil {
		r.classifier = DefaultClassifier()
	}
	return r
}

// OpenLineReader opens a log file for reading. Files starting with the gzip
// magic are decompressed transparently. Close releases the file.
func OpenLineReader(path string, opts ...ReaderOption) (*LineReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	counter := &countingReader{r: file}
	buffered := bufio.NewReader(counter)

	var src io.Reader = buffered
	closers := []io.Closer{file}

	magic, _ := buffered.Peek(len(gzipMagic))
	if bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(buffered)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
		}
		src = zr
		closers = append([]io.Closer{zr}, closers...)
	}

	r := NewLineReader(src, opts...)
	r.closers = closers
	r.counter = counter
	return r, nil
}

// Next returns the next line, or io.EOF once the source is exhausted.
func (r *LineReader) Next() (models.LogLine, error) {
	if r.done {
		return models.LogLine{}, io.EOF
	}

	raw, length, err := r.readRawLine()
	switch {
	case errors.Is(err, io.EOF):
		r.done = true
		if length == 0 {
			return models.LogLine{}, io.EOF
		}
	case err != nil:
		r.done = true
		return models.LogLine{}, fmt.Errorf("read line %d: %w", r.index, err)
	}

	if !r.started {
		raw = bytes.TrimPrefix(raw, utf8BOM)
		r.started = true
	}

	text := strings.TrimRight(string(raw), "\r")
	line := r.classifier.ClassifyLine(r.index, DecodeLine(text))
	if length > maxLineLength {
		line = truncatedLine(line, length)
	}
	r.index++
	return line, nil
}

// readRawLine returns the next line without its newline, keeping at most
// maxLineLength bytes, and the line's full length. The rest of an oversized
// line is drained.
func (r *LineReader) readRawLine() ([]byte, int64, error) {
	r.buf = r.buf[:0]
	var length int64
	for {
		chunk, err := r.reader.ReadSlice('\n')
		r.bytesRead += int64(len(chunk))
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		length += int64(len(chunk))
		if room := maxLineLength - len(r.buf); room > 0 {
			r.buf = append(r.buf, chunk[:min(len(chunk), room)]...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return r.buf, length, err
	}
}

// truncatedLine turns the classification of a cut line into a parser error.
// The time and unit prefix are kept so the line stays attributable.
func truncatedLine(line models.LogLine, length int64) models.LogLine {
	content := line.Raw
	if len(content) > truncatedContentLength {
		content = content[:truncatedContentLength]
	}
	ruleType := line.Type
	if ruleType == models.LineTypeParserError {
		ruleType = models.LineTypeUnknown
	}
	line.Type = models.LineTypeParserError
	line.Data = &models.ParserErrorData{
		RuleType: ruleType,
		Reason:   fmt.Sprintf("line of %d bytes truncated to %d", length, maxLineLength),
		Content:  content,
	}
	return line
}

// NextContext is Next with cooperative cancellation, checked before each read.
func (r *LineReader) NextContext(ctx context.Context) (models.LogLine, error) {
	if err := ctx.Err(); err != nil {
		return models.LogLine{}, err
	}
	return r.Next()
}

// NextIndex is the index the next line will receive.
func (r *LineReader) NextIndex() int {
	return r.index
}

// BytesRead reports how much of the source has been consumed. For files it
// counts bytes read from disk, so it tracks the compressed size of .gz logs.
func (r *LineReader) BytesRead() int64 {
	if r.counter != nil {
		return r.counter.n
	}
	return r.bytesRead
}

// Close releases the file opened by OpenLineReader. It is a no-op for readers
// created with NewLineReader.
func (r *LineReader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	r.done = true
	return first
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
