package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/harlam357/hfm-net-sub005/internal/models"
)

// ErrNotFahLog is returned for files that do not look like FAHClient logs.
var ErrNotFahLog = errors.New("not a FAHClient log")

// progressInterval is how many lines pass between progress callbacks.
const progressInterval = 10000

// FahClientLog reads FAHClient logs into ClientRuns and keeps the flat list of
// classified lines for range queries. Successive reads append to the same
// state; Clear starts over.
//
// A FahClientLog is not safe for concurrent use. Independent logs should use
// independent instances.
type FahClientLog struct {
	classifier *Classifier
	agg        *RunAggregator
	lines      []models.LogLine
	onProgress ProgressCallback
}

// Option configures a FahClientLog.
type Option func(*FahClientLog)

// WithRules replaces the default rule table.
func WithRules(rules []Rule) Option {
	return func(l *FahClientLog) { l.classifier = NewClassifier(rules) }
}

// WithProgress registers a callback invoked while reading.
func WithProgress(cb ProgressCallback) Option {
	return func(l *FahClientLog) { l.onProgress = cb }
}

// NewFahClientLog creates an empty log.
func NewFahClientLog(opts ...Option) *FahClientLog {
	l := &FahClientLog{agg: NewRunAggregator()}
	for _, opt := range opts {
		opt(l)
	}
	if l.classifier == nil {
		l.classifier = DefaultClassifier()
	}
	return l
}

// Read consumes src to the end.
func (l *FahClientLog) Read(src io.Reader) error {
	return l.ReadContext(context.Background(), src)
}

// ReadContext consumes src, checking ctx between lines. On cancellation or a
// read failure all state is discarded and the error is returned.
func (l *FahClientLog) ReadContext(ctx context.Context, src io.Reader) error {
	r := NewLineReader(src, WithStartIndex(len(l.lines)), WithClassifier(l.classifier))
	return l.consume(ctx, r, -1)
}

// ReadFile reads a log file, plain or gzip-compressed.
func (l *FahClientLog) ReadFile(path string) error {
	return l.ReadFileContext(context.Background(), path)
}

// ReadFileContext is ReadFile with cancellation.
func (l *FahClientLog) ReadFileContext(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	r, err := OpenLineReader(path, WithStartIndex(len(l.lines)), WithClassifier(l.classifier))
	if err != nil {
		return err
	}
	defer r.Close()

	if err := l.consume(ctx, r, info.Size()); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func (l *FahClientLog) consume(ctx context.Context, r *LineReader, totalBytes int64) error {
	count := 0
	for {
		line, err := r.NextContext(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			l.Clear()
			return err
		}

		l.lines = append(l.lines, line)
		l.agg.Add(line)
		count++

		if l.onProgress != nil && count%progressInterval == 0 {
			l.onProgress(count, r.BytesRead(), totalBytes)
		}
	}
	l.agg.Finish()

	if l.onProgress != nil {
		l.onProgress(count, r.BytesRead(), totalBytes)
	}
	return nil
}

// Clear discards all runs and lines.
func (l *FahClientLog) Clear() {
	l.agg.Reset()
	l.lines = nil
}

// ClientRuns returns the runs oldest first. The last element is the most
// recent run.
func (l *FahClientLog) ClientRuns() []*models.ClientRun {
	return l.agg.ClientRuns()
}

// LineCount returns the number of lines read.
func (l *FahClientLog) LineCount() int {
	return len(l.lines)
}

// Lines iterates over every line read, in order.
func (l *FahClientLog) Lines() iter.Seq[models.LogLine] {
	return func(yield func(models.LogLine) bool) {
		for _, line := range l.lines {
			if !yield(line) {
				return
			}
		}
	}
}

// Line returns the line with the given index.
func (l *FahClientLog) Line(index int) (models.LogLine, bool) {
	if index < 0 || index >= len(l.lines) {
		return models.LogLine{}, false
	}
	return l.lines[index], true
}

// LineRange returns the lines with indices in [start, end], clamped to what
// has been read. The result shares storage with the log.
func (l *FahClientLog) LineRange(start, end int) []models.LogLine {
	if start < 0 {
		start = 0
	}
	if end >= len(l.lines) {
		end = len(l.lines) - 1
	}
	if start > end {
		return nil
	}
	return l.lines[start : end+1]
}

// RunLines returns the lines spanned by a client run.
func (l *FahClientLog) RunLines(run *models.ClientRun) []models.LogLine {
	return l.LineRange(run.LineStart, run.LineEnd)
}

// UnitLines returns the lines spanned by a unit run. With interleaved slots
// the span also holds lines written for other slots.
func (l *FahClientLog) UnitLines(unit *models.UnitRun) []models.LogLine {
	return l.LineRange(unit.LineStart, unit.LineEnd)
}

// ParserErrors returns the ParserError lines within a client run.
func (l *FahClientLog) ParserErrors(run *models.ClientRun) []models.LogLine {
	var out []models.LogLine
	for _, line := range l.RunLines(run) {
		if line.Type == models.LineTypeParserError {
			out = append(out, line)
		}
	}
	return out
}

// ClientRunOf returns the run that owns slot.
func (l *FahClientLog) ClientRunOf(slot *models.SlotRun) (*models.ClientRun, bool) {
	runs := l.agg.ClientRuns()
	if slot.ClientRunIndex < 0 || slot.ClientRunIndex >= len(runs) {
		return nil, false
	}
	return runs[slot.ClientRunIndex], true
}

// SlotRunOf returns the slot run that owns unit.
func (l *FahClientLog) SlotRunOf(unit *models.UnitRun) (*models.SlotRun, bool) {
	runs := l.agg.ClientRuns()
	if unit.ClientRunIndex < 0 || unit.ClientRunIndex >= len(runs) {
		return nil, false
	}
	return runs[unit.ClientRunIndex].SlotRun(unit.SlotIndex)
}

// CanParse sniffs the first non-blank lines of a file. It accepts the file
// when at least 60% of them carry a time-of-day prefix or a start banner.
func CanParse(path string) (bool, error) {
	r, err := OpenLineReader(path)
	if err != nil {
		return false, err
	}
	defer r.Close()

	checked := 0
	matched := 0
	for checked < 10 {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, err
		}
		if strings.TrimSpace(line.Raw) == "" {
			continue
		}
		checked++
		if line.Time != nil || line.Type == models.LineTypeLogOpen {
			matched++
		}
	}

	return checked > 0 && float64(matched)/float64(checked) >= 0.6, nil
}
