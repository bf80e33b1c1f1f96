package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harlam357/hfm-net-sub005/internal/models"
	"github.com/harlam357/hfm-net-sub005/internal/parser"
)

// DefaultMaxSessions limits concurrent sessions to bound memory use.
const DefaultMaxSessions = 10

// SessionMaxAge is how long to keep completed sessions before cleanup.
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long to keep sessions that are actively being used.
const SessionKeepAliveWindow = 5 * time.Minute

// ErrTooManySessions is returned when every session slot is still parsing.
var ErrTooManySessions = errors.New("too many active sessions")

// ErrSessionNotReady is returned when a session's log is queried before the
// parse completed.
var ErrSessionNotReady = errors.New("session not ready")

// ErrNotFound is returned for unknown sessions, runs, slots and units.
var ErrNotFound = errors.New("not found")

// StatusHook is told about file status changes: "parsing", "parsed", "error".
type StatusHook func(fileID, status string)

// Manager runs FAHClient log parses in the background, one FahClientLog per session.
type Manager struct {
	sessions    map[string]*SessionState
	mu          sync.RWMutex
	maxSessions int
	runStore    *parser.RunStore
	onStatus    StatusHook
	logger      *slog.Logger
}

// SessionState holds the session metadata and, once complete, the parsed log.
type SessionState struct {
	Session      *models.ParseSession
	Log          *parser.FahClientLog
	LastAccessed time.Time
	cancel       context.CancelFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxSessions sets the session limit.
func WithMaxSessions(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxSessions = n
		}
	}
}

// WithRunStore persists every completed parse into store.
func WithRunStore(store *parser.RunStore) ManagerOption {
	return func(m *Manager) { m.runStore = store }
}

// WithStatusHook registers a file status callback.
func WithStatusHook(hook StatusHook) ManagerOption {
	return func(m *Manager) { m.onStatus = hook }
}

// NewManager creates a new session manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:    make(map[string]*SessionState),
		maxSessions: DefaultMaxSessions,
		logger:      slog.With("component", "session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSession begins parsing the log at filePath.
func (m *Manager) StartSession(fileID, filePath string) (*models.ParseSession, error) {
	if !m.cleanupOldSessionsIfNeeded() {
		return nil, ErrTooManySessions
	}

	sessionID := uuid.New().String()
	session := models.NewParseSession(sessionID, fileID)
	session.Status = models.SessionStatusParsing

	ctx, cancel := context.WithCancel(context.Background())
	state := &SessionState{
		Session:      session,
		LastAccessed: time.Now(),
		cancel:       cancel,
	}

	m.mu.Lock()
	m.sessions[sessionID] = state
	m.mu.Unlock()

	m.notify(fileID, "parsing")
	go m.runParse(ctx, sessionID, fileID, filePath)

	snapshot := *session
	return &snapshot, nil
}

func (m *Manager) runParse(ctx context.Context, sessionID, fileID, filePath string) {
	logger := m.logger.With("session", shortID(sessionID), "file", filePath)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("parse panicked", "panic", r)
			m.failSession(sessionID, fileID, fmt.Sprintf("parse panicked: %v", r))
		}
	}()

	start := time.Now()
	logger.Info("starting parse")

	ok, err := parser.CanParse(filePath)
	if err != nil {
		m.failSession(sessionID, fileID, fmt.Sprintf("failed to open log: %v", err))
		return
	}
	if !ok {
		m.failSession(sessionID, fileID, parser.ErrNotFahLog.Error())
		return
	}

	m.setProgress(sessionID, 10, 0)

	progressCb := func(lines int, bytesRead, totalBytes int64) {
		progress := 10.0
		if totalBytes > 0 {
			progress = 10.0 + float64(bytesRead)*80.0/float64(totalBytes)
		}
		// 90-100% is for finalization.
		if progress > 89.9 {
			progress = 89.9
		}
		m.setProgress(sessionID, progress, lines)
	}

	log := parser.NewFahClientLog(parser.WithProgress(progressCb))
	if err := log.ReadFileContext(ctx, filePath); err != nil {
		logger.Error("parse failed", "error", err)
		m.failSession(sessionID, fileID, fmt.Sprintf("parse failed: %v", err))
		return
	}

	persisted := false
	if m.runStore != nil {
		if err := m.runStore.Save(ctx, fileID, log); err != nil {
			logger.Warn("failed to persist runs", "error", err)
		} else {
			persisted = true
		}
	}

	runs := log.ClientRuns()
	units := 0
	for _, run := range runs {
		for _, slot := range run.SlotRuns {
			units += len(slot.UnitRuns)
		}
	}

	errs := make([]models.ParseError, 0)
	for _, run := range runs {
		errs = append(errs, flattenParserErrors(log.ParserErrors(run))...)
	}

	elapsed := time.Since(start)
	logger.Info("parse complete", "lines", log.LineCount(), "runs", len(runs),
		"units", units, "parser_errors", len(errs), "elapsed", elapsed)

	// File status lands before the session reads complete.
	m.notify(fileID, "parsed")

	m.mu.Lock()
	state, exists := m.sessions[sessionID]
	if !exists {
		m.mu.Unlock()
		return
	}
	state.Log = log
	s := state.Session
	s.Status = models.SessionStatusComplete
	s.Progress = 100
	s.LineCount = log.LineCount()
	s.ClientRunCount = len(runs)
	s.UnitRunCount = units
	s.ProcessingTimeMs = elapsed.Milliseconds()
	s.Persisted = persisted
	s.Errors = errs
	if len(runs) > 0 && !runs[0].Data.StartTime.IsZero() {
		s.StartTime = runs[0].Data.StartTime.UnixMilli()
	}
	m.mu.Unlock()
}

func flattenParserErrors(lines []models.LogLine) []models.ParseError {
	errs := make([]models.ParseError, 0, len(lines))
	for _, line := range lines {
		pe := models.ParseError{Line: line.Index, Content: line.Raw}
		if d, ok := line.ParserError(); ok {
			pe.Reason = d.Reason
		}
		errs = append(errs, pe)
	}
	return errs
}

func (m *Manager) setProgress(sessionID string, progress float64, lines int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.sessions[sessionID]; ok {
		state.Session.Progress = progress
		state.Session.LineCount = lines
	}
}

func (m *Manager) failSession(sessionID, fileID, reason string) {
	m.mu.Lock()
	state, ok := m.sessions[sessionID]
	if ok {
		state.Session.Status = models.SessionStatusError
		state.Session.Errors = append(state.Session.Errors, models.ParseError{Reason: reason})
	}
	m.mu.Unlock()

	if ok {
		m.notify(fileID, "error")
	}
}

func (m *Manager) notify(fileID, status string) {
	if m.onStatus != nil {
		m.onStatus(fileID, status)
	}
}

func finished(s *models.ParseSession) bool {
	return s.Status == models.SessionStatusComplete || s.Status == models.SessionStatusError
}

// cleanupOldSessionsIfNeeded drops finished sessions until one slot is free.
// It reports false when every slot is taken by a running parse.
func (m *Manager) cleanupOldSessionsIfNeeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.sessions) >= m.maxSessions {
		var oldestID string
		var oldest time.Time
		for id, state := range m.sessions {
			if !finished(state.Session) {
				continue
			}
			if oldestID == "" || state.LastAccessed.Before(oldest) {
				oldestID, oldest = id, state.LastAccessed
			}
		}
		if oldestID == "" {
			return false
		}
		m.dropLocked(oldestID)
		m.logger.Info("evicted session to free a slot", "session", shortID(oldestID))
	}
	return true
}

func (m *Manager) dropLocked(id string) {
	if state, ok := m.sessions[id]; ok {
		state.cancel()
		delete(m.sessions, id)
	}
}

// CleanupOldSessions removes finished sessions not accessed within maxAge,
// sparing those touched within SessionKeepAliveWindow.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-SessionKeepAliveWindow)

	removed := 0
	for id, state := range m.sessions {
		if !finished(state.Session) {
			continue
		}
		if state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if state.LastAccessed.Before(cutoff) {
			m.dropLocked(id)
			removed++
			m.logger.Info("cleaned up aged session", "session", shortID(id),
				"idle", now.Sub(state.LastAccessed).Round(time.Second))
		}
	}
	return removed
}

// GetSession returns a snapshot of a session.
func (m *Manager) GetSession(id string) (*models.ParseSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	snapshot := *state.Session
	snapshot.Errors = append([]models.ParseError(nil), state.Session.Errors...)
	return &snapshot, true
}

// SessionCounts reports how many sessions are held and how many of them are
// still parsing.
func (m *Manager) SessionCounts() (total, parsing int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, state := range m.sessions {
		if !finished(state.Session) {
			parsing++
		}
	}
	return len(m.sessions), parsing
}

// TouchSession updates the LastAccessed timestamp for a session.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// Close cancels running parses and drops every session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.sessions {
		m.dropLocked(id)
	}
}

// withLog runs fn with the completed log of a session under the read lock.
// A completed FahClientLog is never written again, so readers may share it.
func (m *Manager) withLog(id string, fn func(*parser.FahClientLog) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if state.Log == nil {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotReady)
	}
	return fn(state.Log)
}

// ClientRuns returns the run hierarchy of a completed session.
func (m *Manager) ClientRuns(id string) ([]*models.ClientRun, error) {
	var runs []*models.ClientRun
	err := m.withLog(id, func(log *parser.FahClientLog) error {
		runs = log.ClientRuns()
		return nil
	})
	return runs, err
}

// RunParserErrors groups a run's ParserError lines.
type RunParserErrors struct {
	RunIndex  int                 `json:"runIndex"`
	StartTime time.Time           `json:"startTime"`
	Errors    []models.ParseError `json:"errors"`
}

// ParserErrors returns the ParserError lines of every run of a session.
func (m *Manager) ParserErrors(id string) ([]RunParserErrors, error) {
	var out []RunParserErrors
	err := m.withLog(id, func(log *parser.FahClientLog) error {
		runs := log.ClientRuns()
		out = make([]RunParserErrors, 0, len(runs))
		for _, run := range runs {
			out = append(out, RunParserErrors{
				RunIndex:  run.Index,
				StartTime: run.Data.StartTime,
				Errors:    flattenParserErrors(log.ParserErrors(run)),
			})
		}
		return nil
	})
	return out, err
}

// RunLines returns a page of the lines spanned by a client run.
func (m *Manager) RunLines(id string, run, offset, limit int) ([]models.LogLine, int, error) {
	var lines []models.LogLine
	err := m.withLog(id, func(log *parser.FahClientLog) error {
		runs := log.ClientRuns()
		if run < 0 || run >= len(runs) {
			return fmt.Errorf("client run %d: %w", run, ErrNotFound)
		}
		lines = log.RunLines(runs[run])
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	page, total := paginate(lines, offset, limit)
	return page, total, nil
}

// UnitLines returns a page of the lines spanned by the unit'th unit run of a
// slot within a client run.
func (m *Manager) UnitLines(id string, run, slot, unit, offset, limit int) ([]models.LogLine, int, error) {
	var lines []models.LogLine
	err := m.withLog(id, func(log *parser.FahClientLog) error {
		runs := log.ClientRuns()
		if run < 0 || run >= len(runs) {
			return fmt.Errorf("client run %d: %w", run, ErrNotFound)
		}
		sr, ok := runs[run].SlotRun(slot)
		if !ok {
			return fmt.Errorf("slot %d: %w", slot, ErrNotFound)
		}
		if unit < 0 || unit >= len(sr.UnitRuns) {
			return fmt.Errorf("unit run %d: %w", unit, ErrNotFound)
		}
		lines = log.UnitLines(sr.UnitRuns[unit])
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	page, total := paginate(lines, offset, limit)
	return page, total, nil
}

func paginate(lines []models.LogLine, offset, limit int) ([]models.LogLine, int) {
	total := len(lines)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []models.LogLine{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return lines[offset:end], total
}

// shortID truncates an ID for logging.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
