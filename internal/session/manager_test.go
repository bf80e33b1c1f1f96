package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harlam357/hfm-net-sub005/internal/models"
	"github.com/harlam357/hfm-net-sub005/internal/parser"
)

var fixture = filepath.Join("..", "parser", "testdata", "client_v7_10.txt")

func waitForSession(t *testing.T, m *Manager, id string) *models.ParseSession {
	t.Helper()
	var s *models.ParseSession
	require.Eventually(t, func() bool {
		var ok bool
		s, ok = m.GetSession(id)
		if !ok {
			return false
		}
		return s.Status == models.SessionStatusComplete || s.Status == models.SessionStatusError
	}, 5*time.Second, 10*time.Millisecond)
	return s
}

func TestManager_ParsesClientLog(t *testing.T) {
	var mu sync.Mutex
	var statuses []string
	m := NewManager(WithStatusHook(func(fileID, status string) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "file-1", fileID)
		statuses = append(statuses, status)
	}))
	defer m.Close()

	sess, err := m.StartSession("file-1", fixture)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusParsing, sess.Status)

	done := waitForSession(t, m, sess.ID)
	require.Equal(t, models.SessionStatusComplete, done.Status, "errors: %v", done.Errors)
	assert.Equal(t, 100.0, done.Progress)
	assert.Equal(t, 135, done.LineCount)
	assert.Equal(t, 1, done.ClientRunCount)
	assert.Equal(t, 3, done.UnitRunCount)
	assert.False(t, done.Persisted)
	assert.Equal(t, time.Date(2012, 1, 11, 3, 24, 22, 0, time.UTC).UnixMilli(), done.StartTime)
	require.Len(t, done.Errors, 1)
	assert.Equal(t, 123, done.Errors[0].Line)

	runs, err := m.ClientRuns(sess.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	errs, err := m.ParserErrors(sess.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Len(t, errs[0].Errors, 1)

	lines, total, err := m.RunLines(sess.ID, 0, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 135, total)
	assert.Len(t, lines, 10)
	assert.Equal(t, models.LineTypeLogOpen, lines[0].Type)

	lines, total, err = m.UnitLines(sess.ID, 0, 1, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, len(lines), total)
	assert.Equal(t, runs[0].SlotRuns[1].UnitRuns[0].LineStart, lines[0].Index)

	_, _, err = m.RunLines(sess.ID, 5, 0, 10)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = m.UnitLines(sess.ID, 0, 7, 0, 0, 10)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = m.UnitLines(sess.ID, 0, 1, 9, 0, 10)
	assert.ErrorIs(t, err, ErrNotFound)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"parsing", "parsed"}, statuses)
	mu.Unlock()
}

func TestManager_RejectsOtherFormats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.log")
	require.NoError(t, os.WriteFile(path, []byte("2025-09-22 13:00:00.199 [Debug] something\n"), 0644))

	m := NewManager()
	sess, err := m.StartSession("file-1", path)
	require.NoError(t, err)

	done := waitForSession(t, m, sess.ID)
	assert.Equal(t, models.SessionStatusError, done.Status)
	require.NotEmpty(t, done.Errors)
	assert.Contains(t, done.Errors[0].Reason, parser.ErrNotFahLog.Error())

	_, err = m.ClientRuns(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotReady)
}

func TestManager_UnknownSession(t *testing.T) {
	m := NewManager()
	_, ok := m.GetSession("missing")
	assert.False(t, ok)
	assert.False(t, m.TouchSession("missing"))
	_, err := m.ClientRuns("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_PersistsRuns(t *testing.T) {
	store, err := parser.NewRunStore(filepath.Join(t.TempDir(), "runs.duckdb"))
	require.NoError(t, err)
	defer store.Close()

	m := NewManager(WithRunStore(store))
	sess, err := m.StartSession("file-1", fixture)
	require.NoError(t, err)

	done := waitForSession(t, m, sess.ID)
	require.Equal(t, models.SessionStatusComplete, done.Status)
	assert.True(t, done.Persisted)

	units, err := store.UnitRunSummaries(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Len(t, units, 3)
}

func TestManager_SessionLimit(t *testing.T) {
	m := NewManager(WithMaxSessions(2))
	for _, id := range []string{"a", "b"} {
		m.sessions[id] = &SessionState{
			Session:      &models.ParseSession{ID: id, Status: models.SessionStatusParsing},
			LastAccessed: time.Now(),
			cancel:       func() {},
		}
	}

	total, parsing := m.SessionCounts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, parsing)

	_, err := m.StartSession("file-1", fixture)
	assert.ErrorIs(t, err, ErrTooManySessions)

	m.sessions["a"].Session.Status = models.SessionStatusComplete
	_, parsing = m.SessionCounts()
	assert.Equal(t, 1, parsing)
	sess, err := m.StartSession("file-1", fixture)
	require.NoError(t, err)

	_, ok := m.GetSession("a")
	assert.False(t, ok, "finished session should be evicted")
	waitForSession(t, m, sess.ID)
}

func TestManager_CleanupOldSessions(t *testing.T) {
	m := NewManager()
	old := time.Now().Add(-2 * SessionMaxAge)
	m.sessions["stale"] = &SessionState{
		Session:      &models.ParseSession{ID: "stale", Status: models.SessionStatusComplete},
		LastAccessed: old,
		cancel:       func() {},
	}
	m.sessions["running"] = &SessionState{
		Session:      &models.ParseSession{ID: "running", Status: models.SessionStatusParsing},
		LastAccessed: old,
		cancel:       func() {},
	}
	m.sessions["touched"] = &SessionState{
		Session:      &models.ParseSession{ID: "touched", Status: models.SessionStatusComplete},
		LastAccessed: old,
		cancel:       func() {},
	}
	require.True(t, m.TouchSession("touched"))

	assert.Equal(t, 1, m.CleanupOldSessions(SessionMaxAge))
	_, ok := m.GetSession("stale")
	assert.False(t, ok)
	_, ok = m.GetSession("running")
	assert.True(t, ok)
	_, ok = m.GetSession("touched")
	assert.True(t, ok)
}

func TestPaginate(t *testing.T) {
	lines := make([]models.LogLine, 5)
	page, total := paginate(lines, 3, 10)
	assert.Len(t, page, 2)
	assert.Equal(t, 5, total)

	page, _ = paginate(lines, 9, 10)
	assert.Empty(t, page)

	page, _ = paginate(lines, -1, 0)
	assert.Len(t, page, 5)
}
