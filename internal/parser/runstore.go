package parser

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/harlam357/hfm-net-sub005/internal/models"
)

// RunStore persists parsed run hierarchies in a DuckDB file so they can be
// queried with SQL after the source log is gone. Several logs share one
// database, keyed by log id.
type RunStore struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger

	// DuckDB appenders on separate connections may conflict on the same table.
	writeMu sync.Mutex

	// beforeAppend, when set, runs before each table is written.
	beforeAppend func(table string) error
}

var runStoreSchema = []string{
	`CREATE TABLE IF NOT EXISTS client_runs (
		log_id         VARCHAR NOT NULL,
		run_index      INTEGER NOT NULL,
		line_start     INTEGER NOT NULL,
		line_end       INTEGER NOT NULL,
		start_time     TIMESTAMP,
		client_version VARCHAR,
		arguments      VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS slot_runs (
		log_id          VARCHAR NOT NULL,
		run_index       INTEGER NOT NULL,
		slot_index      INTEGER NOT NULL,
		status          VARCHAR,
		description     VARCHAR,
		completed_units INTEGER NOT NULL,
		failed_units    INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS unit_runs (
		log_id          VARCHAR NOT NULL,
		run_index       INTEGER NOT NULL,
		slot_index      INTEGER NOT NULL,
		unit_seq        INTEGER NOT NULL,
		queue_index     INTEGER NOT NULL,
		line_start      INTEGER NOT NULL,
		line_end        INTEGER NOT NULL,
		start_tod_sec   INTEGER NOT NULL,
		core_id         VARCHAR,
		core_version    VARCHAR,
		project_id      INTEGER NOT NULL,
		project_run     INTEGER NOT NULL,
		project_clone   INTEGER NOT NULL,
		project_gen     INTEGER NOT NULL,
		result          VARCHAR NOT NULL,
		frames_observed INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS frames (
		log_id        VARCHAR NOT NULL,
		run_index     INTEGER NOT NULL,
		slot_index    INTEGER NOT NULL,
		unit_seq      INTEGER NOT NULL,
		frame_id      INTEGER NOT NULL,
		raw_complete  BIGINT NOT NULL,
		raw_total     BIGINT NOT NULL,
		tod_sec       INTEGER NOT NULL,
		duration_ms   BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS log_lines (
		log_id     VARCHAR NOT NULL,
		line_index INTEGER NOT NULL,
		run_index  INTEGER NOT NULL,
		line_type  VARCHAR NOT NULL,
		raw        VARCHAR NOT NULL
	)`,
}

// NewRunStore opens or creates the database at dbPath.
func NewRunStore(dbPath string) (*RunStore, error) {
	logger := slog.With("component", "runstore", "path", dbPath)

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='512MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	for _, stmt := range runStoreSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	logger.Info("run store ready")
	return &RunStore{db: db, dbPath: dbPath, logger: logger}, nil
}

// Save writes every run, slot, unit, frame and line of log under logID,
// replacing anything previously stored for that id. The replacement is one
// transaction: on any failure the previous rows are kept.
func (s *RunStore) Save(ctx context.Context, logID string, log *FahClientLog) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// ctx may already be cancelled; the rollback must still run.
		if _, err := conn.ExecContext(context.Background(), "ROLLBACK"); err != nil {
			s.logger.Warn("rollback failed", "log_id", logID, "error", err)
		}
	}()

	if err := deleteRows(ctx, conn, logID); err != nil {
		return err
	}

	runs := log.ClientRuns()
	tables := []struct {
		name string
		rows [][]driver.Value
	}{
		{"client_runs", clientRunRows(logID, runs)},
		{"slot_runs", slotRunRows(logID, runs)},
		{"unit_runs", unitRunRows(logID, runs)},
		{"frames", frameRows(logID, runs)},
		{"log_lines", lineRows(logID, log)},
	}

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}
		for _, table := range tables {
			if err := ctx.Err(); err != nil {
				return err
			}
			if s.beforeAppend != nil {
				if err := s.beforeAppend(table.name); err != nil {
					return err
				}
			}
			if err := appendRows(dConn, table.name, table.rows); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit runs: %w", err)
	}
	committed = true

	s.logger.Info("saved runs", "log_id", logID, "runs", len(runs),
		"lines", log.LineCount(), "elapsed", time.Since(start))
	return nil
}

func appendRows(conn *duckdb.Conn, table string, rows [][]driver.Value) error {
	appender, err := duckdb.NewAppenderFromConn(conn, "", table)
	if err != nil {
		return fmt.Errorf("failed to create appender for %s: %w", table, err)
	}
	defer appender.Close()

	for i, row := range rows {
		if err := appender.AppendRow(row...); err != nil {
			return fmt.Errorf("failed to append %s row %d: %w", table, i, err)
		}
	}
	return appender.Flush()
}

func clientRunRows(logID string, runs []*models.ClientRun) [][]driver.Value {
	rows := make([][]driver.Value, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []driver.Value{
			logID,
			int32(r.Index),
			int32(r.LineStart),
			int32(r.LineEnd),
			r.Data.StartTime,
			r.Data.ClientVersion,
			r.Data.Arguments,
		})
	}
	return rows
}

func slotRunRows(logID string, runs []*models.ClientRun) [][]driver.Value {
	var rows [][]driver.Value
	for _, r := range runs {
		for _, slot := range r.SlotRuns {
			rows = append(rows, []driver.Value{
				logID,
				int32(r.Index),
				int32(slot.Index),
				slot.Data.Status,
				slot.Data.Description,
				int32(slot.Data.CompletedUnits),
				int32(slot.Data.FailedUnits),
			})
		}
	}
	return rows
}

func unitRunRows(logID string, runs []*models.ClientRun) [][]driver.Value {
	var rows [][]driver.Value
	for _, r := range runs {
		for _, slot := range r.SlotRuns {
			for seq, u := range slot.UnitRuns {
				startSec := int32(-1)
				if u.Data.UnitStartTimeStamp != nil {
					startSec = int32(time.Duration(*u.Data.UnitStartTimeStamp) / time.Second)
				}
				rows = append(rows, []driver.Value{
					logID,
					int32(r.Index),
					int32(slot.Index),
					int32(seq),
					int32(u.QueueIndex),
					int32(u.LineStart),
					int32(u.LineEnd),
					startSec,
					u.Data.CoreID,
					u.Data.CoreVersion,
					int32(u.Data.ProjectID),
					int32(u.Data.ProjectRun),
					int32(u.Data.ProjectClone),
					int32(u.Data.ProjectGen),
					u.Data.WorkUnitResult.String(),
					int32(u.Data.FramesObserved),
				})
			}
		}
	}
	return rows
}

func frameRows(logID string, runs []*models.ClientRun) [][]driver.Value {
	var rows [][]driver.Value
	for _, r := range runs {
		for _, slot := range r.SlotRuns {
			for seq, u := range slot.UnitRuns {
				for _, id := range u.Data.FrameIDs() {
					f := u.Data.FrameData[id]
					rows = append(rows, []driver.Value{
						logID,
						int32(r.Index),
						int32(slot.Index),
						int32(seq),
						int32(f.ID),
						f.RawFramesComplete,
						f.RawFramesTotal,
						int32(time.Duration(f.TimeStamp) / time.Second),
						f.Duration.Milliseconds(),
					})
				}
			}
		}
	}
	return rows
}

func lineRows(logID string, log *FahClientLog) [][]driver.Value {
	runs := log.ClientRuns()
	rows := make([][]driver.Value, 0, log.LineCount())
	ri := 0
	for line := range log.Lines() {
		for ri < len(runs) && line.Index > runs[ri].LineEnd {
			ri++
		}
		runIndex := int32(-1)
		if ri < len(runs) && line.Index >= runs[ri].LineStart {
			runIndex = int32(ri)
		}
		rows = append(rows, []driver.Value{
			logID,
			int32(line.Index),
			runIndex,
			line.Type.String(),
			line.Raw,
		})
	}
	return rows
}

// Delete removes everything stored for logID.
func (s *RunStore) Delete(ctx context.Context, logID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := deleteRows(ctx, tx, logID); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// execer is satisfied by *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func deleteRows(ctx context.Context, db execer, logID string) error {
	for _, table := range []string{"client_runs", "slot_runs", "unit_runs", "frames", "log_lines"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE log_id = ?", logID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// ParserErrorCounts returns the number of ParserError lines per client run.
func (s *RunStore) ParserErrorCounts(ctx context.Context, logID string) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_index, COUNT(*)
		FROM log_lines
		WHERE log_id = ? AND line_type = ?
		GROUP BY run_index
	`, logID, models.LineTypeParserError.String())
	if err != nil {
		return nil, fmt.Errorf("parser error query failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var run, n int
		if err := rows.Scan(&run, &n); err != nil {
			return nil, err
		}
		counts[run] = n
	}
	return counts, rows.Err()
}

// UnitRunSummary is one stored unit run with its average frame time.
type UnitRunSummary struct {
	RunIndex         int           `json:"runIndex"`
	SlotIndex        int           `json:"slotIndex"`
	Seq              int           `json:"seq"`
	QueueIndex       int           `json:"queueIndex"`
	ProjectID        int           `json:"projectId"`
	ProjectRun       int           `json:"projectRun"`
	ProjectClone     int           `json:"projectClone"`
	ProjectGen       int           `json:"projectGen"`
	Result           string        `json:"result"`
	FramesObserved   int           `json:"framesObserved"`
	AverageFrameTime time.Duration `json:"averageFrameTime"`
}

// UnitRunSummaries lists stored unit runs ordered by run and slot. The average frame
// time ignores zero-duration frames, which mark the first sample of a run.
func (s *RunStore) UnitRunSummaries(ctx context.Context, logID string) ([]UnitRunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.run_index, u.slot_index, u.unit_seq, u.queue_index,
		       u.project_id, u.project_run, u.project_clone, u.project_gen,
		       u.result, u.frames_observed,
		       COALESCE(AVG(f.duration_ms) FILTER (WHERE f.duration_ms > 0), 0)
		FROM unit_runs u
		LEFT JOIN frames f
		  ON f.log_id = u.log_id AND f.run_index = u.run_index
		 AND f.slot_index = u.slot_index AND f.unit_seq = u.unit_seq
		WHERE u.log_id = ?
		GROUP BY ALL
		ORDER BY u.run_index, u.slot_index, u.unit_seq
	`, logID)
	if err != nil {
		return nil, fmt.Errorf("unit run query failed: %w", err)
	}
	defer rows.Close()

	var out []UnitRunSummary
	for rows.Next() {
		var u UnitRunSummary
		var avgMs float64
		if err := rows.Scan(&u.RunIndex, &u.SlotIndex, &u.Seq, &u.QueueIndex,
			&u.ProjectID, &u.ProjectRun, &u.ProjectClone, &u.ProjectGen,
			&u.Result, &u.FramesObserved, &avgMs); err != nil {
			return nil, err
		}
		u.AverageFrameTime = time.Duration(avgMs * float64(time.Millisecond))
		out = append(out, u)
	}
	return out, rows.Err()
}

// Ping checks that the database answers.
func (s *RunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file location.
func (s *RunStore) Path() string {
	return s.dbPath
}

// Close closes the database. The file is kept.
func (s *RunStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
