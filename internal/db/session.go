package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/facelock/internal/pipeline"
)

// Session is one run of the tracker from pipeline start to teardown.
type Session struct {
	ID           string     `json:"id"`
	Started      time.Time  `json:"started"`
	Ended        *time.Time `json:"ended,omitempty"`
	Source       string     `json:"source"`
	Ticks        uint64     `json:"ticks"`
	PartialTicks uint64     `json:"partial_ticks"`
	DroppedCmds  uint64     `json:"dropped_commands"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec := int64(s)
	return time.Unix(sec, int64((s-float64(sec))*1e9)).UTC()
}

// StartSession records a new session. source names the frame source (device
// or fixture path).
func (db *DB) StartSession(ctx context.Context, source string, started time.Time) (*Session, error) {
	s := &Session{
		ID:      uuid.NewString(),
		Started: started.UTC(),
		Source:  source,
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_unix, source) VALUES (?, ?, ?)`,
		s.ID, unixSeconds(started), source)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// EndSession stamps the end of a session with the pipeline counters and
// stores each stage's timing summary.
func (db *DB) EndSession(ctx context.Context, id string, ended time.Time, stats pipeline.Stats, droppedCmds uint64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET ended_unix = ?, ticks = ?, partial_ticks = ?, dropped_cmds = ?
		 WHERE session_id = ?`,
		unixSeconds(ended), stats.Ticks, stats.PartialTicks, droppedCmds, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", id)
	}

	for _, st := range stats.Stages {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO stage_stats
			   (session_id, stage, runs, errors, empty, dropped_inputs, mean_ms, stddev_ms, max_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, st.Stage, st.Runs, st.Errors, st.Empty, st.Dropped, st.MeanMs, st.StdDevMs, st.MaxMs)
		if err != nil {
			return fmt.Errorf("failed to store %s stage stats: %w", st.Stage, err)
		}
	}
	return tx.Commit()
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, started_unix, ended_unix, source, ticks, partial_ticks, dropped_cmds
		 FROM sessions ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s       Session
			started float64
			ended   sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &started, &ended, &s.Source, &s.Ticks, &s.PartialTicks, &s.DroppedCmds); err != nil {
			return nil, err
		}
		s.Started = fromUnixSeconds(started)
		if ended.Valid {
			t := fromUnixSeconds(ended.Float64)
			s.Ended = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// StageStats returns the timing summaries stored for a session.
func (db *DB) StageStats(ctx context.Context, sessionID string) ([]pipeline.StageSummary, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT stage, runs, errors, empty, dropped_inputs, mean_ms, stddev_ms, max_ms
		 FROM stage_stats WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.StageSummary
	for rows.Next() {
		var st pipeline.StageSummary
		if err := rows.Scan(&st.Stage, &st.Runs, &st.Errors, &st.Empty, &st.Dropped, &st.MeanMs, &st.StdDevMs, &st.MaxMs); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
