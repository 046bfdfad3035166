package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/servo"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// CommandRecord is one journaled servo command.
type CommandRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Axis      string    `json:"axis"`
	Requested int       `json:"requested"`
	Duty      int       `json:"duty"`
	Driver    string    `json:"driver"`
	Error     string    `json:"error,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// RecordCommand inserts one command into the journal.
func (db *DB) RecordCommand(ctx context.Context, sessionID string, c servo.Command) error {
	var errText string
	if c.Err != nil {
		errText = c.Err.Error()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO servo_commands (session_id, axis, requested, duty, driver, error, issued_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, c.Axis.String(), c.Requested, c.Duty, c.Driver, errText, unixSeconds(c.IssuedAt))
	return err
}

// RecentCommands returns the latest journaled commands across sessions,
// newest first.
func (db *DB) RecentCommands(ctx context.Context, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryCommands(ctx,
		`SELECT command_id, session_id, axis, requested, duty, driver, error, issued_unix
		 FROM servo_commands ORDER BY command_id DESC LIMIT ?`, limit)
}

// SessionCommands returns every command of a session in issue order.
func (db *DB) SessionCommands(ctx context.Context, sessionID string) ([]CommandRecord, error) {
	return db.queryCommands(ctx,
		`SELECT command_id, session_id, axis, requested, duty, driver, error, issued_unix
		 FROM servo_commands WHERE session_id = ? ORDER BY command_id`, sessionID)
}

func (db *DB) queryCommands(ctx context.Context, query string, args ...any) ([]CommandRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var (
			r      CommandRecord
			issued float64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Axis, &r.Requested, &r.Duty, &r.Driver, &r.Error, &issued); err != nil {
			return nil, err
		}
		r.IssuedAt = fromUnixSeconds(issued)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Journal records servo commands for a session without blocking the caller.
// Commands are queued to a background writer; when the queue is full the
// command is dropped and counted.
type Journal struct {
	db      *DB
	session string
	queue   chan servo.Command
	done    chan struct{}
	dropped atomic.Uint64
	written atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewJournal starts a journal writer for sessionID with room for buffer
// pending commands.
func NewJournal(db *DB, sessionID string, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 256
	}
	j := &Journal{
		db:      db,
		session: sessionID,
		queue:   make(chan servo.Command, buffer),
		done:    make(chan struct{}),
	}
	go j.run()
	return j
}

// ObserveCommand implements servo.Observer.
func (j *Journal) ObserveCommand(c servo.Command) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.queue <- c:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) run() {
	defer close(j.done)
	for c := range j.queue {
		if err := j.db.RecordCommand(context.Background(), j.session, c); err != nil {
			monitoring.Logf("journal: failed to record %s command: %v", c.Axis, err)
			continue
		}
		j.written.Add(1)
	}
}

// Dropped returns the number of commands not journaled because the queue was
// full or the journal closed.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Written returns the number of commands stored.
func (j *Journal) Written() uint64 {
	return j.written.Load()
}

// Close stops accepting commands and waits for the queue to drain.
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()
	<-j.done
	return nil
}
