// Package session persists the per-step trail of a run to SQLite. The
// store is optional: a nil *Store disables persistence without any caller
// changes.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/aiklabs/aik/internal/agent/memory"
	"github.com/aiklabs/aik/internal/devlog"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	goal       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT NOT NULL REFERENCES sessions(id),
	step           INTEGER NOT NULL,
	window_title   TEXT NOT NULL DEFAULT '',
	process_path   TEXT NOT NULL DEFAULT '',
	model_response TEXT NOT NULL DEFAULT '',
	planned        TEXT NOT NULL DEFAULT '[]',
	executed       TEXT NOT NULL DEFAULT '[]',
	outcome        TEXT NOT NULL DEFAULT '',
	details        TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_steps_session ON steps(session_id, step);
`

// NewSessionID returns a sortable identifier: timestamp prefix plus a short
// random suffix, so lexicographic order is chronological order.
func NewSessionID() string {
	return time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.New().String()[:8]
}

// Store is the append-only session log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. A database that fails to
// open or ping is quarantined — renamed aside with a .corrupt suffix — and
// a fresh one is created, rather than silently overwriting prior sessions.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := open(path)
	if err != nil {
		quarantined := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		devlog.Printf("[Session] database unusable (%v), quarantining to %s", err, quarantined)
		if renameErr := os.Rename(path, quarantined); renameErr != nil {
			return nil, fmt.Errorf("failed to quarantine corrupt database: %w", renameErr)
		}
		db, err = open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to recreate database after quarantine: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: all access is serialized by the loop anyway, and
	// SQLite does not handle concurrent writers well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateSession registers a new run.
func (s *Store) CreateSession(id, goal string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, goal, created_at) VALUES (?, ?, unixepoch())`,
		id, goal,
	)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", id, err)
	}
	return nil
}

// AppendStep persists one finalized step record.
func (s *Store) AppendStep(sessionID string, rec *memory.StepRecord) error {
	if s == nil {
		return nil
	}
	planned, err := json.Marshal(rec.Planned)
	if err != nil {
		return fmt.Errorf("failed to encode planned actions: %w", err)
	}
	executed, err := json.Marshal(rec.Executed)
	if err != nil {
		return fmt.Errorf("failed to encode executed actions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO steps (session_id, step, window_title, process_path,
			model_response, planned, executed, outcome, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, unixepoch())`,
		sessionID, rec.Step, rec.WindowTitle, rec.ProcessPath,
		rec.ModelResponse, string(planned), string(executed),
		string(rec.Outcome), rec.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to append step %d: %w", rec.Step, err)
	}
	return nil
}

// SessionInfo summarizes one stored run.
type SessionInfo struct {
	ID        string
	Goal      string
	CreatedAt time.Time
	Steps     int
}

// ListSessions returns stored runs, newest first.
func (s *Store) ListSessions(limit int) ([]SessionInfo, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT s.id, s.goal, s.created_at, COUNT(t.id)
		FROM sessions s LEFT JOIN steps t ON t.session_id = s.id
		GROUP BY s.id ORDER BY s.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var created int64
		if err := rows.Scan(&info.ID, &info.Goal, &created, &info.Steps); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(created, 0)
		out = append(out, info)
	}
	return out, rows.Err()
}

// StoredStep is one persisted step row.
type StoredStep struct {
	Step        int
	WindowTitle string
	Outcome     string
	Details     string
	CreatedAt   time.Time
}

// Steps returns the trail of one session in step order.
func (s *Store) Steps(sessionID string) ([]StoredStep, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT step, window_title, outcome, details, created_at
		FROM steps WHERE session_id = ? ORDER BY step`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []StoredStep
	for rows.Next() {
		var st StoredStep
		var created int64
		if err := rows.Scan(&st.Step, &st.WindowTitle, &st.Outcome, &st.Details, &created); err != nil {
			return nil, err
		}
		st.CreatedAt = time.Unix(created, 0)
		out = append(out, st)
	}
	return out, rows.Err()
}
