// Package archive keeps a durable record of every orchestrator attempt:
// the diff, summaries, test output and timing of each coding or review
// session, in a SQLite database next to the graph file.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no session matches a query.
var ErrNotFound = errors.New("session not found")

// Outcome classifies how a session ended.
type Outcome string

// Session outcomes
const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
	OutcomeReturned Outcome = "returned_to_queue"
)

// Session is one archived attempt.
type Session struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	ItemID     string    `json:"item_id"`
	Phase      string    `json:"phase"`
	Attempt    int       `json:"attempt"`
	Outcome    Outcome   `json:"outcome"`
	Summary    string    `json:"summary,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Diff       string    `json:"diff,omitempty"`
	TestOutput string    `json:"test_output,omitempty"`
	Issues     []string  `json:"issues,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// Duration is the wall time of the session.
func (s *Session) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// Archive is a SQLite-backed session store.
type Archive struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open creates or opens the archive database at path.
func Open(ctx context.Context, path string) (*Archive, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", connString(path))
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive db: %w", err)
	}

	a := &Archive{db: db, path: path}
	if err := a.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return a, nil
}

func (a *Archive) initSchema(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w\nSQL: %s", err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO config (key, value) VALUES ('schema_version', '1')`); err != nil {
		return fmt.Errorf("seed schema version: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// Path returns the database file path.
func (a *Archive) Path() string {
	return a.path
}

// Record inserts a session, assigning an id and end time when missing.
func (a *Archive) Record(ctx context.Context, s *Session) error {
	if s.ProjectID == "" || s.ItemID == "" {
		return fmt.Errorf("session requires project and item")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.EndedAt.IsZero() {
		s.EndedAt = time.Now().UTC()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = s.EndedAt
	}
	if s.Attempt == 0 {
		s.Attempt = 1
	}
	issues, err := json.Marshal(s.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, item_id, phase, attempt, outcome, summary, reason,
		                      diff, test_output, issues, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProjectID, s.ItemID, s.Phase, s.Attempt, string(s.Outcome), s.Summary, s.Reason,
		s.Diff, s.TestOutput, string(issues), formatTime(s.StartedAt), formatTime(s.EndedAt))
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// Query filters List. Empty fields match everything.
type Query struct {
	ProjectID string
	ItemID    string
	Outcome   Outcome
	Limit     int
}

// List returns matching sessions, oldest first.
func (a *Archive) List(ctx context.Context, q Query) ([]*Session, error) {
	var (
		where []string
		args  []any
	)
	if q.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, q.ProjectID)
	}
	if q.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, q.ItemID)
	}
	if q.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(q.Outcome))
	}
	query := `SELECT id, project_id, item_id, phase, attempt, outcome, summary, reason,
	                 diff, test_output, issues, started_at, ended_at FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ended_at, rowid"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Latest returns the most recent session for an item with the given outcome.
func (a *Archive) Latest(ctx context.Context, projectID, itemID string, outcome Outcome) (*Session, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, project_id, item_id, phase, attempt, outcome, summary, reason,
		       diff, test_output, issues, started_at, ended_at
		FROM sessions WHERE project_id = ? AND item_id = ? AND outcome = ?
		ORDER BY ended_at DESC, rowid DESC LIMIT 1`, projectID, itemID, string(outcome))
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s %s: %w", projectID, itemID, outcome, ErrNotFound)
	}
	return s, err
}

// Count returns the number of sessions for an item with the given outcome.
func (a *Archive) Count(ctx context.Context, projectID, itemID string, outcome Outcome) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE project_id = ? AND item_id = ? AND outcome = ?`,
		projectID, itemID, string(outcome)).Scan(&n)
	return n, err
}

func scanSession(s interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		sess            Session
		outcome, issues string
		started, ended  string
	)
	err := s.Scan(&sess.ID, &sess.ProjectID, &sess.ItemID, &sess.Phase, &sess.Attempt, &outcome,
		&sess.Summary, &sess.Reason, &sess.Diff, &sess.TestOutput, &issues, &started, &ended)
	if err != nil {
		return nil, err
	}
	sess.Outcome = Outcome(outcome)
	if err := json.Unmarshal([]byte(issues), &sess.Issues); err != nil {
		return nil, fmt.Errorf("parse issues for %s: %w", sess.ID, err)
	}
	sess.StartedAt = parseTime(started)
	sess.EndedAt = parseTime(ended)
	return &sess, nil
}

// timeLayout has a fixed width so stored values sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
