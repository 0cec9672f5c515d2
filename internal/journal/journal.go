// Package journal records finished runs and their conversations in SQLite so
// an operator can see what a run did after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"dnswatch/internal/domain"
)

// Run modes.
const (
	ModeAgent  = "agent"
	ModeDirect = "direct"
)

const defaultListLimit = 20

// timeLayout is fixed-width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var ErrNotFound = errors.New("run not found")

// Run is one journal entry. Messages are only populated by GetRun.
type Run struct {
	ID         string
	Mode       string
	Hostname   string
	Provider   string
	Outcome    string
	Final      string
	Error      string
	PreviousIP string
	NewIP      string
	Changed    bool
	Notified   bool
	Turns      int
	ToolCalls  int
	StartedAt  time.Time
	FinishedAt time.Time
	Messages   []domain.Message
}

func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Store is the SQLite-backed journal.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates the database file and its directory if needed and migrates
// the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger = logger.Named("journal")
	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordRun stores r and its messages in one transaction.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return errors.New("run id is required")
	}
	if r.Mode == "" {
		r.Mode = ModeAgent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, mode, hostname, provider, outcome, final, error,
			previous_ip, new_ip, changed, notified, turns, tool_calls, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Mode, r.Hostname, r.Provider, r.Outcome, r.Final, r.Error,
		r.PreviousIP, r.NewIP, r.Changed, r.Notified, r.Turns, r.ToolCalls,
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}

	for i, m := range r.Messages {
		var calls sql.NullString
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls of message %d: %w", i, err)
			}
			calls = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_messages (run_id, seq, role, content, tool_calls, tool_call_id, tool_name)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, m.Role, m.Content, calls, m.ToolCallID, m.ToolName,
		); err != nil {
			return fmt.Errorf("insert message %d of run %s: %w", i, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", r.ID, err)
	}
	s.logger.Debug("run recorded", zap.String("run_id", r.ID), zap.Int("messages", len(r.Messages)))
	return nil
}

const runColumns = `id, mode, hostname, COALESCE(provider, ''), outcome, COALESCE(final, ''), COALESCE(error, ''),
	COALESCE(previous_ip, ''), COALESCE(new_ip, ''), changed, notified, turns, tool_calls, started_at, finished_at`

// ListRuns returns the most recent runs first, without messages. A limit of
// zero or less means the default of 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun loads the run whose ID starts with idPrefix, with its messages.
// An ambiguous prefix is an error.
func (s *Store) GetRun(ctx context.Context, idPrefix string) (*Run, error) {
	if idPrefix == "" {
		return nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id LIKE ? ESCAPE '\\' ORDER BY started_at DESC LIMIT 2",
		escapeLike(idPrefix)+"%")
	if err != nil {
		return nil, err
	}
	var found []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, idPrefix)
	case 2:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", idPrefix)
	}

	r := found[0]
	r.Messages, err = s.messages(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) messages(ctx context.Context, runID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, COALESCE(content, ''), tool_calls, COALESCE(tool_call_id, ''), COALESCE(tool_name, '')
		 FROM run_messages WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var calls sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &calls, &m.ToolCallID, &m.ToolName); err != nil {
			return nil, err
		}
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of run %s: %w", runID, err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var started, finished string
	if err := sc.Scan(&r.ID, &r.Mode, &r.Hostname, &r.Provider, &r.Outcome, &r.Final, &r.Error,
		&r.PreviousIP, &r.NewIP, &r.Changed, &r.Notified, &r.Turns, &r.ToolCalls, &started, &finished); err != nil {
		return Run{}, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
