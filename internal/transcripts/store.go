// Package transcripts persists finished agent sessions in SQLite.
package transcripts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	agentctx "github.com/haasonsaas/lore/internal/agent/context"
	"github.com/haasonsaas/lore/pkg/models"
)

// ErrNotFound is returned by Load and Delete for an unknown session id.
var ErrNotFound = errors.New("transcript not found")

// Record is one persisted session.
type Record struct {
	SessionID  string
	Provider   string
	Model      string
	Phase      string
	Rounds     int
	FinalText  string
	Usage      models.Usage
	Messages   []models.Message
	Compaction []agentctx.CompactionEvent
	Candidates []models.Candidate
	CreatedAt  time.Time
}

// Summary is the listing view of a Record.
type Summary struct {
	SessionID  string
	Provider   string
	Model      string
	Phase      string
	Rounds     int
	Messages   int
	Candidates int
	CreatedAt  time.Time
}

// Config configures a Store.
type Config struct {
	// Path is the database file. Empty means an in-memory database.
	Path   string
	Logger *slog.Logger
}

// Store reads and writes transcripts.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and migrates) the transcript database.
func Open(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Store{db: db, logger: logger}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			phase TEXT NOT NULL,
			rounds INTEGER NOT NULL,
			final_text TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			name TEXT,
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS compactions (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			level INTEGER NOT NULL,
			ratio REAL NOT NULL,
			messages_before INTEGER NOT NULL,
			messages_after INTEGER NOT NULL,
			tokens_before INTEGER NOT NULL,
			tokens_after INTEGER NOT NULL,
			at DATETIME NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS candidates (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			title TEXT NOT NULL,
			kind TEXT,
			summary TEXT NOT NULL,
			evidence TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_session ON candidates(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate transcripts schema: %w", err)
		}
	}
	return nil
}

// Save writes a record, replacing any previous record with the same id.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.SessionID == "" {
		return errors.New("transcript session id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteSession(ctx, tx, rec.SessionID); err != nil {
		return fmt.Errorf("failed to replace session: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, provider, model, phase, rounds, final_text, input_tokens, output_tokens, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Provider, rec.Model, rec.Phase, rec.Rounds, rec.FinalText,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.TotalTokens, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i, msg := range rec.Messages {
		var calls sql.NullString
		if len(msg.ToolCalls) > 0 {
			payload, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to marshal tool calls: %w", err)
			}
			calls = sql.NullString{String: string(payload), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, seq, role, content, tool_calls, tool_call_id, name)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, i, string(msg.Role), msg.Content, calls, nullString(msg.ToolCallID), nullString(msg.Name),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	for i, ev := range rec.Compaction {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO compactions (session_id, seq, level, ratio, messages_before, messages_after, tokens_before, tokens_after, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, i, int(ev.Level), ev.Ratio, ev.MessagesBefore, ev.MessagesAfter, ev.TokensBefore, ev.TokensAfter, ev.At,
		)
		if err != nil {
			return fmt.Errorf("failed to insert compaction %d: %w", i, err)
		}
	}

	for i, c := range rec.Candidates {
		evidence, err := json.Marshal(c.Evidence)
		if err != nil {
			return fmt.Errorf("failed to marshal evidence: %w", err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = rec.CreatedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO candidates (id, session_id, seq, title, kind, summary, evidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, rec.SessionID, i, c.Title, nullString(c.Kind), c.Summary, string(evidence), createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert candidate %q: %w", c.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}
	s.logger.Debug("transcript saved",
		"session_id", rec.SessionID,
		"messages", len(rec.Messages),
		"compactions", len(rec.Compaction),
		"candidates", len(rec.Candidates),
	)
	return nil
}

// Load reads a record by session id.
func (s *Store) Load(ctx context.Context, sessionID string) (*Record, error) {
	rec := &Record{SessionID: sessionID}
	err := s.db.QueryRowContext(ctx, `
		SELECT provider, model, phase, rounds, final_text, input_tokens, output_tokens, total_tokens, created_at
		FROM sessions WHERE id = ?`, sessionID,
	).Scan(&rec.Provider, &rec.Model, &rec.Phase, &rec.Rounds, &rec.FinalText,
		&rec.Usage.InputTokens, &rec.Usage.OutputTokens, &rec.Usage.TotalTokens, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if rec.Messages, err = s.loadMessages(ctx, sessionID); err != nil {
		return nil, err
	}
	if rec.Compaction, err = s.loadCompactions(ctx, sessionID); err != nil {
		return nil, err
	}
	if rec.Candidates, err = s.loadCandidates(ctx, sessionID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) loadMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id, name
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			msg                 models.Message
			role                string
			calls, callID, name sql.NullString
		)
		if err := rows.Scan(&role, &msg.Content, &calls, &callID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.ToolCallID = callID.String
		msg.Name = name.String
		if calls.Valid {
			if err := json.Unmarshal([]byte(calls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) loadCompactions(ctx context.Context, sessionID string) ([]agentctx.CompactionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, ratio, messages_before, messages_after, tokens_before, tokens_after, at
		FROM compactions WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query compactions: %w", err)
	}
	defer rows.Close()

	var out []agentctx.CompactionEvent
	for rows.Next() {
		var ev agentctx.CompactionEvent
		var level int
		if err := rows.Scan(&level, &ev.Ratio, &ev.MessagesBefore, &ev.MessagesAfter, &ev.TokensBefore, &ev.TokensAfter, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan compaction: %w", err)
		}
		ev.Level = agentctx.Level(level)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) loadCandidates(ctx context.Context, sessionID string) ([]models.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, kind, summary, evidence, created_at
		FROM candidates WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		var c models.Candidate
		var kind, evidence sql.NullString
		if err := rows.Scan(&c.ID, &c.Title, &kind, &c.Summary, &evidence, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.Kind = kind.String
		if evidence.Valid && evidence.String != "" {
			if err := json.Unmarshal([]byte(evidence.String), &c.Evidence); err != nil {
				return nil, fmt.Errorf("failed to decode evidence: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// List returns the most recent sessions first. A non-positive limit means 20.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.provider, s.model, s.phase, s.rounds, s.created_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id),
			(SELECT COUNT(*) FROM candidates c WHERE c.session_id = s.id)
		FROM sessions s
		ORDER BY s.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.SessionID, &sum.Provider, &sum.Model, &sum.Phase, &sum.Rounds, &sum.CreatedAt, &sum.Messages, &sum.Candidates); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a session and everything recorded under it.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err := deleteSession(ctx, tx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return tx.Commit()
}

// deleteSession clears child rows explicitly so it does not depend on the
// foreign_keys pragma being enabled on the connection.
func deleteSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	for _, table := range []string{"messages", "compactions", "candidates"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
