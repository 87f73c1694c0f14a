package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS staff_requests (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		status TEXT NOT NULL,
		answer TEXT,
		created_at INTEGER NOT NULL,
		answered_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_staff_requests_status ON staff_requests(status, created_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateStaffRequest stores a new escalation.
func (s *SQLiteStore) CreateStaffRequest(ctx context.Context, req *domain.StaffRequest) error {
	if req.Status == "" {
		req.Status = domain.StaffRequestOpen
	}
	return withRetry(ctx, "create staff request", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO staff_requests (id, user_id, text, status, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			req.ID, int64(req.UserID), req.Text, string(req.Status), req.CreatedAt.UnixMilli(),
		)
		return err
	})
}

// GetStaffRequest retrieves an escalation by ID.
func (s *SQLiteStore) GetStaffRequest(ctx context.Context, id string) (*domain.StaffRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, text, status, answer, created_at, answered_at
		FROM staff_requests WHERE id = ?`, id)

	req, err := scanStaffRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("staff request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan staff request: %w", err)
	}
	return req, nil
}

// ListStaffRequests returns escalations, newest first.
func (s *SQLiteStore) ListStaffRequests(ctx context.Context, status domain.StaffRequestStatus, limit int) ([]*domain.StaffRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, text, status, answer, created_at, answered_at
		FROM staff_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query staff requests: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close staff request rows", "error", closeErr)
		}
	}()

	var out []*domain.StaffRequest
	for rows.Next() {
		req, err := scanStaffRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staff request row: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staff requests: %w", err)
	}
	return out, nil
}

// MarkStaffRequestAnswered records the answer for an escalation.
func (s *SQLiteStore) MarkStaffRequestAnswered(ctx context.Context, id, answer string, at time.Time) error {
	var rows int64
	err := withRetry(ctx, "mark staff request answered", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE staff_requests SET status = ?, answer = ?, answered_at = ?
			WHERE id = ?`,
			string(domain.StaffRequestAnswered), answer, at.UnixMilli(), id,
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("staff request %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveFeedback stores a feedback note.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, fb *domain.Feedback) error {
	return withRetry(ctx, "save feedback", func() error {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO feedback (user_id, text, created_at) VALUES (?, ?, ?)`,
			int64(fb.UserID), fb.Text, fb.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		fb.ID, err = result.LastInsertId()
		return err
	})
}

// ListFeedback returns feedback notes, newest first.
func (s *SQLiteStore) ListFeedback(ctx context.Context, limit int) ([]*domain.Feedback, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, text, created_at FROM feedback
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("Failed to close feedback rows", "error", closeErr)
		}
	}()

	var out []*domain.Feedback
	for rows.Next() {
		var (
			fb        domain.Feedback
			userID    int64
			createdAt int64
		)
		if err := rows.Scan(&fb.ID, &userID, &fb.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}
		fb.UserID = domain.UserID(userID)
		fb.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStaffRequest(row scanner) (*domain.StaffRequest, error) {
	var (
		req        domain.StaffRequest
		userID     int64
		status     string
		answer     sql.NullString
		createdAt  int64
		answeredAt sql.NullInt64
	)
	if err := row.Scan(&req.ID, &userID, &req.Text, &status, &answer, &createdAt, &answeredAt); err != nil {
		return nil, err
	}
	req.UserID = domain.UserID(userID)
	req.Status = domain.StaffRequestStatus(status)
	req.Answer = answer.String
	req.CreatedAt = time.UnixMilli(createdAt)
	if answeredAt.Valid {
		ts := time.UnixMilli(answeredAt.Int64)
		req.AnsweredAt = &ts
	}
	return &req, nil
}

// withRetry runs op with exponential backoff on SQLITE_BUSY / locked errors.
func withRetry(ctx context.Context, what string, op func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !isConflict(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("Database busy, retrying", "op", what, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// isConflict reports SQLite concurrency errors that warrant a retry.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
