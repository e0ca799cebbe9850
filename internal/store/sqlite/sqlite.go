// Package sqlite implements the store interfaces on an embedded SQLite
// database. It is the default backend for single-node edge deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/findwatch/findwatch/internal/store"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cases (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'open',
	created_at  TIMESTAMP NOT NULL,
	closed_at   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS frames (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL DEFAULT '',
	path       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	face_count INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_frames_status ON frames (status);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL REFERENCES cases (id),
	frame_id   TEXT NOT NULL REFERENCES frames (id),
	score      REAL NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL,
	UNIQUE (case_id, frame_id)
);

CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications (status);
`

// Store is a SQLite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists. WAL mode keeps readers unblocked while pipeline workers
// write.
func Open(path string, maxOpenConns, maxIdleConns int) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateCase(ctx context.Context, c *store.Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, name, description, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.Description, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, id string) (*store.Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, created_at, closed_at
		FROM cases WHERE id = ?
	`, id)
	return scanCase(row)
}

func (s *Store) ListCases(ctx context.Context, status string) ([]*store.Case, error) {
	query := `
		SELECT id, name, description, status, created_at, closed_at
		FROM cases
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var cases []*store.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return cases, nil
}

func (s *Store) CloseCase(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cases SET status = ?, closed_at = ?
		WHERE id = ? AND status = ?
	`, store.CaseStatusClosed, time.Now().UTC(), id, store.CaseStatusOpen)
	if err != nil {
		return fmt.Errorf("close case: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close case rows affected: %w", err)
	}
	if affected == 0 {
		// Either unknown or already closed; closing twice is a no-op.
		if _, err := s.GetCase(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CountActiveCases(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cases WHERE status = ?", store.CaseStatusOpen,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active cases: %w", err)
	}
	return count, nil
}

func (s *Store) CreateFrame(ctx context.Context, f *store.Frame) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames (id, source, path, status, face_count, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.Source, f.Path, f.Status, f.FaceCount, f.Error, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

func (s *Store) GetFrame(ctx context.Context, id string) (*store.Frame, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, path, status, face_count, error, created_at, updated_at
		FROM frames WHERE id = ?
	`, id)

	f := &store.Frame{}
	err := row.Scan(&f.ID, &f.Source, &f.Path, &f.Status, &f.FaceCount, &f.Error, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan frame: %w", err)
	}
	return f, nil
}

func (s *Store) UpdateFrame(ctx context.Context, f *store.Frame) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE frames SET status = ?, face_count = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, f.Status, f.FaceCount, f.Error, time.Now().UTC(), f.ID)
	if err != nil {
		return fmt.Errorf("update frame: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update frame rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountInFlight(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM frames WHERE status IN (?, ?)",
		store.FrameStatusPending, store.FrameStatusProcessing,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count in-flight frames: %w", err)
	}
	return count, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *store.Notification) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, case_id, frame_id, score, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id, frame_id) DO NOTHING
	`, n.ID, n.CaseID, n.FrameID, n.Score, n.Status, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert notification rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*store.Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, frame_id, score, status, created_at
		FROM notifications WHERE id = ?
	`, id)

	n := &store.Notification{}
	err := row.Scan(&n.ID, &n.CaseID, &n.FrameID, &n.Score, &n.Status, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, status, caseID string) ([]*store.Notification, error) {
	query := `
		SELECT id, case_id, frame_id, score, status, created_at
		FROM notifications WHERE 1=1
	`
	var args []any
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	if caseID != "" {
		query += " AND case_id = ?"
		args = append(args, caseID)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*store.Notification
	for rows.Next() {
		n := &store.Notification{}
		if err := rows.Scan(&n.ID, &n.CaseID, &n.FrameID, &n.Score, &n.Status, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

func (s *Store) UpdateNotificationStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update notification rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*store.Case, error) {
	c := &store.Case{}
	var closedAt sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Status, &c.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan case: %w", err)
	}
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}
	return c, nil
}

// Verify interface compliance.
var _ store.Store = (*Store)(nil)
