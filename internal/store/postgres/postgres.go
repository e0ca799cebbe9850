// Package postgres implements the store interfaces on PostgreSQL for
// multi-node deployments where several ingest servers share one database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/findwatch/findwatch/internal/store"
	_ "github.com/lib/pq"
)

// Store is a PostgreSQL-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open creates a connection pool, verifies connectivity, and applies pending
// migrations.
func Open(url string, maxOpenConns, maxIdleConns int) (*Store, error) {
	if url == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateCase(ctx context.Context, c *store.Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, name, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Name, c.Description, c.Status, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, id string) (*store.Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, created_at, closed_at
		FROM cases WHERE id = $1
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
		query += " WHERE status = $1"
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
		UPDATE cases SET status = $1, closed_at = NOW()
		WHERE id = $2 AND status = $3
	`, store.CaseStatusClosed, id, store.CaseStatusOpen)
	if err != nil {
		return fmt.Errorf("close case: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close case rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetCase(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CountActiveCases(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cases WHERE status = $1", store.CaseStatusOpen,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active cases: %w", err)
	}
	return count, nil
}

func (s *Store) CreateFrame(ctx context.Context, f *store.Frame) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames (id, source, path, status, face_count, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ID, f.Source, f.Path, f.Status, f.FaceCount, f.Error, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

func (s *Store) GetFrame(ctx context.Context, id string) (*store.Frame, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, path, status, face_count, error, created_at, updated_at
		FROM frames WHERE id = $1
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
		UPDATE frames SET status = $1, face_count = $2, error = $3, updated_at = NOW()
		WHERE id = $4
	`, f.Status, f.FaceCount, f.Error, f.ID)
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
		"SELECT COUNT(*) FROM frames WHERE status IN ($1, $2)",
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
		VALUES ($1, $2, $3, $4, $5, $6)
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
		FROM notifications WHERE id = $1
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
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if caseID != "" {
		args = append(args, caseID)
		query += fmt.Sprintf(" AND case_id = $%d", len(args))
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
		"UPDATE notifications SET status = $1 WHERE id = $2", status, id)
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
