// Package store defines the persistence contracts for cases, frames, and
// notifications, with sqlite, postgres, and mock implementations in
// subpackages.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrCaseClosed is returned when an operation requires an open case.
var ErrCaseClosed = errors.New("case is closed")

// CaseStore manages missing-person cases.
type CaseStore interface {
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id string) (*Case, error)
	// ListCases returns cases filtered by status; an empty status returns
	// all. Results are ordered by id so matching sees a stable case order.
	ListCases(ctx context.Context, status string) ([]*Case, error)
	// CloseCase marks a case closed. Closing an already-closed case is a
	// no-op. Returns ErrNotFound for unknown ids.
	CloseCase(ctx context.Context, id string) error
	// CountActiveCases returns the number of open cases.
	CountActiveCases(ctx context.Context) (int, error)
}

// FrameStore manages uploaded frames and their processing state.
type FrameStore interface {
	CreateFrame(ctx context.Context, f *Frame) error
	GetFrame(ctx context.Context, id string) (*Frame, error)
	// UpdateFrame persists status, face count, and error for an existing
	// frame. Returns ErrNotFound for unknown ids.
	UpdateFrame(ctx context.Context, f *Frame) error
	// CountInFlight returns the number of pending plus processing frames.
	// The readiness gate uses this for admission control.
	CountInFlight(ctx context.Context) (int, error)
}

// NotificationStore manages match notifications.
type NotificationStore interface {
	// CreateNotification inserts a notification unless one already exists
	// for the same (case, frame) pair. Returns created=false on the
	// duplicate path; the insert must be atomic under concurrent workers.
	CreateNotification(ctx context.Context, n *Notification) (created bool, err error)
	GetNotification(ctx context.Context, id string) (*Notification, error)
	// ListNotifications returns notifications filtered by status and/or
	// case id; empty filters match everything. Newest first.
	ListNotifications(ctx context.Context, status, caseID string) ([]*Notification, error)
	// UpdateNotificationStatus resolves a pending notification. Returns
	// ErrNotFound for unknown ids.
	UpdateNotificationStatus(ctx context.Context, id, status string) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	CaseStore
	FrameStore
	NotificationStore

	Close() error
}
