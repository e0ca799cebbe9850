// Package mock provides an in-memory implementation of the store interfaces
// for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/findwatch/findwatch/internal/store"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// MockStore is an in-memory store.Store. Zero value is not usable; create
// with NewMockStore.
type MockStore struct {
	mu            sync.RWMutex
	cases         map[string]*store.Case
	frames        map[string]*store.Frame
	notifications map[string]*store.Notification
	// pairSeen tracks (case_id, frame_id) pairs for notification dedup.
	pairSeen map[[2]string]string

	// Error injection
	CreateCaseError         error
	GetCaseError            error
	ListCasesError          error
	CloseCaseError          error
	CountActiveCasesError   error
	CreateFrameError        error
	GetFrameError           error
	UpdateFrameError        error
	CountInFlightError      error
	CreateNotificationError error
	GetNotificationError    error
	ListNotificationsError  error
	UpdateNotificationError error
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		cases:         make(map[string]*store.Case),
		frames:        make(map[string]*store.Frame),
		notifications: make(map[string]*store.Notification),
		pairSeen:      make(map[[2]string]string),
	}
}

func (m *MockStore) CreateCase(ctx context.Context, c *store.Case) error {
	if m.CreateCaseError != nil {
		return m.CreateCaseError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.cases[c.ID] = &cp
	return nil
}

func (m *MockStore) GetCase(ctx context.Context, id string) (*store.Case, error) {
	if m.GetCaseError != nil {
		return nil, m.GetCaseError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockStore) ListCases(ctx context.Context, status string) ([]*store.Case, error) {
	if m.ListCasesError != nil {
		return nil, m.ListCasesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cases []*store.Case
	for _, c := range m.cases {
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		cases = append(cases, &cp)
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].ID < cases[j].ID })
	return cases, nil
}

func (m *MockStore) CloseCase(ctx context.Context, id string) error {
	if m.CloseCaseError != nil {
		return m.CloseCaseError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return store.ErrNotFound
	}
	if c.Status == store.CaseStatusClosed {
		return nil
	}
	c.Status = store.CaseStatusClosed
	now := nowUTC()
	c.ClosedAt = &now
	return nil
}

func (m *MockStore) CountActiveCases(ctx context.Context) (int, error) {
	if m.CountActiveCasesError != nil {
		return 0, m.CountActiveCasesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.cases {
		if c.Status == store.CaseStatusOpen {
			count++
		}
	}
	return count, nil
}

func (m *MockStore) CreateFrame(ctx context.Context, f *store.Frame) error {
	if m.CreateFrameError != nil {
		return m.CreateFrameError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.frames[f.ID] = &cp
	return nil
}

func (m *MockStore) GetFrame(ctx context.Context, id string) (*store.Frame, error) {
	if m.GetFrameError != nil {
		return nil, m.GetFrameError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.frames[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MockStore) UpdateFrame(ctx context.Context, f *store.Frame) error {
	if m.UpdateFrameError != nil {
		return m.UpdateFrameError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.frames[f.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Status = f.Status
	existing.FaceCount = f.FaceCount
	existing.Error = f.Error
	existing.UpdatedAt = nowUTC()
	return nil
}

func (m *MockStore) CountInFlight(ctx context.Context) (int, error) {
	if m.CountInFlightError != nil {
		return 0, m.CountInFlightError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, f := range m.frames {
		if f.Status == store.FrameStatusPending || f.Status == store.FrameStatusProcessing {
			count++
		}
	}
	return count, nil
}

func (m *MockStore) CreateNotification(ctx context.Context, n *store.Notification) (bool, error) {
	if m.CreateNotificationError != nil {
		return false, m.CreateNotificationError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pair := [2]string{n.CaseID, n.FrameID}
	if _, exists := m.pairSeen[pair]; exists {
		return false, nil
	}
	cp := *n
	m.notifications[n.ID] = &cp
	m.pairSeen[pair] = n.ID
	return true, nil
}

func (m *MockStore) GetNotification(ctx context.Context, id string) (*store.Notification, error) {
	if m.GetNotificationError != nil {
		return nil, m.GetNotificationError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MockStore) ListNotifications(ctx context.Context, status, caseID string) ([]*store.Notification, error) {
	if m.ListNotificationsError != nil {
		return nil, m.ListNotificationsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var notifications []*store.Notification
	for _, n := range m.notifications {
		if status != "" && n.Status != status {
			continue
		}
		if caseID != "" && n.CaseID != caseID {
			continue
		}
		cp := *n
		notifications = append(notifications, &cp)
	}
	sort.Slice(notifications, func(i, j int) bool {
		if !notifications[i].CreatedAt.Equal(notifications[j].CreatedAt) {
			return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
		}
		return notifications[i].ID < notifications[j].ID
	})
	return notifications, nil
}

func (m *MockStore) UpdateNotificationStatus(ctx context.Context, id, status string) error {
	if m.UpdateNotificationError != nil {
		return m.UpdateNotificationError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return store.ErrNotFound
	}
	n.Status = status
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Verify interface compliance.
var _ store.Store = (*MockStore)(nil)
