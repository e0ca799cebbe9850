package store

import "time"

// Case statuses.
const (
	CaseStatusOpen   = "open"
	CaseStatusClosed = "closed"
)

// Frame statuses follow the processing lifecycle. A frame is in flight while
// pending or processing.
const (
	FrameStatusPending    = "pending"
	FrameStatusProcessing = "processing"
	FrameStatusDone       = "done"
	FrameStatusFailed     = "failed"
)

// Notification statuses. New notifications start pending and are resolved by
// an operator.
const (
	NotificationStatusPending   = "pending"
	NotificationStatusConfirmed = "confirmed"
	NotificationStatusDismissed = "dismissed"
)

// Case is a missing-person record. Only open cases participate in matching.
type Case struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Frame is one uploaded camera frame and its processing outcome.
type Frame struct {
	ID        string    `json:"id"`
	Source    string    `json:"source,omitempty"`
	Path      string    `json:"-"`
	Status    string    `json:"status"`
	FaceCount int       `json:"face_count"`
	// Error holds the failure reason for failed frames.
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notification records a face match of a frame against a case. At most one
// notification exists per (case, frame) pair regardless of how many faces in
// the frame matched.
type Notification struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	FrameID   string    `json:"frame_id"`
	// Score is the winning similarity score in (threshold, 1].
	Score     float64   `json:"score"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
