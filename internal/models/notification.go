package models

import "time"

// EventType categorizes a notification.
type EventType string

const (
	EventReviewerAssigned    EventType = "reviewer_assigned"
	EventEvaluationSubmitted EventType = "evaluation_submitted"
	EventSessionApproved     EventType = "session_approved"
	EventStatusChanged       EventType = "status_changed"
)

// Notification is an in-app notification delivered best-effort.
type Notification struct {
	ID          string
	RecipientID string
	EventType   EventType
	Payload     string // JSON
	Read        bool
	CreatedAt   time.Time
}
