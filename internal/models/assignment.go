package models

import "time"

// AssignmentStatus is derived from the assignment's evaluation: an
// assignment is COMPLETED once its evaluation has been submitted.
type AssignmentStatus string

const (
	AssignmentStatusPending   AssignmentStatus = "PENDING"
	AssignmentStatusCompleted AssignmentStatus = "COMPLETED"
)

// ReviewAssignment links a reviewer to a (project, stage) gate review.
// A reviewer holds at most one assignment per (project, stage).
type ReviewAssignment struct {
	ID           string
	ProjectID    string
	Stage        int
	ReviewerID   string
	AssignedBy   string
	Instructions string
	DueDate      *time.Time
	Status       AssignmentStatus
	CreatedAt    time.Time
}

// SessionState is the derived state of the review session for a
// (project, stage). It is computed from assignment and evaluation
// counts at query time, never stored.
type SessionState string

const (
	SessionNoReviewers SessionState = "NO_REVIEWERS"
	SessionInProgress  SessionState = "IN_PROGRESS"
	SessionAllComplete SessionState = "ALL_COMPLETE"
	SessionApproved    SessionState = "APPROVED"
)

// GateApproval records the irreversible approval of a review session.
type GateApproval struct {
	ID           string
	ProjectID    string
	Stage        int
	ApprovedBy   string
	Decision     Decision // aggregate decision applied to the project
	AverageScore float64
	ApprovedAt   time.Time
}
