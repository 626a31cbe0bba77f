package models

import "time"

// ProjectStatus represents the lifecycle status of a project.
type ProjectStatus string

const (
	ProjectStatusActive        ProjectStatus = "ACTIVE"
	ProjectStatusPendingReview ProjectStatus = "PENDING_REVIEW"
	ProjectStatusOnHold        ProjectStatus = "ON_HOLD"
	ProjectStatusCompleted     ProjectStatus = "COMPLETED"
	ProjectStatusTerminated    ProjectStatus = "TERMINATED"
	ProjectStatusRedFlag       ProjectStatus = "RED_FLAG"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusActive, ProjectStatusPendingReview, ProjectStatusOnHold,
		ProjectStatusCompleted, ProjectStatusTerminated, ProjectStatusRedFlag:
		return true
	}
	return false
}

// MaxStage is the last gate stage a project can pass.
const MaxStage = 3

// Project represents a research project moving through stage gates.
type Project struct {
	ID          string
	Name        string
	Description string
	LeadID      string
	Stage       int // 0..MaxStage
	Status      ProjectStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Terminal reports whether the project can no longer move through gates.
func (p *Project) Terminal() bool {
	return p.Status == ProjectStatusCompleted || p.Status == ProjectStatusTerminated
}
