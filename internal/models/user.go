package models

import "time"

// Role represents a user's role in the organization.
type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleGatekeeper  Role = "GATEKEEPER"
	RoleProjectLead Role = "PROJECT_LEAD"
	RoleResearcher  Role = "RESEARCHER"
	RoleReviewer    Role = "REVIEWER"
	RoleUser        Role = "USER"

	// RoleCustom is a deployment-defined role. It carries no built-in
	// gate-review permissions.
	RoleCustom Role = "CUSTOM"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleGatekeeper, RoleProjectLead, RoleResearcher, RoleReviewer, RoleUser, RoleCustom:
		return true
	}
	return false
}

// User represents a registered user.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}
