// Package auth answers role and permission questions for the gate-review
// workflow. Session management and identity providers are out of scope;
// callers supply an actor's user ID and this package resolves the role.
package auth

import (
	"context"
	"fmt"

	"github.com/stagegate/sgpm/internal/models"
	"github.com/stagegate/sgpm/internal/store"
)

// Service resolves user roles from the store.
type Service struct {
	store store.Store
}

// NewService creates an auth service backed by the given store.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// RoleOf returns the role of the user with the given ID.
func (s *Service) RoleOf(ctx context.Context, userID string) (models.Role, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve role: %w", err)
	}
	return u.Role, nil
}

// CanAssignReviewers reports whether the role may create review assignments.
func CanAssignReviewers(role models.Role) bool {
	return role == models.RoleAdmin || role == models.RoleGatekeeper
}

// CanApproveSession reports whether the role may approve a review session.
func CanApproveSession(role models.Role) bool {
	return role == models.RoleAdmin || role == models.RoleGatekeeper
}

// EligibleReviewer reports whether the role may be assigned gate reviews.
func EligibleReviewer(role models.Role) bool {
	switch role {
	case models.RoleAdmin, models.RoleGatekeeper, models.RoleReviewer:
		return true
	}
	return false
}
