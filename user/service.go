package user

import (
	"context"
	"fmt"
	"strings"
)

// Service exposes business-level user directory operations.
type Service struct {
	repo Repository
}

// NewService builds a Service using the provided repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers a new user. At least one reachable identifier (email or
// phone) is required so the identity layer can deliver one-time codes.
func (s *Service) Create(ctx context.Context, params CreateParams) (User, error) {
	params.Email = normalize(params.Email)
	params.Phone = normalize(params.Phone)
	params.FiscalID = normalize(params.FiscalID)

	if params.Email == nil && params.Phone == nil {
		return User{}, fmt.Errorf("user: email or phone required")
	}
	if params.Email != nil && !strings.Contains(*params.Email, "@") {
		return User{}, fmt.Errorf("user: invalid email %q", *params.Email)
	}

	return s.repo.Create(ctx, params)
}

// GetByID returns the user for the given identifier.
func (s *Service) GetByID(ctx context.Context, id int64) (User, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of users matching the filters.
func (s *Service) List(ctx context.Context, filters Filters) ([]User, int, error) {
	return s.repo.List(ctx, filters)
}

// SoftDelete marks a user deleted. Existing loans and sessions survive.
func (s *Service) SoftDelete(ctx context.Context, id int64) error {
	return s.repo.SoftDelete(ctx, id)
}

// SetCreditScore records an updated credit score for the user.
func (s *Service) SetCreditScore(ctx context.Context, id int64, score int) (User, error) {
	if score < 0 {
		return User{}, fmt.Errorf("user: credit score must not be negative")
	}
	return s.repo.SetCreditScore(ctx, id, score)
}

// normalize trims the value and collapses empty strings to nil so the unique
// indexes only ever see present identifiers.
func normalize(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
