package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bugtrail/bugtrail/internal/rbac"
	"github.com/bugtrail/bugtrail/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID string, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// UserByID fetches a user account by id.
func (s *Service) UserByID(ctx context.Context, id string) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// IdentityByID fetches a user account and shapes it as an identity for
// long-lived consumers such as chat connections.
func (s *Service) IdentityByID(ctx context.Context, id string) (rbac.Identity, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return rbac.Identity{}, err
	}
	return rbac.Identity{ID: user.ID, Email: user.Email, Name: user.Name}, nil
}

// RoleByUserID exposes the authoritative profile role lookup.
func (s *Service) RoleByUserID(ctx context.Context, userID string) (string, error) {
	return s.repo.RoleByUserID(ctx, userID)
}
