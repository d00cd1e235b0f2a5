package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bugtrail/bugtrail/internal/rbac"
)

// ErrUnknownRole indicates a role string outside the closed set.
var ErrUnknownRole = errors.New("users: unknown role")

// Service handles user management business logic.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser fetches a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUserInput carries the fields of a new account.
type CreateUserInput struct {
	Email    string `validate:"required,email"`
	Name     string `validate:"required,max=120"`
	Password string `validate:"required,min=8"`
	Role     string `validate:"required"`
}

// CreateUser provisions an account with its profile role.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (User, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return User{}, err
	}
	role, ok := rbac.ParseRole(input.Role)
	if !ok {
		return User{}, ErrUnknownRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	now := s.now()
	user := User{
		ID:        uuid.NewString(),
		Email:     input.Email,
		Name:      input.Name,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateUser(ctx, user, string(hash)); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateUserInput carries the editable fields of an account.
type UpdateUserInput struct {
	Email    string `validate:"required,email"`
	Name     string `validate:"required,max=120"`
	Role     string `validate:"required"`
	IsActive bool
}

// UpdateUser updates the account fields and role.
func (s *Service) UpdateUser(ctx context.Context, id string, input UpdateUserInput) (User, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate.Struct(input); err != nil {
		return User{}, err
	}
	role, ok := rbac.ParseRole(input.Role)
	if !ok {
		return User{}, ErrUnknownRole
	}

	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	user.Email = input.Email
	user.Name = input.Name
	user.Role = role
	user.IsActive = input.IsActive
	user.UpdatedAt = s.now()

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// DeactivateUser disables an account.
func (s *Service) DeactivateUser(ctx context.Context, id string) error {
	return s.repo.DeactivateUser(ctx, id)
}
