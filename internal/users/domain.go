package users

import (
	"time"

	"github.com/bugtrail/bugtrail/internal/rbac"
)

// User represents a user account for management.
type User struct {
	ID           string
	Email        string
	Name         string
	Role         rbac.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSignInAt *time.Time
}
