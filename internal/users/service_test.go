package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugtrail/bugtrail/internal/rbac"
	"github.com/bugtrail/bugtrail/internal/shared"
)

func TestCreateUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewService(repo)

	user, err := svc.CreateUser(context.Background(), CreateUserInput{
		Email:    "  Ana@Example.COM ",
		Name:     "Ana",
		Password: "correct horse",
		Role:     "Project Manager",
	})
	require.NoError(t, err)
	require.Equal(t, "ana@example.com", user.Email)
	require.Equal(t, rbac.RoleProjectManager, user.Role)
	require.True(t, user.IsActive)
	require.NotEmpty(t, repo.hashes[user.ID])
}

func TestCreateUserRejectsBadInput(t *testing.T) {
	svc := NewService(newFakeUserRepo())

	_, err := svc.CreateUser(context.Background(), CreateUserInput{
		Email: "nope", Name: "Ana", Password: "correct horse", Role: "Tester",
	})
	require.Error(t, err)

	_, err = svc.CreateUser(context.Background(), CreateUserInput{
		Email: "ana@example.com", Name: "Ana", Password: "short", Role: "Tester",
	})
	require.Error(t, err)

	_, err = svc.CreateUser(context.Background(), CreateUserInput{
		Email: "ana@example.com", Name: "Ana", Password: "correct horse", Role: "Wizard",
	})
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestUpdateUser(t *testing.T) {
	repo := seededRepo(t)
	svc := NewService(repo)

	updated, err := svc.UpdateUser(context.Background(), "u2", UpdateUserInput{
		Email:    "ben@example.com",
		Name:     "Benjamin",
		Role:     "Project Manager",
		IsActive: true,
	})
	require.NoError(t, err)
	require.Equal(t, "Benjamin", updated.Name)
	require.Equal(t, rbac.RoleProjectManager, updated.Role)

	_, err = svc.UpdateUser(context.Background(), "missing", UpdateUserInput{
		Email: "x@example.com", Name: "X", Role: "Tester", IsActive: true,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeactivateUser(t *testing.T) {
	repo := seededRepo(t)
	svc := NewService(repo)

	require.NoError(t, svc.DeactivateUser(context.Background(), "u1"))
	user, err := svc.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, user.IsActive)
}
