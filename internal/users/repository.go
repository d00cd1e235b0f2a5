package users

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bugtrail/bugtrail/internal/platform/db"
	"github.com/bugtrail/bugtrail/internal/rbac"
	"github.com/bugtrail/bugtrail/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, user User, passwordHash string) error
	UpdateUser(ctx context.Context, user User) error
	DeactivateUser(ctx context.Context, id string) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `u.id, u.email, u.name, COALESCE(p.role, ''), u.is_active,
	u.created_at, u.updated_at, u.last_sign_in_at`

// ListUsers returns all users with their profile roles.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users u
		 LEFT JOIN profiles p ON p.user_id = u.id ORDER BY u.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

// GetUser fetches a single user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u
		 LEFT JOIN profiles p ON p.user_id = u.id WHERE u.id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

// CreateUser inserts the account row and its profile in one transaction.
func (r *Repository) CreateUser(ctx context.Context, user User, passwordHash string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, name, password_hash, is_active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			user.ID, user.Email, user.Name, passwordHash, user.IsActive, user.CreatedAt, user.UpdatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO profiles (user_id, role) VALUES ($1, $2)`,
			user.ID, string(user.Role))
		return err
	})
}

// UpdateUser updates account fields and the profile role together.
func (r *Repository) UpdateUser(ctx context.Context, user User) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET email = $2, name = $3, is_active = $4, updated_at = $5 WHERE id = $1`,
			user.ID, user.Email, user.Name, user.IsActive, user.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO profiles (user_id, role) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role`,
			user.ID, string(user.Role))
		return err
	})
}

// DeactivateUser disables an account without losing its history.
func (r *Repository) DeactivateUser(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_active = FALSE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		user User
		role string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &role, &user.IsActive,
		&user.CreatedAt, &user.UpdatedAt, &user.LastSignInAt); err != nil {
		return User{}, err
	}
	// Unknown or missing roles surface as the zero Role; callers decide how to
	// present them.
	if parsed, ok := rbac.ParseRole(role); ok {
		user.Role = parsed
	}
	return user, nil
}
