package bugs

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bugtrail/bugtrail/internal/shared"
)

// RepositoryPort defines data access methods for bugs.
type RepositoryPort interface {
	ListBugs(ctx context.Context) ([]Bug, error)
	GetBug(ctx context.Context, id string) (Bug, error)
	CreateBug(ctx context.Context, bug Bug) error
	UpdateBug(ctx context.Context, bug Bug) error
	DeleteBug(ctx context.Context, id string) error
	ListComments(ctx context.Context, bugID string) ([]Comment, error)
	AddComment(ctx context.Context, comment Comment) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const bugColumns = `id, title, description, steps_to_reproduce, status, severity,
	COALESCE(assigned_to, ''), reported_by, game_area, platform, created_at, updated_at`

// ListBugs returns every bug, newest first.
func (r *Repository) ListBugs(ctx context.Context) ([]Bug, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bugColumns+` FROM bugs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Bug
	for rows.Next() {
		bug, err := scanBug(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bug)
	}
	return out, rows.Err()
}

// GetBug fetches a single bug by id.
func (r *Repository) GetBug(ctx context.Context, id string) (Bug, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bugColumns+` FROM bugs WHERE id = $1`, id)
	bug, err := scanBug(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bug{}, shared.ErrNotFound
		}
		return Bug{}, err
	}
	return bug, nil
}

// CreateBug inserts a new bug.
func (r *Repository) CreateBug(ctx context.Context, bug Bug) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO bugs (id, title, description, steps_to_reproduce, status, severity,
			assigned_to, reported_by, game_area, platform, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12)`,
		bug.ID, bug.Title, bug.Description, bug.StepsToReproduce, bug.Status, bug.Severity,
		bug.AssignedTo, bug.ReportedBy, bug.GameArea, bug.Platform, bug.CreatedAt, bug.UpdatedAt)
	return err
}

// UpdateBug replaces the mutable fields of an existing bug.
func (r *Repository) UpdateBug(ctx context.Context, bug Bug) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bugs SET title = $2, description = $3, steps_to_reproduce = $4, status = $5,
			severity = $6, assigned_to = NULLIF($7, ''), game_area = $8, platform = $9, updated_at = $10
		 WHERE id = $1`,
		bug.ID, bug.Title, bug.Description, bug.StepsToReproduce, bug.Status,
		bug.Severity, bug.AssignedTo, bug.GameArea, bug.Platform, bug.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteBug removes a bug and its comments.
func (r *Repository) DeleteBug(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bugs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListComments returns a bug's comments oldest first.
func (r *Repository) ListComments(ctx context.Context, bugID string) ([]Comment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, bug_id, user_id, user_name, content, created_at
		 FROM bug_comments WHERE bug_id = $1 ORDER BY created_at`, bugID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.BugID, &c.UserID, &c.UserName, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddComment appends a comment to a bug.
func (r *Repository) AddComment(ctx context.Context, comment Comment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO bug_comments (id, bug_id, user_id, user_name, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		comment.ID, comment.BugID, comment.UserID, comment.UserName, comment.Content, comment.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBug(row rowScanner) (Bug, error) {
	var (
		bug                  Bug
		status, severity     string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&bug.ID, &bug.Title, &bug.Description, &bug.StepsToReproduce,
		&status, &severity, &bug.AssignedTo, &bug.ReportedBy, &bug.GameArea, &bug.Platform,
		&createdAt, &updatedAt); err != nil {
		return Bug{}, err
	}
	bug.Status = Status(status)
	bug.Severity = Severity(severity)
	bug.CreatedAt = createdAt
	bug.UpdatedAt = updatedAt
	return bug, nil
}
