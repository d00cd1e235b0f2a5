package bugs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrUnknownStatus indicates a status string outside the closed set.
	ErrUnknownStatus = errors.New("bugs: unknown status")
	// ErrUnknownSeverity indicates a severity string outside the closed set.
	ErrUnknownSeverity = errors.New("bugs: unknown severity")
)

// Notifier delivers assignment notifications out of band.
type Notifier interface {
	BugAssigned(ctx context.Context, bug Bug, assigneeID string) error
}

// StatsInvalidator drops derived aggregates after a bug mutation.
type StatsInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Service handles bug business logic.
type Service struct {
	repo     RepositoryPort
	notifier Notifier
	stats    StatsInvalidator
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds a Service instance. The notifier and stats invalidator
// may be nil.
func NewService(repo RepositoryPort, notifier Notifier, stats StatsInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		stats:    stats,
		logger:   logger,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// invalidateStats is called after every successful mutation. A failed
// invalidation never fails the mutation; the cache expires on TTL anyway.
func (s *Service) invalidateStats(ctx context.Context) {
	if s.stats == nil {
		return
	}
	if err := s.stats.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate bug statistics", slog.Any("error", err))
	}
}

// CreateBugInput carries the fields of a new bug report.
type CreateBugInput struct {
	Title            string `validate:"required,max=200"`
	Description      string `validate:"required"`
	StepsToReproduce string `validate:"required"`
	Severity         string `validate:"required"`
	GameArea         string `validate:"required,max=100"`
	Platform         string `validate:"required,max=100"`
	ReportedBy       string `validate:"required"`
}

// CreateBug validates and stores a new bug report in status New.
func (s *Service) CreateBug(ctx context.Context, input CreateBugInput) (Bug, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := s.validate.Struct(input); err != nil {
		return Bug{}, err
	}
	severity, ok := ParseSeverity(input.Severity)
	if !ok {
		return Bug{}, ErrUnknownSeverity
	}

	now := s.now()
	bug := Bug{
		ID:               uuid.NewString(),
		Title:            input.Title,
		Description:      input.Description,
		StepsToReproduce: input.StepsToReproduce,
		Status:           StatusNew,
		Severity:         severity,
		ReportedBy:       input.ReportedBy,
		GameArea:         input.GameArea,
		Platform:         input.Platform,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateBug(ctx, bug); err != nil {
		return Bug{}, err
	}
	s.invalidateStats(ctx)
	return bug, nil
}

// ListBugs returns bugs matching the filter in the requested order.
func (s *Service) ListBugs(ctx context.Context, filter Filter, order Sort) ([]Bug, error) {
	all, err := s.repo.ListBugs(ctx)
	if err != nil {
		return nil, err
	}
	return Apply(all, filter, order), nil
}

// GetBug fetches a bug by id.
func (s *Service) GetBug(ctx context.Context, id string) (Bug, error) {
	return s.repo.GetBug(ctx, id)
}

// UpdateBugInput carries the editable fields of a bug.
type UpdateBugInput struct {
	Title            string `validate:"required,max=200"`
	Description      string `validate:"required"`
	StepsToReproduce string `validate:"required"`
	Severity         string `validate:"required"`
	GameArea         string `validate:"required,max=100"`
	Platform         string `validate:"required,max=100"`
}

// UpdateBug replaces the editable fields of an existing bug.
func (s *Service) UpdateBug(ctx context.Context, id string, input UpdateBugInput) (Bug, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := s.validate.Struct(input); err != nil {
		return Bug{}, err
	}
	severity, ok := ParseSeverity(input.Severity)
	if !ok {
		return Bug{}, ErrUnknownSeverity
	}

	bug, err := s.repo.GetBug(ctx, id)
	if err != nil {
		return Bug{}, err
	}
	bug.Title = input.Title
	bug.Description = input.Description
	bug.StepsToReproduce = input.StepsToReproduce
	bug.Severity = severity
	bug.GameArea = input.GameArea
	bug.Platform = input.Platform
	bug.UpdatedAt = s.now()

	if err := s.repo.UpdateBug(ctx, bug); err != nil {
		return Bug{}, err
	}
	s.invalidateStats(ctx)
	return bug, nil
}

// AssignBug assigns the bug to a developer, moving fresh bugs into Assigned
// and queueing a notification for the assignee.
func (s *Service) AssignBug(ctx context.Context, id, assigneeID string) (Bug, error) {
	bug, err := s.repo.GetBug(ctx, id)
	if err != nil {
		return Bug{}, err
	}
	bug.AssignedTo = assigneeID
	if bug.Status == StatusNew {
		bug.Status = StatusAssigned
	}
	bug.UpdatedAt = s.now()

	if err := s.repo.UpdateBug(ctx, bug); err != nil {
		return Bug{}, err
	}
	if s.notifier != nil && assigneeID != "" {
		if err := s.notifier.BugAssigned(ctx, bug, assigneeID); err != nil {
			s.logger.Warn("queue assignment notification",
				slog.String("bug_id", bug.ID), slog.Any("error", err))
		}
	}
	s.invalidateStats(ctx)
	return bug, nil
}

// UpdateStatus moves the bug to a new lifecycle status.
func (s *Service) UpdateStatus(ctx context.Context, id, rawStatus string) (Bug, error) {
	status, ok := ParseStatus(rawStatus)
	if !ok {
		return Bug{}, ErrUnknownStatus
	}
	bug, err := s.repo.GetBug(ctx, id)
	if err != nil {
		return Bug{}, err
	}
	bug.Status = status
	bug.UpdatedAt = s.now()
	if err := s.repo.UpdateBug(ctx, bug); err != nil {
		return Bug{}, err
	}
	s.invalidateStats(ctx)
	return bug, nil
}

// DeleteBug removes a bug.
func (s *Service) DeleteBug(ctx context.Context, id string) error {
	if err := s.repo.DeleteBug(ctx, id); err != nil {
		return err
	}
	s.invalidateStats(ctx)
	return nil
}

// Comments lists a bug's discussion thread.
func (s *Service) Comments(ctx context.Context, bugID string) ([]Comment, error) {
	if _, err := s.repo.GetBug(ctx, bugID); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, bugID)
}

// AddComment appends a comment to the bug's thread.
func (s *Service) AddComment(ctx context.Context, bugID, userID, userName, content string) (Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Comment{}, errors.New("bugs: comment content required")
	}
	if _, err := s.repo.GetBug(ctx, bugID); err != nil {
		return Comment{}, err
	}
	comment := Comment{
		ID:        uuid.NewString(),
		BugID:     bugID,
		UserID:    userID,
		UserName:  userName,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.repo.AddComment(ctx, comment); err != nil {
		return Comment{}, err
	}
	return comment, nil
}
