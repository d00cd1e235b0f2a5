package analytics

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bugtrail/bugtrail/internal/bugs"
)

// BugSource supplies the bugs the statistics are computed from.
type BugSource interface {
	ListBugs(ctx context.Context) ([]bugs.Bug, error)
}

// Stats aggregates the dashboard headline numbers and grouped counts.
type Stats struct {
	TotalBugs    int            `json:"totalBugs"`
	OpenBugs     int            `json:"openBugs"`
	FixedBugs    int            `json:"fixedBugs"`
	CriticalBugs int            `json:"criticalBugs"`
	ByStatus     map[string]int `json:"byStatus"`
	BySeverity   map[string]int `json:"bySeverity"`
	ByGameArea   map[string]int `json:"byGameArea"`
}

// TrendPoint counts reported and fixed bugs for one day.
type TrendPoint struct {
	Date     string `json:"date"`
	Reported int    `json:"reported"`
	Fixed    int    `json:"fixed"`
}

// Service computes bug statistics, caching results in Redis.
type Service struct {
	source BugSource
	cache  *Cache
	now    func() time.Time
}

// NewService builds the analytics service. The cache may be nil.
func NewService(source BugSource, cache *Cache) *Service {
	return &Service{
		source: source,
		cache:  cache,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Statistics returns the dashboard aggregates.
func (s *Service) Statistics(ctx context.Context) (Stats, error) {
	key, err := s.cache.BuildKey(ctx, "analytics", "stats")
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	err = s.cache.FetchJSON(ctx, key, &stats, func(ctx context.Context) (any, error) {
		list, err := s.source.ListBugs(ctx)
		if err != nil {
			return nil, err
		}
		return computeStats(list), nil
	})
	return stats, err
}

// Trend returns per-day reported/fixed counts for the trailing window.
func (s *Service) Trend(ctx context.Context, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = 14
	}
	key, err := s.cache.BuildKey(ctx, "analytics", "trend")
	if err != nil {
		return nil, err
	}
	var points []TrendPoint
	err = s.cache.FetchJSON(ctx, key, &points, func(ctx context.Context) (any, error) {
		list, err := s.source.ListBugs(ctx)
		if err != nil {
			return nil, err
		}
		return computeTrend(list, s.now(), days), nil
	})
	return points, err
}

// Warmup precomputes the cached aggregates. Run from the background worker so
// the first dashboard view after an invalidation is already warm.
func (s *Service) Warmup(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.Statistics(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.Trend(ctx, 14)
		return err
	})
	return g.Wait()
}

// Invalidate drops the cached aggregates after bug mutations.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}

func computeStats(list []bugs.Bug) Stats {
	stats := Stats{
		ByStatus:   make(map[string]int, len(bugs.Statuses())),
		BySeverity: make(map[string]int, len(bugs.Severities())),
		ByGameArea: make(map[string]int),
	}
	for _, status := range bugs.Statuses() {
		stats.ByStatus[string(status)] = 0
	}
	for _, severity := range bugs.Severities() {
		stats.BySeverity[string(severity)] = 0
	}

	for _, bug := range list {
		stats.TotalBugs++
		if bug.Status != bugs.StatusClosed && bug.Status != bugs.StatusFixed {
			stats.OpenBugs++
		}
		if bug.Status == bugs.StatusFixed {
			stats.FixedBugs++
		}
		if bug.Severity == bugs.SeverityCritical {
			stats.CriticalBugs++
		}
		stats.ByStatus[string(bug.Status)]++
		stats.BySeverity[string(bug.Severity)]++
		if bug.GameArea != "" {
			stats.ByGameArea[bug.GameArea]++
		}
	}
	return stats
}

func computeTrend(list []bugs.Bug, now time.Time, days int) []TrendPoint {
	const layout = "2006-01-02"

	points := make([]TrendPoint, days)
	index := make(map[string]int, days)
	start := now.AddDate(0, 0, -(days - 1))
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format(layout)
		points[i] = TrendPoint{Date: date}
		index[date] = i
	}

	for _, bug := range list {
		if i, ok := index[bug.CreatedAt.Format(layout)]; ok {
			points[i].Reported++
		}
		if bug.Status == bugs.StatusFixed {
			if i, ok := index[bug.UpdatedAt.Format(layout)]; ok {
				points[i].Fixed++
			}
		}
	}
	return points
}
