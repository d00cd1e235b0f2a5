package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bugtrail/bugtrail/internal/bugs"
)

type stubBugSource struct {
	mu    sync.Mutex
	bugs  []bugs.Bug
	calls int
}

func (s *stubBugSource) ListBugs(ctx context.Context) ([]bugs.Bug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.bugs, nil
}

func (s *stubBugSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func fixtureBugs(now time.Time) []bugs.Bug {
	return []bugs.Bug{
		{ID: "b1", Status: bugs.StatusNew, Severity: bugs.SeverityCritical, GameArea: "Savegame", CreatedAt: now, UpdatedAt: now},
		{ID: "b2", Status: bugs.StatusInProgress, Severity: bugs.SeverityLow, GameArea: "Graphics", CreatedAt: now.AddDate(0, 0, -1), UpdatedAt: now.AddDate(0, 0, -1)},
		{ID: "b3", Status: bugs.StatusFixed, Severity: bugs.SeverityMedium, GameArea: "Savegame", CreatedAt: now.AddDate(0, 0, -2), UpdatedAt: now},
		{ID: "b4", Status: bugs.StatusClosed, Severity: bugs.SeverityCritical, CreatedAt: now.AddDate(0, 0, -30), UpdatedAt: now.AddDate(0, 0, -20)},
	}
}

func TestStatistics(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	source := &stubBugSource{bugs: fixtureBugs(now)}
	svc := NewService(source, testCache(t))

	stats, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, stats.TotalBugs)
	require.Equal(t, 2, stats.OpenBugs)
	require.Equal(t, 1, stats.FixedBugs)
	require.Equal(t, 2, stats.CriticalBugs)
	require.Equal(t, 1, stats.ByStatus["New"])
	require.Equal(t, 1, stats.ByStatus["Fixed"])
	require.Equal(t, 0, stats.ByStatus["Assigned"])
	require.Equal(t, 2, stats.BySeverity["Critical"])
	require.Equal(t, 2, stats.ByGameArea["Savegame"])
	require.NotContains(t, stats.ByGameArea, "")
}

func TestStatisticsCached(t *testing.T) {
	source := &stubBugSource{}
	svc := NewService(source, testCache(t))

	_, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	_, err = svc.Statistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, source.callCount())
}

func TestInvalidateForcesRecompute(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	source := &stubBugSource{}
	svc := NewService(source, testCache(t))

	stats, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.TotalBugs)

	source.mu.Lock()
	source.bugs = fixtureBugs(now)
	source.mu.Unlock()

	require.NoError(t, svc.Invalidate(context.Background()))

	stats, err = svc.Statistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, stats.TotalBugs)
	require.Equal(t, 2, source.callCount())
}

func TestTrend(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	source := &stubBugSource{bugs: fixtureBugs(now)}
	svc := NewService(source, testCache(t))
	svc.now = func() time.Time { return now }

	points, err := svc.Trend(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, points, 7)
	require.Equal(t, "2026-03-09", points[0].Date)
	require.Equal(t, "2026-03-15", points[6].Date)

	// b1 reported today, b3 fixed today.
	require.Equal(t, 1, points[6].Reported)
	require.Equal(t, 1, points[6].Fixed)
	// b2 reported yesterday.
	require.Equal(t, 1, points[5].Reported)
	// b4 is outside the window entirely.
	total := 0
	for _, p := range points {
		total += p.Reported
	}
	require.Equal(t, 3, total)
}

func TestTrendDefaultWindow(t *testing.T) {
	svc := NewService(&stubBugSource{}, nil)
	points, err := svc.Trend(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, points, 14)
}

func TestNilCacheDegradesToLoader(t *testing.T) {
	source := &stubBugSource{}
	svc := NewService(source, nil)

	_, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	_, err = svc.Statistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, source.callCount())
	require.NoError(t, svc.Invalidate(context.Background()))
}

type memBugRepo struct {
	store map[string]bugs.Bug
}

func (r *memBugRepo) ListBugs(ctx context.Context) ([]bugs.Bug, error) {
	out := make([]bugs.Bug, 0, len(r.store))
	for _, b := range r.store {
		out = append(out, b)
	}
	return out, nil
}

func (r *memBugRepo) GetBug(ctx context.Context, id string) (bugs.Bug, error) {
	return r.store[id], nil
}

func (r *memBugRepo) CreateBug(ctx context.Context, b bugs.Bug) error {
	r.store[b.ID] = b
	return nil
}

func (r *memBugRepo) UpdateBug(ctx context.Context, b bugs.Bug) error {
	r.store[b.ID] = b
	return nil
}

func (r *memBugRepo) DeleteBug(ctx context.Context, id string) error {
	delete(r.store, id)
	return nil
}

func (r *memBugRepo) ListComments(ctx context.Context, bugID string) ([]bugs.Comment, error) {
	return nil, nil
}

func (r *memBugRepo) AddComment(ctx context.Context, c bugs.Comment) error {
	return nil
}

func TestBugMutationRefreshesStatistics(t *testing.T) {
	repo := &memBugRepo{store: make(map[string]bugs.Bug)}
	svc := NewService(repo, testCache(t))
	bugService := bugs.NewService(repo, nil, svc, nil)

	stats, err := svc.Statistics(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.TotalBugs)

	_, err = bugService.CreateBug(context.Background(), bugs.CreateBugInput{
		Title:            "Boss clips through floor",
		Description:      "The chapter 2 boss sinks into the arena floor mid-fight.",
		StepsToReproduce: "Stagger the boss twice in a row.",
		Severity:         string(bugs.SeverityHigh),
		GameArea:         "Combat",
		Platform:         "PC",
		ReportedBy:       "qa@bugtrail.dev",
	})
	require.NoError(t, err)

	stats, err = svc.Statistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalBugs)
}
