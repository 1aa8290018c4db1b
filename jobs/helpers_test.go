package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cppla/countdownstack/models"
	"github.com/cppla/countdownstack/store"
)

var (
	testNow  = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	errBoom  = errors.New("boom")
	bgCtx    = context.Background()
	fixedNow = func() time.Time { return testNow }
)

func testConfig() Config {
	c := DefaultConfig()
	c.Now = fixedNow
	return c
}

func seedDashboard(t *testing.T, st store.Store, slug string, lastActivity time.Time) *models.Dashboard {
	t.Helper()
	d := &models.Dashboard{
		Slug:           slug,
		Title:          slug,
		CreatedAt:      lastActivity,
		LastActivityAt: lastActivity,
	}
	require.NoError(t, st.CreateDashboard(bgCtx, d))
	return d
}

func seedViews(t *testing.T, st store.Store, dashboardID string, n int, age time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, st.InsertViewLog(bgCtx, &models.ViewLog{DashboardID: dashboardID, ViewedAt: testNow.Add(-age)}))
	}
}

func seedEvents(t *testing.T, st store.Store, dashboardID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, st.CreateEvent(bgCtx, &models.Event{
			DashboardID: dashboardID,
			Title:       "event",
			Date:        testNow.Add(time.Duration(i+1) * time.Hour),
		}))
	}
}

func score(t *testing.T, st store.Store, id string) int64 {
	t.Helper()
	d, err := st.GetDashboard(bgCtx, id)
	require.NoError(t, err)
	return d.TrendingScore
}

// faultyStore wraps a MemoryStore and fails selected operations.
type faultyStore struct {
	*store.MemoryStore

	mu              sync.Mutex
	failList        bool
	failCountFor    map[string]bool
	failUpdateFor   map[string]bool
	phantoms        []models.Dashboard
	failDeleteBatch map[int]bool
	deleteCalls     int
	failIncrement   bool
	failInsert      bool
	failEventsFor   map[string]bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		MemoryStore:     store.NewMemoryStore(),
		failCountFor:    map[string]bool{},
		failUpdateFor:   map[string]bool{},
		failDeleteBatch: map[int]bool{},
		failEventsFor:   map[string]bool{},
	}
}

func (f *faultyStore) ListDashboards(ctx context.Context, opts store.ListOptions) ([]models.Dashboard, error) {
	if f.failList {
		return nil, errBoom
	}
	list, err := f.MemoryStore.ListDashboards(ctx, opts)
	if err != nil {
		return nil, err
	}
	return append(list, f.phantoms...), nil
}

func (f *faultyStore) ListInactiveDashboards(ctx context.Context, cutoff time.Time) ([]models.Dashboard, error) {
	if f.failList {
		return nil, errBoom
	}
	list, err := f.MemoryStore.ListInactiveDashboards(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return append(list, f.phantoms...), nil
}

func (f *faultyStore) ListViewLogIDsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	if f.failList {
		return nil, errBoom
	}
	return f.MemoryStore.ListViewLogIDsBefore(ctx, cutoff)
}

func (f *faultyStore) CountViewWindows(ctx context.Context, id string, now time.Time, cutoffs []time.Time) ([]int64, error) {
	if f.failCountFor[id] {
		return nil, errBoom
	}
	return f.MemoryStore.CountViewWindows(ctx, id, now, cutoffs)
}

func (f *faultyStore) UpdateDashboard(ctx context.Context, id string, fields store.Fields) error {
	if f.failUpdateFor[id] {
		return errBoom
	}
	return f.MemoryStore.UpdateDashboard(ctx, id, fields)
}

func (f *faultyStore) DeleteViewLogs(ctx context.Context, ids []string) (int64, error) {
	f.mu.Lock()
	f.deleteCalls++
	call := f.deleteCalls
	f.mu.Unlock()
	if f.failDeleteBatch[call] {
		return 0, errBoom
	}
	return f.MemoryStore.DeleteViewLogs(ctx, ids)
}

func (f *faultyStore) IncrementDashboard(ctx context.Context, id, field string, delta int64) error {
	if f.failIncrement {
		return errBoom
	}
	return f.MemoryStore.IncrementDashboard(ctx, id, field, delta)
}

func (f *faultyStore) InsertViewLog(ctx context.Context, v *models.ViewLog) error {
	if f.failInsert {
		return errBoom
	}
	return f.MemoryStore.InsertViewLog(ctx, v)
}

func (f *faultyStore) DeleteEventsByDashboard(ctx context.Context, id string) (int64, error) {
	if f.failEventsFor[id] {
		return 0, errBoom
	}
	return f.MemoryStore.DeleteEventsByDashboard(ctx, id)
}
