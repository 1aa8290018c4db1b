package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/countdownstack/models"
	"github.com/cppla/countdownstack/store"
)

func TestWindowsScore(t *testing.T) {
	assert.EqualValues(t, 84, Windows{Views24h: 5, Views7d: 8, Views30d: 10}.Score())
	assert.EqualValues(t, 0, Windows{}.Score())
	assert.EqualValues(t, 14, Windows{Views24h: 1, Views7d: 1, Views30d: 1}.Score())
}

func TestWindowCutoffs(t *testing.T) {
	c := WindowCutoffs(testNow)
	require.Len(t, c, 3)
	assert.Equal(t, testNow.Add(-24*time.Hour), c[0])
	assert.Equal(t, testNow.Add(-7*24*time.Hour), c[1])
	assert.Equal(t, testNow.Add(-30*24*time.Hour), c[2])
}

func TestAggregatorScenarioA(t *testing.T) {
	st := store.NewMemoryStore()
	d1 := seedDashboard(t, st, "d1", testNow)
	seedViews(t, st, d1.ID, 5, time.Hour)
	seedViews(t, st, d1.ID, 3, 5*24*time.Hour)
	seedViews(t, st, d1.ID, 2, 20*24*time.Hour)

	agg := NewAggregator(st, testConfig(), nil, nil)
	w, err := agg.Compute(bgCtx, d1.ID, testNow)
	require.NoError(t, err)
	assert.Equal(t, Windows{Views24h: 5, Views7d: 8, Views30d: 10}, w)

	report, err := agg.Run(bgCtx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.EqualValues(t, 84, score(t, st, d1.ID))
}

func TestAggregatorScenarioBNoViews(t *testing.T) {
	st := store.NewMemoryStore()
	d2 := seedDashboard(t, st, "d2", testNow)
	require.NoError(t, st.UpdateDashboard(bgCtx, d2.ID, store.Fields{models.FieldTrendingScore: int64(999)}))

	_, err := NewAggregator(st, testConfig(), nil, nil).Run(bgCtx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, score(t, st, d2.ID))
}

func TestAggregatorThirtyDayBoundaryIsCounted(t *testing.T) {
	st := store.NewMemoryStore()
	d := seedDashboard(t, st, "edge", testNow)
	seedViews(t, st, d.ID, 1, 30*24*time.Hour)
	seedViews(t, st, d.ID, 1, 30*24*time.Hour+time.Second)

	w, err := NewAggregator(st, testConfig(), nil, nil).Compute(bgCtx, d.ID, testNow)
	require.NoError(t, err)
	assert.Equal(t, Windows{Views30d: 1}, w)
}

func TestAggregatorDayBoundaryIsInclusive(t *testing.T) {
	st := store.NewMemoryStore()
	d := seedDashboard(t, st, "day", testNow)
	seedViews(t, st, d.ID, 1, 24*time.Hour)

	w, err := NewAggregator(st, testConfig(), nil, nil).Compute(bgCtx, d.ID, testNow)
	require.NoError(t, err)
	assert.Equal(t, Windows{Views24h: 1, Views7d: 1, Views30d: 1}, w)
}

func TestAggregatorIgnoresFutureViews(t *testing.T) {
	st := store.NewMemoryStore()
	d := seedDashboard(t, st, "future", testNow)
	seedViews(t, st, d.ID, 2, -time.Minute)

	w, err := NewAggregator(st, testConfig(), nil, nil).Compute(bgCtx, d.ID, testNow)
	require.NoError(t, err)
	assert.Equal(t, Windows{}, w)
}

// windowCounter answers window counts without any other store surface.
type windowCounter struct {
	cutoffs []time.Time
}

func (c *windowCounter) CountViewWindows(_ context.Context, _ string, _ time.Time, cutoffs []time.Time) ([]int64, error) {
	c.cutoffs = cutoffs
	return []int64{1, 4, 9}, nil
}

func TestCountWindowsNeedsOnlyACounter(t *testing.T) {
	c := &windowCounter{}
	w, err := CountWindows(bgCtx, c, "d", testNow)
	require.NoError(t, err)
	assert.Equal(t, Windows{Views24h: 1, Views7d: 4, Views30d: 9}, w)
	assert.EqualValues(t, 1*10+4*3+9, w.Score())
	assert.Equal(t, WindowCutoffs(testNow), c.cutoffs)
}

func TestAggregatorIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	d := seedDashboard(t, st, "idem", testNow)
	seedViews(t, st, d.ID, 4, 2*time.Hour)
	seedViews(t, st, d.ID, 1, 10*24*time.Hour)

	agg := NewAggregator(st, testConfig(), nil, nil)
	_, err := agg.Run(bgCtx)
	require.NoError(t, err)
	first := score(t, st, d.ID)
	_, err = agg.Run(bgCtx)
	require.NoError(t, err)
	assert.Equal(t, first, score(t, st, d.ID))
	assert.EqualValues(t, 4*14+1, first)
}

func TestAggregatorIsolatesFailures(t *testing.T) {
	st := newFaultyStore()
	bad := seedDashboard(t, st, "bad", testNow)
	unwritable := seedDashboard(t, st, "unwritable", testNow)
	good := seedDashboard(t, st, "good", testNow)
	seedViews(t, st, good.ID, 1, time.Hour)
	st.failCountFor[bad.ID] = true
	st.failUpdateFor[unwritable.ID] = true

	report, err := NewAggregator(st, testConfig(), nil, nil).Run(bgCtx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Dashboards)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 2, report.Failed)
	assert.EqualValues(t, 14, score(t, st, good.ID))
}

func TestAggregatorEnumerationFailureFailsRun(t *testing.T) {
	st := newFaultyStore()
	st.failList = true
	called := false
	agg := NewAggregator(st, testConfig(), nil, nil)
	agg.OnRunComplete = func(*AggregateReport) { called = true }

	report, err := agg.Run(bgCtx)
	require.ErrorIs(t, err, errBoom)
	assert.Nil(t, report)
	assert.False(t, called)
}

func TestAggregatorDashboardDeletedMidRunIsNoop(t *testing.T) {
	st := newFaultyStore()
	live := seedDashboard(t, st, "live", testNow)
	st.phantoms = []models.Dashboard{{ID: "gone", Slug: "gone"}}
	seedViews(t, st, "gone", 3, time.Hour)

	report, err := NewAggregator(st, testConfig(), nil, nil).Run(bgCtx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Vanished)
	assert.Zero(t, report.Failed)

	_, err = st.GetDashboard(bgCtx, "gone")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.EqualValues(t, 0, score(t, st, live.ID))
}

func TestAggregatorOnRunComplete(t *testing.T) {
	st := store.NewMemoryStore()
	seedDashboard(t, st, "hook", testNow)
	var got *AggregateReport
	agg := NewAggregator(st, testConfig(), nil, nil)
	agg.OnRunComplete = func(r *AggregateReport) { got = r }

	report, err := agg.Run(bgCtx)
	require.NoError(t, err)
	assert.Same(t, report, got)
	assert.Equal(t, testNow, got.StartedAt)
}

func TestAggregatorCancelledRun(t *testing.T) {
	st := store.NewMemoryStore()
	seedDashboard(t, st, "c1", testNow)
	ctx, cancel := context.WithCancel(bgCtx)
	cancel()

	_, err := NewAggregator(st, testConfig(), nil, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRefreshScenarioE(t *testing.T) {
	st := store.NewMemoryStore()
	d4 := seedDashboard(t, st, "d4", testNow.Add(-48*time.Hour))
	seedViews(t, st, d4.ID, 2, time.Minute)

	s, err := NewAggregator(st, testConfig(), nil, nil).Refresh(bgCtx, d4.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 28, s)

	got, err := st.GetDashboard(bgCtx, d4.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 28, got.TrendingScore)
	assert.True(t, got.LastActivityAt.Equal(testNow))
}

func TestRefreshMissingDashboard(t *testing.T) {
	_, err := NewAggregator(store.NewMemoryStore(), testConfig(), nil, nil).Refresh(bgCtx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAggregatorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	st := newFaultyStore()
	a := seedDashboard(t, st, "a", testNow)
	seedDashboard(t, st, "b", testNow)
	st.failCountFor[a.ID] = true

	_, err := NewAggregator(st, testConfig(), nil, metrics).Run(bgCtx)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "|" + lp.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				values[key] = c.GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["countdown_job_runs_total|trending|success"])
	assert.Equal(t, 1.0, values["countdown_job_records_total|trending|updated"])
	assert.Equal(t, 1.0, values["countdown_job_records_total|trending|failed"])
}

func TestWindowProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	// ages in seconds, up to 40 days back and one hour ahead
	properties.Property("windows are nested and score matches the formula", prop.ForAll(
		func(ages []int64) bool {
			st := store.NewMemoryStore()
			var want Windows
			for _, age := range ages {
				d := time.Duration(age) * time.Second
				if err := st.InsertViewLog(bgCtx, &models.ViewLog{DashboardID: "p", ViewedAt: testNow.Add(-d)}); err != nil {
					return false
				}
				if d < 0 {
					continue
				}
				if d <= Window24h {
					want.Views24h++
				}
				if d <= Window7d {
					want.Views7d++
				}
				if d <= Window30d {
					want.Views30d++
				}
			}
			got, err := CountWindows(bgCtx, st, "p", testNow)
			if err != nil {
				return false
			}
			return got == want &&
				got.Views24h <= got.Views7d && got.Views7d <= got.Views30d &&
				got.Score() == got.Views24h*10+got.Views7d*3+got.Views30d
		},
		gen.SliceOf(gen.Int64Range(-3600, 40*24*3600)),
	))

	properties.Property("running twice yields the same score", prop.ForAll(
		func(ages []int64) bool {
			st := store.NewMemoryStore()
			d := &models.Dashboard{Slug: "p", Title: "p", CreatedAt: testNow}
			if err := st.CreateDashboard(bgCtx, d); err != nil {
				return false
			}
			for _, age := range ages {
				_ = st.InsertViewLog(bgCtx, &models.ViewLog{DashboardID: d.ID, ViewedAt: testNow.Add(-time.Duration(age) * time.Second)})
			}
			agg := NewAggregator(st, testConfig(), nil, nil)
			if _, err := agg.Run(bgCtx); err != nil {
				return false
			}
			first, _ := st.GetDashboard(bgCtx, d.ID)
			if _, err := agg.Run(bgCtx); err != nil {
				return false
			}
			second, _ := st.GetDashboard(bgCtx, d.ID)
			return first.TrendingScore == second.TrendingScore && first.TrendingScore >= 0
		},
		gen.SliceOf(gen.Int64Range(0, 40*24*3600)),
	))

	properties.TestingRun(t)
}
