package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cppla/countdownstack/models"
	"github.com/cppla/countdownstack/store"
)

// TrendingStore is what the aggregator needs from the backend.
type TrendingStore interface {
	ListDashboards(ctx context.Context, opts store.ListOptions) ([]models.Dashboard, error)
	UpdateDashboard(ctx context.Context, id string, fields store.Fields) error
	CountViewWindows(ctx context.Context, dashboardID string, now time.Time, cutoffs []time.Time) ([]int64, error)
}

// AggregateReport summarises one aggregator run.
type AggregateReport struct {
	StartedAt  time.Time     `json:"startedAt"`
	Dashboards int           `json:"dashboards"`
	Updated    int           `json:"updated"`
	Vanished   int           `json:"vanished"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// Aggregator recomputes trendingScore for every dashboard from the view log.
type Aggregator struct {
	store   TrendingStore
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics

	// OnRunComplete, when set, is called after every run whose dashboards could be enumerated.
	OnRunComplete func(*AggregateReport)
}

// NewAggregator creates an aggregator. A nil logger discards output.
func NewAggregator(st TrendingStore, cfg Config, logger *zap.Logger, metrics *Metrics) *Aggregator {
	return &Aggregator{
		store:   st,
		cfg:     cfg.withDefaults(),
		logger:  named(logger, "jobs.trending"),
		metrics: metrics,
	}
}

// Compute returns the dashboard's window counts as of now.
func (a *Aggregator) Compute(ctx context.Context, dashboardID string, now time.Time) (Windows, error) {
	return CountWindows(ctx, a.store, dashboardID, now)
}

// Run scores every dashboard as of the run's start time. Individual failures are
// logged and counted; only a failure to enumerate dashboards fails the run.
func (a *Aggregator) Run(ctx context.Context) (*AggregateReport, error) {
	start := time.Now()
	now := a.cfg.Now()

	dashboards, err := a.store.ListDashboards(ctx, store.ListOptions{})
	if err != nil {
		err = fmt.Errorf("trending: enumerate dashboards: %w", err)
		a.metrics.ObserveRun(JobTrending, start, err)
		a.logger.Error("trending run aborted", zap.Error(err))
		return nil, err
	}

	report := &AggregateReport{StartedAt: now, Dashboards: len(dashboards)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(int64(a.cfg.TrendingConcurrency))

	for _, d := range dashboards {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := a.scoreOne(ctx, id, now)
			mu.Lock()
			switch outcome {
			case outcomeUpdated:
				report.Updated++
			case outcomeVanished:
				report.Vanished++
			default:
				report.Failed++
			}
			mu.Unlock()
		}(d.ID)
	}
	wg.Wait()

	report.Duration = time.Since(start)
	runErr := ctx.Err()
	if runErr != nil {
		runErr = fmt.Errorf("trending: run interrupted: %w", runErr)
	}
	a.metrics.AddRecords(JobTrending, outcomeUpdated, int64(report.Updated))
	a.metrics.AddRecords(JobTrending, outcomeVanished, int64(report.Vanished))
	a.metrics.AddRecords(JobTrending, outcomeFailed, int64(report.Failed))
	a.metrics.ObserveRun(JobTrending, start, runErr)

	a.logger.Info("trending run finished",
		zap.Int("dashboards", report.Dashboards),
		zap.Int("updated", report.Updated),
		zap.Int("vanished", report.Vanished),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	if a.OnRunComplete != nil {
		a.OnRunComplete(report)
	}
	return report, runErr
}

const (
	outcomeUpdated  = "updated"
	outcomeVanished = "vanished"
	outcomeFailed   = "failed"
	outcomeDeleted  = "deleted"
	outcomeSkipped  = "skipped"
)

func (a *Aggregator) scoreOne(ctx context.Context, id string, now time.Time) string {
	w, err := a.Compute(ctx, id, now)
	if err != nil {
		a.logger.Warn("count views failed", zap.String("dashboard", id), zap.Error(err))
		return outcomeFailed
	}
	err = a.store.UpdateDashboard(ctx, id, store.Fields{models.FieldTrendingScore: w.Score()})
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.logger.Debug("dashboard deleted during run", zap.String("dashboard", id))
		return outcomeVanished
	case err != nil:
		a.logger.Warn("write trending score failed", zap.String("dashboard", id), zap.Error(err))
		return outcomeFailed
	}
	return outcomeUpdated
}

// Refresh recomputes one dashboard's score immediately and marks it active.
// It returns store.ErrNotFound when the dashboard no longer exists.
func (a *Aggregator) Refresh(ctx context.Context, dashboardID string) (int64, error) {
	now := a.cfg.Now()
	w, err := a.Compute(ctx, dashboardID, now)
	if err != nil {
		return 0, fmt.Errorf("trending: count views: %w", err)
	}
	score := w.Score()
	err = a.store.UpdateDashboard(ctx, dashboardID, store.Fields{
		models.FieldTrendingScore:  score,
		models.FieldLastActivityAt: now,
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}
