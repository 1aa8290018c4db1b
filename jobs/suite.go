package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/countdownstack/config"
	"github.com/cppla/countdownstack/store"
)

// Suite wires the jobs to one store and one scheduler.
type Suite struct {
	Aggregator *Aggregator
	Sweeper    *RetentionSweeper
	Reaper     *InactivityReaper
	Recorder   *ViewRecorder
	Scheduler  *Scheduler
}

// NewSuite builds every job from the application configuration and registers
// the three periodic ones with a scheduler. The scheduler is not started.
func NewSuite(st store.Store, app config.AppConfig, dedup Deduper, logger *zap.Logger, metrics *Metrics) (*Suite, error) {
	cfg := ConfigFrom(app)
	agg := NewAggregator(st, cfg, logger, metrics)
	s := &Suite{
		Aggregator: agg,
		Sweeper:    NewRetentionSweeper(st, cfg, logger, metrics),
		Reaper:     NewInactivityReaper(st, cfg, logger, metrics),
		Recorder:   NewViewRecorder(st, agg, dedup, cfg, logger, metrics),
		Scheduler:  NewScheduler(time.Duration(app.JobTimeoutMinutes)*time.Minute, logger),
	}

	schedules := []struct {
		name string
		spec string
		fn   JobFunc
	}{
		{JobTrending, orDefault(app.TrendingSchedule, "@every 6h"), func(ctx context.Context) (any, error) { return s.Aggregator.Run(ctx) }},
		{JobRetention, orDefault(app.RetentionSchedule, "@every 24h"), func(ctx context.Context) (any, error) { return s.Sweeper.Run(ctx) }},
		{JobInactivity, orDefault(app.InactivitySchedule, "@every 24h"), func(ctx context.Context) (any, error) { return s.Reaper.Run(ctx) }},
	}
	for _, j := range schedules {
		if err := s.Scheduler.Register(j.name, j.spec, j.fn); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
