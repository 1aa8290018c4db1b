package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/countdownstack/models"
)

// Deduper decides whether a viewer's view should be counted. Allow reports
// true the first time key is seen within window.
type Deduper interface {
	Allow(ctx context.Context, key string, window time.Duration) bool
}

// RecorderStore is what the view recorder writes to.
type RecorderStore interface {
	InsertViewLog(ctx context.Context, v *models.ViewLog) error
	IncrementDashboard(ctx context.Context, id string, field string, delta int64) error
}

// ViewResult is the outcome of one view request.
type ViewResult struct {
	Counted       bool  `json:"counted"`
	Refreshed     bool  `json:"refreshed"`
	TrendingScore int64 `json:"trendingScore"`
}

// ViewRecorder appends views to the log and keeps the dashboard's counters current.
type ViewRecorder struct {
	store      RecorderStore
	aggregator *Aggregator
	dedup      Deduper
	cfg        Config
	logger     *zap.Logger
	metrics    *Metrics
}

// NewViewRecorder creates a recorder. dedup may be nil to count every view.
func NewViewRecorder(st RecorderStore, aggregator *Aggregator, dedup Deduper, cfg Config, logger *zap.Logger, metrics *Metrics) *ViewRecorder {
	return &ViewRecorder{
		store:      st,
		aggregator: aggregator,
		dedup:      dedup,
		cfg:        cfg.withDefaults(),
		logger:     named(logger, "jobs.views"),
		metrics:    metrics,
	}
}

// Record counts one view of dashboardID by viewerKey. Only a failure to append
// to the view log is returned; the counter and score updates are best effort
// and the batch aggregator repairs the score on its next run.
func (r *ViewRecorder) Record(ctx context.Context, dashboardID, viewerKey string) (*ViewResult, error) {
	if r.dedup != nil && viewerKey != "" {
		if !r.dedup.Allow(ctx, "view:"+dashboardID+":"+viewerKey, r.cfg.DedupWindow) {
			r.metrics.ViewRecorded(false)
			return &ViewResult{Counted: false}, nil
		}
	}

	entry := &models.ViewLog{DashboardID: dashboardID, ViewedAt: r.cfg.Now()}
	if err := r.store.InsertViewLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("record view: %w", err)
	}
	r.metrics.ViewRecorded(true)
	res := &ViewResult{Counted: true}

	if err := r.store.IncrementDashboard(ctx, dashboardID, models.FieldViewCount, 1); err != nil {
		r.logger.Warn("increment view count failed", zap.String("dashboard", dashboardID), zap.Error(err))
	}

	if r.aggregator != nil {
		score, err := r.aggregator.Refresh(ctx, dashboardID)
		if err != nil {
			r.logger.Warn("refresh trending score failed", zap.String("dashboard", dashboardID), zap.Error(err))
		} else {
			res.Refreshed = true
			res.TrendingScore = score
		}
	}
	return res, nil
}
