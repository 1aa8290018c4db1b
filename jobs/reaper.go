package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/countdownstack/models"
	"github.com/cppla/countdownstack/store"
)

// CascadeStore deletes a dashboard together with its events.
type CascadeStore interface {
	DeleteEventsByDashboard(ctx context.Context, dashboardID string) (int64, error)
	DeleteDashboard(ctx context.Context, id string) error
}

// ReaperStore is what the reaper needs from the backend.
type ReaperStore interface {
	CascadeStore
	ListInactiveDashboards(ctx context.Context, cutoff time.Time) ([]models.Dashboard, error)
	GetDashboard(ctx context.Context, id string) (*models.Dashboard, error)
}

// DeleteDashboardCascade removes the dashboard's events first and then the
// dashboard. The two steps are not atomic; a dashboard left without events by
// an interruption is still selected and finished by a later call.
func DeleteDashboardCascade(ctx context.Context, st CascadeStore, dashboardID string) (int64, error) {
	events, err := st.DeleteEventsByDashboard(ctx, dashboardID)
	if err != nil {
		return 0, fmt.Errorf("delete events of %s: %w", dashboardID, err)
	}
	if err := st.DeleteDashboard(ctx, dashboardID); err != nil {
		return events, err
	}
	return events, nil
}

// ReapedDashboard is one dashboard removed by the reaper.
type ReapedDashboard struct {
	ID     string `json:"id"`
	Slug   string `json:"slug"`
	Events int64  `json:"events"`
}

// ReapReport summarises one inactivity run.
type ReapReport struct {
	Cutoff     time.Time         `json:"cutoff"`
	Candidates int               `json:"candidates"`
	Deleted    []ReapedDashboard `json:"deleted"`
	Revived    int               `json:"revived"`
	Failed     int               `json:"failed"`
	Duration   time.Duration     `json:"duration"`
}

// InactivityReaper deletes dashboards with no activity within the horizon.
type InactivityReaper struct {
	store   ReaperStore
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
}

func NewInactivityReaper(st ReaperStore, cfg Config, logger *zap.Logger, metrics *Metrics) *InactivityReaper {
	return &InactivityReaper{
		store:   st,
		cfg:     cfg.withDefaults(),
		logger:  named(logger, "jobs.reaper"),
		metrics: metrics,
	}
}

// Run reaps every dashboard whose lastActivityAt is strictly before now minus
// the horizon. Each candidate is re-read first; one that saw activity since
// selection is left alone.
func (r *InactivityReaper) Run(ctx context.Context) (*ReapReport, error) {
	start := time.Now()
	cutoff := r.cfg.Now().Add(-r.cfg.InactivityHorizon)

	candidates, err := r.store.ListInactiveDashboards(ctx, cutoff)
	if err != nil {
		err = fmt.Errorf("reaper: select inactive dashboards: %w", err)
		r.metrics.ObserveRun(JobInactivity, start, err)
		r.logger.Error("reaper run aborted", zap.Error(err))
		return nil, err
	}

	report := &ReapReport{Cutoff: cutoff, Candidates: len(candidates), Deleted: []ReapedDashboard{}}
	var runErr error
	for _, d := range candidates {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("reaper: run interrupted: %w", err)
			break
		}
		current, err := r.store.GetDashboard(ctx, d.ID)
		if errors.Is(err, store.ErrNotFound) {
			// already gone; finish any orphaned events
			if _, err := r.store.DeleteEventsByDashboard(ctx, d.ID); err != nil {
				r.logger.Warn("delete orphaned events failed", zap.String("dashboard", d.ID), zap.Error(err))
			}
			continue
		}
		if err != nil {
			report.Failed++
			r.logger.Warn("re-read dashboard failed", zap.String("dashboard", d.ID), zap.Error(err))
			continue
		}
		if !current.LastActivityAt.Before(cutoff) {
			report.Revived++
			continue
		}

		events, err := DeleteDashboardCascade(ctx, r.store, d.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			report.Failed++
			r.logger.Warn("cascade delete failed", zap.String("dashboard", d.ID), zap.Error(err))
			continue
		}
		report.Deleted = append(report.Deleted, ReapedDashboard{ID: d.ID, Slug: d.Slug, Events: events})
		r.logger.Info("reaped inactive dashboard",
			zap.String("dashboard", d.ID),
			zap.String("slug", d.Slug),
			zap.Time("lastActivityAt", current.LastActivityAt),
			zap.Int64("events", events),
		)
	}

	report.Duration = time.Since(start)
	var eventsDeleted int64
	for _, rd := range report.Deleted {
		eventsDeleted += rd.Events
	}
	r.metrics.AddRecords(JobInactivity, outcomeDeleted, int64(len(report.Deleted)))
	r.metrics.AddRecords(JobInactivity, outcomeSkipped, int64(report.Revived))
	r.metrics.AddRecords(JobInactivity, outcomeFailed, int64(report.Failed))
	r.metrics.ObserveRun(JobInactivity, start, runErr)
	r.logger.Info("reaper run finished",
		zap.Time("cutoff", cutoff),
		zap.Int("candidates", report.Candidates),
		zap.Int("deleted", len(report.Deleted)),
		zap.Int64("events", eventsDeleted),
		zap.Int("revived", report.Revived),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, runErr
}
