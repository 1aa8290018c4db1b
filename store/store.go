// Package store holds the persistence contract for dashboards, their events
// and the view log, plus the document (mongo), relational (gorm) and
// in-memory backends implementing it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cppla/countdownstack/config"
	"github.com/cppla/countdownstack/models"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrSlugTaken is returned when a dashboard slug collides with a live dashboard.
	ErrSlugTaken = errors.New("store: slug already taken")
)

// Fields is a partial update keyed by persisted field names (models.Field*).
type Fields map[string]any

// SortOrder selects the ordering of ListDashboards.
type SortOrder string

const (
	SortNewest   SortOrder = "newest"
	SortTrending SortOrder = "trending"
	SortViews    SortOrder = "views"
)

// ListOptions narrows ListDashboards. The zero value lists every dashboard, newest first.
type ListOptions struct {
	Sort       SortOrder
	Search     string
	Limit      int
	PublicOnly bool
}

// DashboardStore persists dashboards.
type DashboardStore interface {
	CreateDashboard(ctx context.Context, d *models.Dashboard) error
	GetDashboard(ctx context.Context, id string) (*models.Dashboard, error)
	GetDashboardBySlug(ctx context.Context, slug string) (*models.Dashboard, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListDashboards(ctx context.Context, opts ListOptions) ([]models.Dashboard, error)
	// ListInactiveDashboards returns dashboards whose lastActivityAt is strictly before cutoff.
	ListInactiveDashboards(ctx context.Context, cutoff time.Time) ([]models.Dashboard, error)
	UpdateDashboard(ctx context.Context, id string, fields Fields) error
	// IncrementDashboard atomically adds delta to a numeric field.
	IncrementDashboard(ctx context.Context, id string, field string, delta int64) error
	DeleteDashboard(ctx context.Context, id string) error
}

// EventStore persists the events owned by a dashboard.
type EventStore interface {
	CreateEvent(ctx context.Context, e *models.Event) error
	GetEvent(ctx context.Context, dashboardID, id string) (*models.Event, error)
	// ListEvents returns the dashboard's events ordered by date ascending.
	ListEvents(ctx context.Context, dashboardID string) ([]models.Event, error)
	UpdateEvent(ctx context.Context, dashboardID, id string, fields Fields) error
	DeleteEvent(ctx context.Context, dashboardID, id string) error
	DeleteEventsByDashboard(ctx context.Context, dashboardID string) (int64, error)
}

// ViewLogStore is the append-only view log.
type ViewLogStore interface {
	InsertViewLog(ctx context.Context, v *models.ViewLog) error
	// CountViewWindows counts, in one consistent read, the dashboard's entries with
	// cutoffs[i] <= viewedAt <= now for each cutoff.
	CountViewWindows(ctx context.Context, dashboardID string, now time.Time, cutoffs []time.Time) ([]int64, error)
	// ListViewLogIDsBefore returns ids of entries with viewedAt strictly before cutoff.
	ListViewLogIDsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	// DeleteViewLogs removes the given entries as one committed unit.
	DeleteViewLogs(ctx context.Context, ids []string) (int64, error)
}

// Store is the full backend used by the application.
type Store interface {
	DashboardStore
	EventStore
	ViewLogStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.AppConfig) (Store, error) {
	switch cfg.StoreDriver {
	case "mongo", "":
		db, err := config.InitMongo(ctx)
		if err != nil {
			return nil, err
		}
		st := NewMongoStore(db)
		if err := st.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("store: ensure mongo indexes: %w", err)
		}
		return st, nil
	case "mysql":
		db := config.InitDatabase(&models.Dashboard{}, &models.Event{}, &models.ViewLog{})
		return NewGormStore(db), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.StoreDriver)
	}
}

func minTime(ts []time.Time) time.Time {
	var m time.Time
	for i, t := range ts {
		if i == 0 || t.Before(m) {
			m = t
		}
	}
	return m
}
