// Package jobs keeps the derived dashboard data consistent: it recomputes
// trending scores, expires old view logs, reaps inactive dashboards and
// records individual views. Every job re-derives its state from the store, so
// runs may overlap, be interrupted, or be repeated without harm.
package jobs

import (
	"time"

	"go.uber.org/zap"

	"github.com/cppla/countdownstack/config"
)

// Job names used for logging, metrics and the scheduler.
const (
	JobTrending   = "trending"
	JobRetention  = "retention"
	JobInactivity = "inactivity"
	JobViews      = "views"
)

// Config holds the tunables shared by the jobs.
type Config struct {
	// TrendingConcurrency bounds how many dashboards the aggregator scores at once (default: 8).
	TrendingConcurrency int

	// RetentionHorizon is the age after which view log entries are deleted (default: 30 days).
	RetentionHorizon time.Duration

	// RetentionBatchSize is the maximum number of entries removed per committed batch (default: 500).
	RetentionBatchSize int

	// InactivityHorizon is how long a dashboard may go without activity before it is reaped (default: 90 days).
	InactivityHorizon time.Duration

	// DedupWindow suppresses repeated views by the same viewer of the same dashboard (default: 30 minutes).
	DedupWindow time.Duration

	// Now is the clock; tests inject a fixed one.
	Now func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TrendingConcurrency: 8,
		RetentionHorizon:    30 * 24 * time.Hour,
		RetentionBatchSize:  500,
		InactivityHorizon:   90 * 24 * time.Hour,
		DedupWindow:         30 * time.Minute,
		Now:                 time.Now,
	}
}

// ConfigFrom derives the job configuration from the application configuration.
func ConfigFrom(app config.AppConfig) Config {
	c := DefaultConfig()
	if app.TrendingConcurrency > 0 {
		c.TrendingConcurrency = app.TrendingConcurrency
	}
	if app.ViewLogRetentionDays > 0 {
		c.RetentionHorizon = time.Duration(app.ViewLogRetentionDays) * 24 * time.Hour
	}
	if app.RetentionBatchSize > 0 {
		c.RetentionBatchSize = app.RetentionBatchSize
	}
	if app.InactivityDays > 0 {
		c.InactivityHorizon = time.Duration(app.InactivityDays) * 24 * time.Hour
	}
	if app.ViewDedupMinutes > 0 {
		c.DedupWindow = time.Duration(app.ViewDedupMinutes) * time.Minute
	}
	return c
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TrendingConcurrency <= 0 {
		c.TrendingConcurrency = d.TrendingConcurrency
	}
	if c.RetentionHorizon <= 0 {
		c.RetentionHorizon = d.RetentionHorizon
	}
	if c.RetentionBatchSize <= 0 {
		c.RetentionBatchSize = d.RetentionBatchSize
	}
	if c.InactivityHorizon <= 0 {
		c.InactivityHorizon = d.InactivityHorizon
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = d.DedupWindow
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

func named(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(name)
}
