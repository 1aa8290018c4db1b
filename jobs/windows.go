package jobs

import (
	"context"
	"time"
)

// Trending windows and the weight each one contributes per view. The windows
// overlap, so a view inside the last day counts toward all three.
const (
	Window24h = 24 * time.Hour
	Window7d  = 7 * 24 * time.Hour
	Window30d = 30 * 24 * time.Hour

	Weight24h = 10
	Weight7d  = 3
	Weight30d = 1
)

// Windows are the view counts of one dashboard over the trending windows.
type Windows struct {
	Views24h int64 `json:"views24h"`
	Views7d  int64 `json:"views7d"`
	Views30d int64 `json:"views30d"`
}

// Score is the trending score of the windows.
func (w Windows) Score() int64 {
	return w.Views24h*Weight24h + w.Views7d*Weight7d + w.Views30d*Weight30d
}

// WindowCutoffs returns the inclusive lower bounds of the 24h, 7d and 30d windows ending at now.
func WindowCutoffs(now time.Time) []time.Time {
	return []time.Time{now.Add(-Window24h), now.Add(-Window7d), now.Add(-Window30d)}
}

// ViewCounter counts a dashboard's view-log entries per window cutoff.
type ViewCounter interface {
	CountViewWindows(ctx context.Context, dashboardID string, now time.Time, cutoffs []time.Time) ([]int64, error)
}

// CountWindows counts a dashboard's views in every window from one consistent read.
func CountWindows(ctx context.Context, st ViewCounter, dashboardID string, now time.Time) (Windows, error) {
	counts, err := st.CountViewWindows(ctx, dashboardID, now, WindowCutoffs(now))
	if err != nil {
		return Windows{}, err
	}
	return Windows{Views24h: counts[0], Views7d: counts[1], Views30d: counts[2]}, nil
}
