package utils

import (
	"context"
	"sync"
	"time"
)

// ViewDeduper suppresses repeat views with Redis SETNX keys, falling back to a
// process-local map when Redis is not in use.
type ViewDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewViewDeduper() *ViewDeduper {
	return &ViewDeduper{seen: map[string]time.Time{}, now: time.Now}
}

// Allow reports whether key was not seen within window, and marks it seen.
// Redis errors fail open: the view is counted.
func (d *ViewDeduper) Allow(ctx context.Context, key string, window time.Duration) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		ok, err := rc.SetNX(ctx, "dedup:"+key, "1", window).Result()
		if err != nil {
			Sugar.Debugf("view dedup redis error key=%s err=%v", key, err)
			return true
		}
		return ok
	}

	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if until, ok := d.seen[key]; ok && now.Before(until) {
		return false
	}
	d.seen[key] = now.Add(window)
	if len(d.seen) > 10000 {
		for k, until := range d.seen {
			if !now.Before(until) {
				delete(d.seen, k)
			}
		}
	}
	return true
}
