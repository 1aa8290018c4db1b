package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cppla/countdownstack/models"
)

// MemoryStore keeps everything in process memory. It backs local development
// (StoreDriver "memory") and the tests; nothing survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	dashboards map[string]models.Dashboard
	events     map[string]models.Event
	viewLogs   map[string]models.ViewLog
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dashboards: map[string]models.Dashboard{},
		events:     map[string]models.Event{},
		viewLogs:   map[string]models.ViewLog{},
		now:        time.Now,
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error  { return ctx.Err() }
func (m *MemoryStore) Close(ctx context.Context) error { return nil }

func (m *MemoryStore) CreateDashboard(ctx context.Context, d *models.Dashboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.EnsureDefaults(m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dashboards[d.ID]; ok {
		return fmt.Errorf("store: dashboard %s already exists", d.ID)
	}
	for _, existing := range m.dashboards {
		if existing.Slug == d.Slug {
			return ErrSlugTaken
		}
	}
	m.dashboards[d.ID] = *d
	return nil
}

func (m *MemoryStore) GetDashboard(ctx context.Context, id string) (*models.Dashboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dashboards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *MemoryStore) GetDashboardBySlug(ctx context.Context, slug string) (*models.Dashboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.dashboards {
		if d.Slug == slug {
			d := d
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := m.GetDashboardBySlug(ctx, slug)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (m *MemoryStore) ListDashboards(ctx context.Context, opts ListOptions) ([]models.Dashboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(opts.Search))
	m.mu.RLock()
	out := make([]models.Dashboard, 0, len(m.dashboards))
	for _, d := range m.dashboards {
		if opts.PublicOnly && d.IsPrivate {
			continue
		}
		if search != "" && !matchesSearch(d, search) {
			continue
		}
		out = append(out, d)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch opts.Sort {
		case SortTrending:
			if a.TrendingScore != b.TrendingScore {
				return a.TrendingScore > b.TrendingScore
			}
		case SortViews:
			if a.ViewCount != b.ViewCount {
				return a.ViewCount > b.ViewCount
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func matchesSearch(d models.Dashboard, q string) bool {
	return strings.Contains(strings.ToLower(d.Title), q) ||
		strings.Contains(strings.ToLower(d.Description), q) ||
		strings.Contains(strings.ToLower(d.Slug), q)
}

func (m *MemoryStore) ListInactiveDashboards(ctx context.Context, cutoff time.Time) ([]models.Dashboard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Dashboard
	for _, d := range m.dashboards {
		if d.LastActivityAt.Before(cutoff) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	return out, nil
}

func (m *MemoryStore) UpdateDashboard(ctx context.Context, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		if err := applyDashboardField(&d, k, v); err != nil {
			return err
		}
	}
	m.dashboards[id] = d
	return nil
}

func applyDashboardField(d *models.Dashboard, field string, v any) error {
	var ok bool
	switch field {
	case models.FieldSlug:
		d.Slug, ok = v.(string)
	case models.FieldTitle:
		d.Title, ok = v.(string)
	case models.FieldDescription:
		d.Description, ok = v.(string)
	case models.FieldPasswordHash:
		d.PasswordHash, ok = v.(string)
	case models.FieldIsPrivate:
		d.IsPrivate, ok = v.(bool)
	case models.FieldCreatedAt:
		d.CreatedAt, ok = v.(time.Time)
	case models.FieldUpdatedAt:
		d.UpdatedAt, ok = v.(time.Time)
	case models.FieldLastActivityAt:
		d.LastActivityAt, ok = v.(time.Time)
	case models.FieldViewCount:
		d.ViewCount, ok = toInt64(v)
	case models.FieldTrendingScore:
		d.TrendingScore, ok = toInt64(v)
	default:
		return fmt.Errorf("store: unknown dashboard field %q", field)
	}
	if !ok {
		return fmt.Errorf("store: invalid value %T for dashboard field %q", v, field)
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	default:
		return 0, false
	}
}

func (m *MemoryStore) IncrementDashboard(ctx context.Context, id string, field string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[id]
	if !ok {
		return ErrNotFound
	}
	switch field {
	case models.FieldViewCount:
		d.ViewCount += delta
	case models.FieldTrendingScore:
		d.TrendingScore += delta
	default:
		return fmt.Errorf("store: field %q is not a counter", field)
	}
	m.dashboards[id] = d
	return nil
}

func (m *MemoryStore) DeleteDashboard(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dashboards[id]; !ok {
		return ErrNotFound
	}
	delete(m.dashboards, id)
	return nil
}

func (m *MemoryStore) CreateEvent(ctx context.Context, e *models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.EnsureDefaults(m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = *e
	return nil
}

func (m *MemoryStore) GetEvent(ctx context.Context, dashboardID, id string) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok || e.DashboardID != dashboardID {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, dashboardID string) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []models.Event
	for _, e := range m.events {
		if e.DashboardID == dashboardID {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (m *MemoryStore) UpdateEvent(ctx context.Context, dashboardID, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.DashboardID != dashboardID {
		return ErrNotFound
	}
	for k, v := range fields {
		var valid bool
		switch k {
		case models.FieldEventTitle:
			e.Title, valid = v.(string)
		case models.FieldEventDescription:
			e.Description, valid = v.(string)
		case models.FieldEventDate:
			e.Date, valid = v.(time.Time)
		case models.FieldEventColor:
			e.Color, valid = v.(string)
		default:
			return fmt.Errorf("store: unknown event field %q", k)
		}
		if !valid {
			return fmt.Errorf("store: invalid value %T for event field %q", v, k)
		}
	}
	m.events[id] = e
	return nil
}

func (m *MemoryStore) DeleteEvent(ctx context.Context, dashboardID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || e.DashboardID != dashboardID {
		return ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *MemoryStore) DeleteEventsByDashboard(ctx context.Context, dashboardID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.events {
		if e.DashboardID == dashboardID {
			delete(m.events, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) InsertViewLog(ctx context.Context, v *models.ViewLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.EnsureDefaults(m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.viewLogs[v.ID]; ok {
		return fmt.Errorf("store: view log %s already exists", v.ID)
	}
	m.viewLogs[v.ID] = *v
	return nil
}

func (m *MemoryStore) CountViewWindows(ctx context.Context, dashboardID string, now time.Time, cutoffs []time.Time) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := make([]int64, len(cutoffs))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.viewLogs {
		if v.DashboardID != dashboardID || v.ViewedAt.After(now) {
			continue
		}
		for i, c := range cutoffs {
			if !v.ViewedAt.Before(c) {
				counts[i]++
			}
		}
	}
	return counts, nil
}

func (m *MemoryStore) ListViewLogIDsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, v := range m.viewLogs {
		if v.ViewedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) DeleteViewLogs(ctx context.Context, ids []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.viewLogs[id]; ok {
			delete(m.viewLogs, id)
			n++
		}
	}
	return n, nil
}

// ViewLogCount returns the number of stored view log entries.
func (m *MemoryStore) ViewLogCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.viewLogs)
}
