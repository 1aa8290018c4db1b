package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/countdownstack/models"
)

// GormStore is the relational backend (MySQL in production, SQLite in tests).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var dashboardColumns = map[string]string{
	models.FieldSlug:           "slug",
	models.FieldTitle:          "title",
	models.FieldDescription:    "description",
	models.FieldPasswordHash:   "password_hash",
	models.FieldIsPrivate:      "is_private",
	models.FieldCreatedAt:      "created_at",
	models.FieldUpdatedAt:      "updated_at",
	models.FieldLastActivityAt: "last_activity_at",
	models.FieldViewCount:      "view_count",
	models.FieldTrendingScore:  "trending_score",
}

var eventColumns = map[string]string{
	models.FieldEventTitle:       "title",
	models.FieldEventDescription: "description",
	models.FieldEventDate:        "date",
	models.FieldEventColor:       "color",
}

func toColumns(fields Fields, columns map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		col, ok := columns[k]
		if !ok {
			return nil, fmt.Errorf("store: unknown field %q", k)
		}
		out[col] = v
	}
	return out, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateDashboard(ctx context.Context, d *models.Dashboard) error {
	d.EnsureDefaults(time.Now())
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("insert dashboard: %w", err)
	}
	return nil
}

func (s *GormStore) firstDashboard(ctx context.Context, query string, arg any) (*models.Dashboard, error) {
	var d models.Dashboard
	if err := s.db.WithContext(ctx).Where(query, arg).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find dashboard: %w", err)
	}
	return &d, nil
}

func (s *GormStore) GetDashboard(ctx context.Context, id string) (*models.Dashboard, error) {
	return s.firstDashboard(ctx, "id = ?", id)
}

func (s *GormStore) GetDashboardBySlug(ctx context.Context, slug string) (*models.Dashboard, error) {
	return s.firstDashboard(ctx, "slug = ?", slug)
}

func (s *GormStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Dashboard{}).Where("slug = ?", slug).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count slug: %w", err)
	}
	return n > 0, nil
}

func (s *GormStore) ListDashboards(ctx context.Context, opts ListOptions) ([]models.Dashboard, error) {
	q := s.db.WithContext(ctx).Model(&models.Dashboard{})
	if opts.PublicOnly {
		q = q.Where("is_private = ?", false)
	}
	if term := strings.ToLower(strings.TrimSpace(opts.Search)); term != "" {
		like := "%" + term + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(slug) LIKE ?", like, like, like)
	}
	switch opts.Sort {
	case SortTrending:
		q = q.Order("trending_score DESC")
	case SortViews:
		q = q.Order("view_count DESC")
	}
	q = q.Order("created_at DESC").Order("id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	out := []models.Dashboard{}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	return out, nil
}

func (s *GormStore) ListInactiveDashboards(ctx context.Context, cutoff time.Time) ([]models.Dashboard, error) {
	var out []models.Dashboard
	err := s.db.WithContext(ctx).Where("last_activity_at < ?", cutoff).Order("last_activity_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list inactive dashboards: %w", err)
	}
	return out, nil
}

// exists disambiguates RowsAffected == 0, which MySQL also reports for an
// update that leaves the row unchanged.
func (s *GormStore) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *GormStore) UpdateDashboard(ctx context.Context, id string, fields Fields) error {
	cols, err := toColumns(fields, dashboardColumns)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		_, err := s.GetDashboard(ctx, id)
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.Dashboard{}).Where("id = ?", id).UpdateColumns(cols)
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return ErrSlugTaken
		}
		return fmt.Errorf("update dashboard: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		ok, err := s.exists(ctx, &models.Dashboard{}, "id = ?", id)
		if err != nil {
			return fmt.Errorf("update dashboard: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
	}
	return nil
}

func (s *GormStore) IncrementDashboard(ctx context.Context, id string, field string, delta int64) error {
	col, ok := dashboardColumns[field]
	if !ok || (field != models.FieldViewCount && field != models.FieldTrendingScore) {
		return fmt.Errorf("store: field %q is not a counter", field)
	}
	res := s.db.WithContext(ctx).Model(&models.Dashboard{}).Where("id = ?", id).
		UpdateColumn(col, gorm.Expr(col+" + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("increment dashboard %s: %w", field, res.Error)
	}
	if res.RowsAffected == 0 {
		if ok, err := s.exists(ctx, &models.Dashboard{}, "id = ?", id); err != nil || !ok {
			if err != nil {
				return fmt.Errorf("increment dashboard %s: %w", field, err)
			}
			return ErrNotFound
		}
	}
	return nil
}

func (s *GormStore) DeleteDashboard(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Dashboard{})
	if res.Error != nil {
		return fmt.Errorf("delete dashboard: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateEvent(ctx context.Context, e *models.Event) error {
	e.EnsureDefaults(time.Now())
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *GormStore) GetEvent(ctx context.Context, dashboardID, id string) (*models.Event, error) {
	var e models.Event
	err := s.db.WithContext(ctx).Where("id = ? AND dashboard_id = ?", id, dashboardID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find event: %w", err)
	}
	return &e, nil
}

func (s *GormStore) ListEvents(ctx context.Context, dashboardID string) ([]models.Event, error) {
	out := []models.Event{}
	err := s.db.WithContext(ctx).Where("dashboard_id = ?", dashboardID).Order("date ASC").Order("id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (s *GormStore) UpdateEvent(ctx context.Context, dashboardID, id string, fields Fields) error {
	cols, err := toColumns(fields, eventColumns)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		_, err := s.GetEvent(ctx, dashboardID, id)
		return err
	}
	res := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("id = ? AND dashboard_id = ?", id, dashboardID).UpdateColumns(cols)
	if res.Error != nil {
		return fmt.Errorf("update event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		ok, err := s.exists(ctx, &models.Event{}, "id = ? AND dashboard_id = ?", id, dashboardID)
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
	}
	return nil
}

func (s *GormStore) DeleteEvent(ctx context.Context, dashboardID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND dashboard_id = ?", id, dashboardID).Delete(&models.Event{})
	if res.Error != nil {
		return fmt.Errorf("delete event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteEventsByDashboard(ctx context.Context, dashboardID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("dashboard_id = ?", dashboardID).Delete(&models.Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) InsertViewLog(ctx context.Context, v *models.ViewLog) error {
	v.EnsureDefaults(time.Now())
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("insert view log: %w", err)
	}
	return nil
}

func (s *GormStore) CountViewWindows(ctx context.Context, dashboardID string, now time.Time, cutoffs []time.Time) ([]int64, error) {
	counts := make([]int64, len(cutoffs))
	if len(cutoffs) == 0 {
		return counts, nil
	}
	parts := make([]string, len(cutoffs))
	args := make([]any, len(cutoffs))
	dest := make([]any, len(cutoffs))
	for i, c := range cutoffs {
		parts[i] = "COALESCE(SUM(CASE WHEN viewed_at >= ? THEN 1 ELSE 0 END), 0)"
		args[i] = c
		dest[i] = &counts[i]
	}
	row := s.db.WithContext(ctx).Model(&models.ViewLog{}).
		Select(strings.Join(parts, ", "), args...).
		Where("dashboard_id = ? AND viewed_at >= ? AND viewed_at <= ?", dashboardID, minTime(cutoffs), now).
		Row()
	if err := row.Scan(dest...); err != nil {
		return nil, fmt.Errorf("count view windows: %w", err)
	}
	return counts, nil
}

func (s *GormStore) ListViewLogIDsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.ViewLog{}).
		Where("viewed_at < ?", cutoff).Order("viewed_at ASC").Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list expired view logs: %w", err)
	}
	return ids, nil
}

func (s *GormStore) DeleteViewLogs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.ViewLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete view logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
