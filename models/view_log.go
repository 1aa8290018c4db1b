package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ViewLog is an immutable record of one counted page view of a dashboard.
type ViewLog struct {
	ID          string    `gorm:"primaryKey;size:36" bson:"_id" json:"id"`
	DashboardID string    `gorm:"size:36;index:idx_view_logs_dashboard_viewed;not null" bson:"dashboardId" json:"dashboardId"`
	ViewedAt    time.Time `gorm:"index;index:idx_view_logs_dashboard_viewed;not null" bson:"viewedAt" json:"viewedAt"`
}

func (v *ViewLog) EnsureDefaults(now time.Time) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.ViewedAt.IsZero() {
		v.ViewedAt = now
	}
}

func (v *ViewLog) BeforeCreate(tx *gorm.DB) error {
	v.EnsureDefaults(time.Now())
	return nil
}
