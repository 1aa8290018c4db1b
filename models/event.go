package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Persisted field names of an event document.
const (
	FieldEventTitle       = "title"
	FieldEventDescription = "description"
	FieldEventDate        = "date"
	FieldEventColor       = "color"
)

// Event is a single countdown target owned by a dashboard.
type Event struct {
	ID          string    `gorm:"primaryKey;size:36" bson:"_id" json:"id"`
	DashboardID string    `gorm:"size:36;index:idx_events_dashboard_date;not null" bson:"dashboardId" json:"dashboardId"`
	Title       string    `gorm:"size:255;not null" bson:"title" json:"title"`
	Description string    `gorm:"type:text" bson:"description" json:"description"`
	Date        time.Time `gorm:"index:idx_events_dashboard_date;not null" bson:"date" json:"date"`
	Color       string    `gorm:"size:16" bson:"color" json:"color"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
}

// EnsureDefaults assigns an id and creation time when missing.
func (e *Event) EnsureDefaults(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
}

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	e.EnsureDefaults(time.Now())
	return nil
}
