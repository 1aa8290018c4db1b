package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Persisted field names of a dashboard document. Partial updates and
// increments are keyed by these names in every store backend.
const (
	FieldSlug           = "slug"
	FieldTitle          = "title"
	FieldDescription    = "description"
	FieldPasswordHash   = "passwordHash"
	FieldIsPrivate      = "isPrivate"
	FieldCreatedAt      = "createdAt"
	FieldUpdatedAt      = "updatedAt"
	FieldLastActivityAt = "lastActivityAt"
	FieldViewCount      = "viewCount"
	FieldTrendingScore  = "trendingScore"
)

// Dashboard is a named, optionally password-protected collection of countdown events.
// TrendingScore was added after the first dashboards were written; a missing value reads as 0.
type Dashboard struct {
	ID             string    `gorm:"primaryKey;size:36" bson:"_id" json:"id"`
	Slug           string    `gorm:"size:191;uniqueIndex;not null" bson:"slug" json:"slug"`
	Title          string    `gorm:"size:255;not null" bson:"title" json:"title"`
	Description    string    `gorm:"type:text" bson:"description" json:"description"`
	PasswordHash   string    `gorm:"size:255" bson:"passwordHash" json:"-"`
	IsPrivate      bool      `gorm:"not null;default:false" bson:"isPrivate" json:"isPrivate"`
	CreatedAt      time.Time `gorm:"index" bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
	LastActivityAt time.Time `gorm:"index;not null" bson:"lastActivityAt" json:"lastActivityAt"`
	ViewCount      int64     `gorm:"not null;default:0" bson:"viewCount" json:"viewCount"`
	TrendingScore  int64     `gorm:"index;not null;default:0" bson:"trendingScore" json:"trendingScore"`
}

// EnsureDefaults assigns an id and fills zero timestamps with now.
func (d *Dashboard) EnsureDefaults(now time.Time) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	if d.LastActivityAt.IsZero() {
		d.LastActivityAt = d.CreatedAt
	}
}

// BeforeCreate hook ensures id and timestamps are set even when not provided.
func (d *Dashboard) BeforeCreate(tx *gorm.DB) error {
	d.EnsureDefaults(time.Now())
	return nil
}
