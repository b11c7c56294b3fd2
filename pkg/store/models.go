package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProfileModel struct {
	ID                string `gorm:"primaryKey"`
	OwnerID           string `gorm:"not null;index"`
	Name              string `gorm:"not null"`
	Age               int    `gorm:"not null"`
	Price             int64  `gorm:"not null"`
	Description       string `gorm:"type:text;not null"`
	Address           string `gorm:"not null"`
	Latitude          float64
	Longitude         float64
	Published         bool      `gorm:"not null;index"`
	IsDraft           bool      `gorm:"not null;index"`
	OriginalProfileID *string   `gorm:"index"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

type ProfileImageModel struct {
	ID           string `gorm:"primaryKey"`
	ProfileID    string `gorm:"not null;index"`
	ThumbURL     string `gorm:"not null"`
	ThumbCDNURL  string
	ThumbKey     string `gorm:"not null"`
	MediumURL    string `gorm:"not null"`
	MediumCDNURL string
	MediumKey    string `gorm:"not null;index"`
	HighURL      string `gorm:"not null"`
	HighCDNURL   string
	HighKey      string    `gorm:"not null"`
	Position     int       `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TagModel is a small reference entity shared across profiles; Category is
// one of the five tag categories.
type TagModel struct {
	ID       uint   `gorm:"primaryKey"`
	Category string `gorm:"not null;uniqueIndex:idx_tag_category_name"`
	Name     string `gorm:"not null;uniqueIndex:idx_tag_category_name"`
}

// ProfileTagModel is the many-to-many join between profiles and tags.
type ProfileTagModel struct {
	ProfileID string `gorm:"primaryKey"`
	TagID     uint   `gorm:"primaryKey"`
}

type ModerationEventModel struct {
	ID        string `gorm:"primaryKey"`
	ProfileID string `gorm:"not null;index"`
	Actor     string `gorm:"not null"`
	Action    string `gorm:"not null"`
	Detail    datatypes.JSON
	CreatedAt time.Time `gorm:"not null;index"`
}
