package postgres

import (
	"time"

	"gorm.io/gorm"
)

// CreatedBefore returns a GORM scope that selects rows created strictly before cutoff.
func CreatedBefore(cutoff time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("created_at < ?", cutoff.UTC())
	}
}
