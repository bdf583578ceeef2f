package scope

import "gorm.io/gorm"

// NewestFirst orders by creation time, breaking ties on id so pages are stable.
func NewestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC").Order("id DESC")
}
