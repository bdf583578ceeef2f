package specification

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Since keeps rows whose Field is at or after At. A zero At is a no-op.
type Since struct {
	Field string
	At    time.Time
}

func (s Since) Apply(db *gorm.DB) *gorm.DB {
	if s.At.IsZero() {
		return db
	}
	return db.Where(fmt.Sprintf("%s >= ?", s.Field), s.At)
}

// Pagination
type Pagination struct {
	Limit  int
	Offset int
}

func (s Pagination) Apply(db *gorm.DB) *gorm.DB {
	return db.Limit(s.Limit).Offset(s.Offset)
}
