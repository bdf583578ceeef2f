package specification

import "gorm.io/gorm"

// Specification is a reusable query fragment.
type Specification interface {
	Apply(db *gorm.DB) *gorm.DB
}

// Scopes adapts specs for gorm's Scopes.
func Scopes(specs ...Specification) []func(*gorm.DB) *gorm.DB {
	out := make([]func(*gorm.DB) *gorm.DB, len(specs))
	for i, s := range specs {
		out[i] = s.Apply
	}
	return out
}
