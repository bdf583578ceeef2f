package model

import "time"

type Lead struct {
	Phone        string    `gorm:"type:varchar(20);primaryKey"`
	FirstContact time.Time `gorm:"not null"`
	LastContact  time.Time `gorm:"not null;index"`
	LastMessage  string    `gorm:"type:text"`
	MessageCount int       `gorm:"not null;default:0"`
}

func (Lead) TableName() string {
	return "leads"
}
