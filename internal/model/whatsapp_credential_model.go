package model

import "time"

type WhatsappCredential struct {
	DriverKind string    `gorm:"type:varchar(20);primaryKey"`
	Blob       []byte    `gorm:"type:bytea;not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (WhatsappCredential) TableName() string {
	return "whatsapp_credentials"
}
