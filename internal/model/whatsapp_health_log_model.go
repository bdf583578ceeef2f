package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type WhatsappHealthLog struct {
	Id                  uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Kind                string         `gorm:"type:varchar(40);not null;index"`
	Severity            string         `gorm:"type:varchar(10);not null;index"`
	Context             datatypes.JSON `gorm:"type:jsonb"`
	ConsecutiveFailures int            `gorm:"not null;default:0"`
	CreatedAt           time.Time      `gorm:"default:now();not null;index"`
}

func (WhatsappHealthLog) TableName() string {
	return "whatsapp_health_logs"
}
