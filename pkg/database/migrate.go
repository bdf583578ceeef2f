package database

import (
	"salesbot-wa-be/internal/model"

	"gorm.io/gorm"
)

// Models lists every table owned by the service.
func Models() []interface{} {
	return []interface{}{
		&model.WhatsappCredential{},
		&model.WhatsappHealthLog{},
		&model.Lead{},
	}
}

// Migrate enables pgcrypto for gen_random_uuid and auto-migrates Models.
func Migrate(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto;`).Error; err != nil {
		return err
	}
	return db.AutoMigrate(Models()...)
}
