package implementation

import (
	"context"
	"errors"

	"salesbot-wa-be/internal/model"
	"salesbot-wa-be/internal/repository/contract"
	"salesbot-wa-be/pkg/sealbox"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CredentialRepositoryImpl struct {
	db  *gorm.DB
	box *sealbox.Box
}

// NewCredentialRepository stores blobs sealed with box. A nil box stores
// them as-is.
func NewCredentialRepository(db *gorm.DB, box *sealbox.Box) contract.CredentialRepository {
	return &CredentialRepositoryImpl{db: db, box: box}
}

func (r *CredentialRepositoryImpl) Save(ctx context.Context, kind string, blob []byte) error {
	stored := blob
	if r.box != nil {
		sealed, err := r.box.Seal(blob, []byte(kind))
		if err != nil {
			return err
		}
		stored = sealed
	}
	m := &model.WhatsappCredential{DriverKind: kind, Blob: stored}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "driver_kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob", "updated_at"}),
	}).Create(m).Error
}

func (r *CredentialRepositoryImpl) Load(ctx context.Context, kind string) ([]byte, error) {
	var m model.WhatsappCredential
	if err := r.db.WithContext(ctx).Where("driver_kind = ?", kind).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if r.box == nil {
		return m.Blob, nil
	}
	return r.box.Open(m.Blob, []byte(kind))
}

func (r *CredentialRepositoryImpl) Purge(ctx context.Context, kind string) error {
	return r.db.WithContext(ctx).Where("driver_kind = ?", kind).Delete(&model.WhatsappCredential{}).Error
}
