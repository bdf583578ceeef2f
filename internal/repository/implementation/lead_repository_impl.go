package implementation

import (
	"context"
	"errors"
	"time"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/mapper"
	"salesbot-wa-be/internal/model"
	"salesbot-wa-be/internal/repository/contract"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeadRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.LeadMapper
}

func NewLeadRepository(db *gorm.DB) contract.LeadRepository {
	return &LeadRepositoryImpl{
		db:     db,
		mapper: mapper.NewLeadMapper(),
	}
}

// Upsert creates the lead on first contact and bumps the counters after.
func (r *LeadRepositoryImpl) Upsert(ctx context.Context, phone string, u entity.LeadUpdate) error {
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	m := &model.Lead{
		Phone:        phone,
		FirstContact: at,
		LastContact:  at,
		LastMessage:  u.LastMessage,
		MessageCount: 1,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_contact":  gorm.Expr("EXCLUDED.last_contact"),
			"last_message":  gorm.Expr("COALESCE(NULLIF(EXCLUDED.last_message, ''), leads.last_message)"),
			"message_count": gorm.Expr("leads.message_count + 1"),
		}),
	}).Create(m).Error
}

func (r *LeadRepositoryImpl) FindByPhone(ctx context.Context, phone string) (*entity.Lead, error) {
	var m model.Lead
	if err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}
