package contract

import (
	"context"

	"salesbot-wa-be/internal/entity"
)

type LeadRepository interface {
	Upsert(ctx context.Context, phone string, u entity.LeadUpdate) error
	FindByPhone(ctx context.Context, phone string) (*entity.Lead, error)
}
