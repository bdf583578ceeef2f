package contract

import (
	"context"
	"time"

	"salesbot-wa-be/internal/entity"
)

type HealthLogRepository interface {
	Append(ctx context.Context, ev *entity.HealthEvent) error
	QueryAggregate(ctx context.Context, since time.Time) (*entity.HealthStats, error)
	Recent(ctx context.Context, since time.Time, limit int) ([]*entity.HealthEvent, error)
}
