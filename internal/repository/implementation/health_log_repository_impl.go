package implementation

import (
	"context"
	"time"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/mapper"
	"salesbot-wa-be/internal/model"
	"salesbot-wa-be/internal/repository/contract"
	"salesbot-wa-be/internal/repository/scope"
	"salesbot-wa-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type HealthLogRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.HealthLogMapper
}

func NewHealthLogRepository(db *gorm.DB) contract.HealthLogRepository {
	return &HealthLogRepositoryImpl{
		db:     db,
		mapper: mapper.NewHealthLogMapper(),
	}
}

func (r *HealthLogRepositoryImpl) Append(ctx context.Context, ev *entity.HealthEvent) error {
	if ev.Id == uuid.Nil {
		ev.Id = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m, err := r.mapper.ToModel(ev)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(m).Error
}

type healthSummaryRow struct {
	Total         int
	Errors        int
	Reconnections int
	Disconnects   int
}

type kindCountRow struct {
	Kind  string
	Count int
}

func (r *HealthLogRepositoryImpl) QueryAggregate(ctx context.Context, since time.Time) (*entity.HealthStats, error) {
	var row healthSummaryRow
	err := r.db.WithContext(ctx).Model(&model.WhatsappHealthLog{}).
		Select(`COUNT(*) AS total,
			COUNT(CASE WHEN severity = ? THEN 1 END) AS errors,
			COUNT(CASE WHEN kind = ? THEN 1 END) AS reconnections,
			COUNT(CASE WHEN kind = ? THEN 1 END) AS disconnects`,
			string(entity.SeverityError), entity.HealthKindReconnection, entity.HealthKindDisconnected).
		Scopes(specification.Since{Field: "created_at", At: since}.Apply).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	var kinds []kindCountRow
	err = r.db.WithContext(ctx).Model(&model.WhatsappHealthLog{}).
		Select("kind, COUNT(*) AS count").
		Scopes(specification.Since{Field: "created_at", At: since}.Apply).
		Group("kind").
		Scan(&kinds).Error
	if err != nil {
		return nil, err
	}

	stats := &entity.HealthStats{
		Since:         since,
		Total:         row.Total,
		Errors:        row.Errors,
		Reconnections: row.Reconnections,
		Disconnects:   row.Disconnects,
		ByKind:        make(map[string]int, len(kinds)),
	}
	for _, k := range kinds {
		stats.ByKind[k.Kind] = k.Count
	}
	return stats, nil
}

func (r *HealthLogRepositoryImpl) Recent(ctx context.Context, since time.Time, limit int) ([]*entity.HealthEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []*model.WhatsappHealthLog
	err := r.db.WithContext(ctx).
		Scopes(specification.Scopes(
			specification.Since{Field: "created_at", At: since},
			specification.Pagination{Limit: limit},
		)...).
		Scopes(scope.NewestFirst).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}
