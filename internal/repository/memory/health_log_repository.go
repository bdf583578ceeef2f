package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/repository/contract"

	"github.com/google/uuid"
)

const defaultHealthLogCapacity = 5000

// HealthLogRepository is a bounded append log. The oldest events are
// dropped once capacity is reached.
type HealthLogRepository struct {
	mu       sync.RWMutex
	events   []*entity.HealthEvent
	capacity int
}

func NewHealthLogRepository(capacity int) *HealthLogRepository {
	if capacity <= 0 {
		capacity = defaultHealthLogCapacity
	}
	return &HealthLogRepository{capacity: capacity}
}

var _ contract.HealthLogRepository = (*HealthLogRepository)(nil)

func (r *HealthLogRepository) Append(ctx context.Context, ev *entity.HealthEvent) error {
	if ev.Id == uuid.Nil {
		ev.Id = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	cp := *ev

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, &cp)
	if over := len(r.events) - r.capacity; over > 0 {
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
	return nil
}

func (r *HealthLogRepository) QueryAggregate(ctx context.Context, since time.Time) (*entity.HealthStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &entity.HealthStats{Since: since, ByKind: map[string]int{}}
	for _, ev := range r.events {
		if ev.CreatedAt.Before(since) {
			continue
		}
		stats.Add(ev)
	}
	return stats, nil
}

func (r *HealthLogRepository) Recent(ctx context.Context, since time.Time, limit int) ([]*entity.HealthEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	var out []*entity.HealthEvent
	for _, ev := range r.events {
		if !ev.CreatedAt.Before(since) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
