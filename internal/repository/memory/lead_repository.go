package memory

import (
	"context"
	"sync"
	"time"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/repository/contract"
)

type LeadRepository struct {
	mu    sync.Mutex
	leads map[string]*entity.Lead
}

func NewLeadRepository() *LeadRepository {
	return &LeadRepository{leads: make(map[string]*entity.Lead)}
}

var _ contract.LeadRepository = (*LeadRepository)(nil)

func (r *LeadRepository) Upsert(ctx context.Context, phone string, u entity.LeadUpdate) error {
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[phone]
	if !ok {
		l = &entity.Lead{Phone: phone, FirstContact: at}
		r.leads[phone] = l
	}
	l.LastContact = at
	if u.LastMessage != "" {
		l.LastMessage = u.LastMessage
	}
	l.MessageCount++
	return nil
}

func (r *LeadRepository) FindByPhone(ctx context.Context, phone string) (*entity.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[phone]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}
