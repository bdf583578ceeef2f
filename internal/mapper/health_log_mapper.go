package mapper

import (
	"encoding/json"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/model"
)

type HealthLogMapper struct{}

func NewHealthLogMapper() *HealthLogMapper {
	return &HealthLogMapper{}
}

func (m *HealthLogMapper) ToEntity(l *model.WhatsappHealthLog) *entity.HealthEvent {
	if l == nil {
		return nil
	}
	var ctx map[string]interface{}
	if len(l.Context) > 0 {
		// bad rows keep an empty context rather than failing the whole query
		_ = json.Unmarshal(l.Context, &ctx)
	}
	return &entity.HealthEvent{
		Id:                  l.Id,
		Kind:                l.Kind,
		Severity:            entity.HealthSeverity(l.Severity),
		Context:             ctx,
		ConsecutiveFailures: l.ConsecutiveFailures,
		CreatedAt:           l.CreatedAt,
	}
}

func (m *HealthLogMapper) ToModel(e *entity.HealthEvent) (*model.WhatsappHealthLog, error) {
	if e == nil {
		return nil, nil
	}
	var raw []byte
	if len(e.Context) > 0 {
		b, err := json.Marshal(e.Context)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &model.WhatsappHealthLog{
		Id:                  e.Id,
		Kind:                e.Kind,
		Severity:            string(e.Severity),
		Context:             raw,
		ConsecutiveFailures: e.ConsecutiveFailures,
		CreatedAt:           e.CreatedAt,
	}, nil
}

func (m *HealthLogMapper) ToEntities(logs []*model.WhatsappHealthLog) []*entity.HealthEvent {
	entities := make([]*entity.HealthEvent, len(logs))
	for i, l := range logs {
		entities[i] = m.ToEntity(l)
	}
	return entities
}
