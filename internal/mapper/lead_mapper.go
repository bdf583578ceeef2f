package mapper

import (
	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/model"
)

type LeadMapper struct{}

func NewLeadMapper() *LeadMapper {
	return &LeadMapper{}
}

func (m *LeadMapper) ToEntity(l *model.Lead) *entity.Lead {
	if l == nil {
		return nil
	}
	return &entity.Lead{
		Phone:        l.Phone,
		FirstContact: l.FirstContact,
		LastContact:  l.LastContact,
		LastMessage:  l.LastMessage,
		MessageCount: l.MessageCount,
	}
}

func (m *LeadMapper) ToModel(l *entity.Lead) *model.Lead {
	if l == nil {
		return nil
	}
	return &model.Lead{
		Phone:        l.Phone,
		FirstContact: l.FirstContact,
		LastContact:  l.LastContact,
		LastMessage:  l.LastMessage,
		MessageCount: l.MessageCount,
	}
}
