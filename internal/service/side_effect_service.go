package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"salesbot-wa-be/internal/dto"
	"salesbot-wa-be/pkg/whatsapp/pipeline"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	TopicLeadUpsert     = "lead.upsert"
	TopicScoringContext = "scoring.context"
)

// SideEffectPublisher hands answered turns to the in-process bus. The
// consumers update the lead record and the scoring context.
type SideEffectPublisher struct {
	publisher message.Publisher
	topics    []string
}

func NewSideEffectPublisher(pub message.Publisher) *SideEffectPublisher {
	return &SideEffectPublisher{publisher: pub, topics: []string{TopicLeadUpsert, TopicScoringContext}}
}

func (p *SideEffectPublisher) Dispatch(ctx context.Context, turn pipeline.Turn) error {
	payload, err := json.Marshal(dto.TurnMessage{
		SenderID: turn.SenderID,
		Inbound:  turn.Inbound,
		Reply:    turn.Reply,
		At:       turn.At,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, topic := range p.topics {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.SetContext(ctx)
		if err := p.publisher.Publish(topic, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}
