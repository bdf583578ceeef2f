package service

import (
	"context"
	"encoding/json"
	"time"

	"salesbot-wa-be/internal/dto"
	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/repository/contract"
	"salesbot-wa-be/pkg/scoring"

	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	consumerAttempts = 3
	consumerBackoff  = 200 * time.Millisecond
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	subscriber message.Subscriber
	leads      contract.LeadRepository
	contexts   scoring.ContextStore
	logger     logger.ILogger
}

func NewConsumerService(sub message.Subscriber, leads contract.LeadRepository, contexts scoring.ContextStore, log logger.ILogger) IConsumerService {
	return &consumerService{
		subscriber: sub,
		leads:      leads,
		contexts:   contexts,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	handlers := map[string]func(context.Context, dto.TurnMessage) error{
		TopicLeadUpsert:     cs.upsertLead,
		TopicScoringContext: cs.updateContext,
	}
	for topic, handle := range handlers {
		messages, err := cs.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		go func(topic string, handle func(context.Context, dto.TurnMessage) error) {
			for msg := range messages {
				cs.processMessage(ctx, topic, msg, handle)
			}
		}(topic, handle)
	}
	return nil
}

// processMessage always acks: the in-process bus redelivers a Nack at once,
// so retries happen here with a short backoff instead.
func (cs *consumerService) processMessage(ctx context.Context, topic string, msg *message.Message, handle func(context.Context, dto.TurnMessage) error) {
	defer msg.Ack()

	var payload dto.TurnMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("CONSUMER", "Failed to unmarshal message", map[string]interface{}{"topic": topic, "error": err.Error()})
		return
	}

	var err error
	for attempt := 1; attempt <= consumerAttempts; attempt++ {
		if err = handle(ctx, payload); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(consumerBackoff * time.Duration(attempt)):
		}
	}
	cs.logger.Error("CONSUMER", "Side effect failed", map[string]interface{}{"topic": topic, "sender": payload.SenderID, "error": err.Error()})
}

func (cs *consumerService) upsertLead(ctx context.Context, m dto.TurnMessage) error {
	return cs.leads.Upsert(ctx, m.SenderID, entity.LeadUpdate{LastMessage: m.Inbound, At: m.At})
}

func (cs *consumerService) updateContext(ctx context.Context, m dto.TurnMessage) error {
	return cs.contexts.Update(ctx, scoring.Update{Phone: m.SenderID, Inbound: m.Inbound, Reply: m.Reply, At: m.At})
}
