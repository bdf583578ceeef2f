package service

import (
	"context"
	"errors"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/events"
	pktNats "salesbot-wa-be/pkg/nats" // Renamed to avoid collision
	"salesbot-wa-be/pkg/whatsapp/driver"
	"salesbot-wa-be/pkg/whatsapp/pipeline"
)

const outboundDurable = "wa-outbound-worker"

type EventSubscriber interface {
	Subscribe(ctx context.Context, eventType, durableName string, handler pktNats.EventHandler) error
}

type MessageSender interface {
	SendText(ctx context.Context, recipient, content string) (string, error)
	SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error)
}

// DispatchObserver is told about every send so failures count toward the
// restart threshold.
type DispatchObserver interface {
	ObserveDispatch(recipient string, err error)
}

var errInvalidRecipient = errors.New("invalid recipient")

// OutboundService sends messages requested by other services over the
// event bus.
type OutboundService struct {
	subscriber EventSubscriber
	sender     MessageSender
	observer   DispatchObserver
	logger     logger.ILogger
}

func NewOutboundService(sub EventSubscriber, sender MessageSender, observer DispatchObserver, log logger.ILogger) *OutboundService {
	return &OutboundService{subscriber: sub, sender: sender, observer: observer, logger: log}
}

func (s *OutboundService) Start(ctx context.Context) error {
	if err := s.subscriber.Subscribe(ctx, events.OutboundCommandType, outboundDurable, s.handleEvent); err != nil {
		s.logger.Error("OUTBOUND", "Failed to start outbound subscriber", map[string]interface{}{"error": err.Error()})
		return err
	}
	s.logger.Info("OUTBOUND", "Outbound service started", map[string]interface{}{"type": events.OutboundCommandType})
	return nil
}

// handleEvent returns an error only for retryable failures; malformed
// commands are logged and acknowledged.
func (s *OutboundService) handleEvent(ctx context.Context, event events.Event) error {
	cmd, err := events.DecodeOutbound(event)
	if err != nil {
		s.logger.Warn("OUTBOUND", "Malformed outbound command", map[string]interface{}{"error": err.Error()})
		return nil
	}
	phone := pipeline.NormalizePhone(cmd.Recipient)
	if !pipeline.ValidPhone(phone) || (cmd.Text == "" && cmd.MediaRef == "") {
		s.logger.Warn("OUTBOUND", "Rejected outbound command", map[string]interface{}{"recipient": cmd.Recipient, "error": errInvalidRecipient.Error()})
		return nil
	}

	if cmd.MediaRef != "" {
		_, err = s.sender.SendMedia(ctx, phone, cmd.MediaRef, cmd.Caption)
	} else {
		_, err = s.sender.SendText(ctx, phone, cmd.Text)
	}
	if errors.Is(err, driver.ErrUnsupported) {
		s.logger.Warn("OUTBOUND", "Active driver cannot send media", map[string]interface{}{"recipient": phone})
		return nil
	}
	if s.observer != nil {
		s.observer.ObserveDispatch(phone, err)
	}
	if err != nil {
		s.logger.Warn("OUTBOUND", "Outbound send failed", map[string]interface{}{"recipient": phone, "error": err.Error()})
		return err
	}
	return nil
}
