package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/broadcast"
	"salesbot-wa-be/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName    = "EVENTS"
	subjectPrefix = "events."
)

// EventPublisher is satisfied by Publisher; Forward only needs this.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Publisher handles sending events to the NATS bus.
type Publisher struct {
	js     jetstream.JetStream
	logger logger.ILogger
}

// NewPublisher wraps nc in JetStream and makes sure the EVENTS stream
// exists.
func NewPublisher(nc *nats.Conn, log logger.ILogger) (*Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		// the stream may be managed elsewhere
		log.Warn("NATS", "Failed to ensure stream", map[string]interface{}{"stream": StreamName, "error": err.Error()})
	}

	return &Publisher{js: js, logger: log}, nil
}

func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	subject := subjectPrefix + event.EventType()
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	return nil
}

// Forward relays every local hub event to pub until ctx ends or the
// subscription is closed. Relayed events were already forwarded by their
// origin instance. Publish errors are logged, not retried.
func Forward(ctx context.Context, sub *broadcast.Subscription, pub EventPublisher, log logger.ILogger) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if !ev.Local() {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := pub.Publish(pctx, events.FromBroadcast(ev))
			cancel()
			if err != nil {
				log.Warn("NATS", "Forwarding hub event failed", map[string]interface{}{"type": ev.Type, "error": err.Error()})
			}
		}
	}
}
