package nats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/broadcast"
	"salesbot-wa-be/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
	fail  bool
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, ev.EventType())
	if p.fail {
		return errors.New("no stream")
	}
	return nil
}

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

func TestForwardRelaysHubEvents(t *testing.T) {
	hub := broadcast.NewHub(logger.NewNopLogger())
	pub := &recordingPublisher{fail: true}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	sub := hub.Subscribe("nats")
	go func() {
		Forward(ctx, sub, pub, logger.NewNopLogger())
		close(done)
	}()

	hub.Publish(broadcast.Event{Type: broadcast.EventConnected, Data: broadcast.ConnectedPayload{Driver: "primary"}})
	hub.Publish(broadcast.Event{Type: broadcast.EventDisconnected, Origin: "other-instance"})
	hub.Publish(broadcast.Event{Type: broadcast.EventReady})

	require.Eventually(t, func() bool { return len(pub.seen()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"wa.connected", "wa.ready"}, pub.seen())

	cancel()
	<-done
	assert.Equal(t, 0, hub.Count())
}
