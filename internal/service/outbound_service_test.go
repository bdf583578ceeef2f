package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/events"
	pktNats "salesbot-wa-be/pkg/nats"
	"salesbot-wa-be/pkg/whatsapp/driver"
	"salesbot-wa-be/pkg/whatsapp/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSubscriber struct {
	eventType string
	handler   pktNats.EventHandler
}

func (c *captureSubscriber) Subscribe(ctx context.Context, eventType, durable string, h pktNats.EventHandler) error {
	c.eventType = eventType
	c.handler = h
	return nil
}

type sentMessage struct {
	To, Text, Media, Caption string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendText(ctx context.Context, to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{To: to, Text: text})
	return "msg-1", nil
}

func (f *fakeSender) SendMedia(ctx context.Context, to, ref, caption string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{To: to, Media: ref, Caption: caption})
	return "msg-2", nil
}

type dispatchLog struct {
	mu   sync.Mutex
	errs []error
}

func (d *dispatchLog) ObserveDispatch(recipient string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func outboundEvent(data map[string]interface{}) events.Event {
	return events.BaseEvent{Type: events.OutboundCommandType, Data: data, OccurredAt: time.Now()}
}

func TestOutboundServiceSends(t *testing.T) {
	sub := &captureSubscriber{}
	sender := &fakeSender{}
	obs := &dispatchLog{}
	svc := NewOutboundService(sub, sender, obs, logger.NewNopLogger())
	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, events.OutboundCommandType, sub.eventType)

	ctx := context.Background()
	require.NoError(t, sub.handler(ctx, outboundEvent(map[string]interface{}{"recipient": "11999999999", "text": "Olá!"})))
	require.NoError(t, sub.handler(ctx, outboundEvent(map[string]interface{}{"recipient": "5511988887777", "mediaRef": "https://cdn/x.jpg", "caption": "catálogo"})))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, sentMessage{To: "5511999999999", Text: "Olá!"}, sender.sent[0])
	assert.Equal(t, "https://cdn/x.jpg", sender.sent[1].Media)
	assert.Len(t, obs.errs, 2)
}

func TestOutboundServiceRejectsBadCommands(t *testing.T) {
	sub := &captureSubscriber{}
	sender := &fakeSender{}
	require.NoError(t, NewOutboundService(sub, sender, nil, logger.NewNopLogger()).Start(context.Background()))

	tests := []map[string]interface{}{
		{"recipient": "0000", "text": "x"},
		{"recipient": "5511999999999"},
		{"recipient": 42},
	}
	for _, data := range tests {
		assert.NoError(t, sub.handler(context.Background(), outboundEvent(data)))
	}
	assert.Empty(t, sender.sent)
}

func TestOutboundServiceRetryableErrors(t *testing.T) {
	sub := &captureSubscriber{}
	obs := &dispatchLog{}
	sender := &fakeSender{err: session.ErrNotReady}
	require.NoError(t, NewOutboundService(sub, sender, obs, logger.NewNopLogger()).Start(context.Background()))

	err := sub.handler(context.Background(), outboundEvent(map[string]interface{}{"recipient": "5511999999999", "text": "oi"}))
	assert.ErrorIs(t, err, session.ErrNotReady)

	sender.err = driver.ErrUnsupported
	err = sub.handler(context.Background(), outboundEvent(map[string]interface{}{"recipient": "5511999999999", "mediaRef": "x"}))
	assert.NoError(t, err)
	assert.Len(t, obs.errs, 1)
	assert.True(t, errors.Is(obs.errs[0], session.ErrNotReady))
}
