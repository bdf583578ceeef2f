package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/repository/memory"
	"salesbot-wa-be/pkg/whatsapp/driver"
	"salesbot-wa-be/pkg/whatsapp/driver/drivertest"
	"salesbot-wa-be/pkg/whatsapp/driver/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	subject string
	body    []byte
}

// fakeConn routes requests to reply and delivers pushes to the handler
// registered for the wildcard.
type fakeConn struct {
	reply func(subject string, body []byte) (wire.Response, error)

	mu       sync.Mutex
	handler  func(string, []byte)
	requests []request
	unsubbed int
}

func (c *fakeConn) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	c.mu.Lock()
	c.requests = append(c.requests, request{subject, data})
	c.mu.Unlock()
	resp := wire.Response{Ok: true}
	if c.reply != nil {
		var err error
		if resp, err = c.reply(subject, data); err != nil {
			return nil, err
		}
	}
	return json.Marshal(resp)
}

func (c *fakeConn) Subscribe(subject string, h func(string, []byte)) (func() error, error) {
	if !strings.HasSuffix(subject, ".events.>") {
		return nil, errors.New("unexpected subject " + subject)
	}
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	return func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handler = nil
		c.unsubbed++
		return nil
	}, nil
}

func (c *fakeConn) push(event string, v interface{}) {
	data, _ := json.Marshal(v)
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(DefaultPrefix+".events."+event, data)
	}
}

func (c *fakeConn) sent(subject string) []request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []request
	for _, r := range c.requests {
		if r.subject == subject {
			out = append(out, r)
		}
	}
	return out
}

func TestPairAndEvents(t *testing.T) {
	conn := &fakeConn{}
	creds := memory.NewCredentialRepository()
	require.NoError(t, creds.Save(context.Background(), string(driver.KindFallback), []byte("keys")))
	d := New(Config{}, conn, creds, logger.NewNopLogger())
	sink := &drivertest.Sink{}

	require.NoError(t, d.Pair(context.Background(), sink))
	req := conn.sent("wa.fallback.cmd.pair")
	require.Len(t, req, 1)
	var args wire.PairArgs
	require.NoError(t, json.Unmarshal(req[0].body, &args))
	assert.Equal(t, []byte("keys"), args.Creds)

	conn.push(wire.EvQR, wire.QRData{Code: "qr-1"})
	conn.push(wire.EvReady, struct{}{})
	conn.push(wire.EvMessage, wire.MessageData{ID: "m1", From: "5511999999999@s.whatsapp.net", Body: "oi"})
	conn.push(wire.EvCreds, wire.CredsData{Blob: []byte("keys-2")})

	assert.Equal(t, []driver.EventType{driver.EventQRIssued, driver.EventReady}, sink.EventTypes())
	require.Len(t, sink.Inbound(), 1)
	blob, err := creds.Load(context.Background(), string(driver.KindFallback))
	require.NoError(t, err)
	assert.Equal(t, []byte("keys-2"), blob)
}

func TestSendTextUsesFallbackJID(t *testing.T) {
	conn := &fakeConn{reply: func(subject string, body []byte) (wire.Response, error) {
		if strings.HasSuffix(subject, wire.OpSendText) {
			return wire.Response{Ok: true, Result: json.RawMessage(`{"id":"3EB0"}`)}, nil
		}
		return wire.Response{Ok: true}, nil
	}}
	d := New(Config{}, conn, nil, logger.NewNopLogger())
	require.NoError(t, d.Pair(context.Background(), &drivertest.Sink{}))

	id, err := d.SendText(context.Background(), "5511999999999", "oi")
	require.NoError(t, err)
	assert.Equal(t, "3EB0", id)

	var args wire.SendTextArgs
	require.NoError(t, json.Unmarshal(conn.sent("wa.fallback.cmd.send_text")[0].body, &args))
	assert.Equal(t, "5511999999999@s.whatsapp.net", args.To)
}

func TestMediaAndLookupUnsupported(t *testing.T) {
	d := New(Config{}, &fakeConn{}, nil, logger.NewNopLogger())
	assert.False(t, d.Capabilities().Media)
	assert.False(t, d.Capabilities().CheckRegistered)

	_, err := d.SendMedia(context.Background(), "5511999999999", "x.jpg", "")
	assert.ErrorIs(t, err, driver.ErrUnsupported)
	_, err = d.CheckRegistered(context.Background(), "5511999999999")
	assert.ErrorIs(t, err, driver.ErrUnsupported)
}

func TestSendBeforePairFails(t *testing.T) {
	d := New(Config{}, &fakeConn{}, nil, logger.NewNopLogger())
	_, err := d.SendText(context.Background(), "5511999999999", "oi")
	assert.ErrorIs(t, err, driver.ErrNotConnected)
}

func TestPairFailureReleasesSubscription(t *testing.T) {
	conn := &fakeConn{reply: func(string, []byte) (wire.Response, error) {
		return wire.Response{}, errors.New("nats: timeout")
	}}
	d := New(Config{}, conn, nil, logger.NewNopLogger())

	err := d.Pair(context.Background(), &drivertest.Sink{})
	var tie *driver.TransportInitError
	require.True(t, errors.As(err, &tie))
	assert.Equal(t, driver.KindFallback, tie.Kind)
	assert.Equal(t, 1, conn.unsubbed)
}

func TestCloseStopsEvents(t *testing.T) {
	conn := &fakeConn{}
	d := New(Config{}, conn, nil, logger.NewNopLogger())
	sink := &drivertest.Sink{}
	require.NoError(t, d.Pair(context.Background(), sink))

	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	conn.push(wire.EvReady, struct{}{})

	assert.Empty(t, sink.Events())
	assert.Len(t, conn.sent("wa.fallback.cmd.close"), 1)
	assert.Equal(t, 1, conn.unsubbed)
}
