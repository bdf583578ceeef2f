// Package natsbridge is the fallback transport: a lightweight socket
// client sidecar reached over NATS request/reply. It has no media support.
package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/repository/contract"
	"salesbot-wa-be/pkg/whatsapp/driver"
	"salesbot-wa-be/pkg/whatsapp/driver/wire"

	"github.com/nats-io/nats.go"
)

const DefaultPrefix = "wa.fallback"

// Conn is the slice of a NATS connection the driver uses.
type Conn interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	Subscribe(subject string, handler func(subject string, data []byte)) (unsubscribe func() error, err error)
}

type natsConn struct{ nc *nats.Conn }

// NewConn adapts a live NATS connection.
func NewConn(nc *nats.Conn) Conn { return natsConn{nc: nc} }

func (c natsConn) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("%w: no sidecar on %s", driver.ErrNotConnected, subject)
		}
		return nil, err
	}
	return msg.Data, nil
}

func (c natsConn) Subscribe(subject string, handler func(string, []byte)) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) { handler(m.Subject, m.Data) })
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

type Config struct {
	Prefix         string
	CommandTimeout time.Duration
}

func NewFactory(cfg Config, conn Conn, creds contract.CredentialRepository, log logger.ILogger) driver.Factory {
	return driver.FactoryFunc{K: driver.KindFallback, Fn: func() driver.Driver { return New(cfg, conn, creds, log) }}
}

type Driver struct {
	cfg    Config
	conn   Conn
	creds  contract.CredentialRepository
	logger logger.ILogger

	mu          sync.Mutex
	unsubscribe func() error
	paired      bool
	closed      bool
}

func New(cfg Config, conn Conn, creds contract.CredentialRepository, log logger.ILogger) *Driver {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 20 * time.Second
	}
	return &Driver{cfg: cfg, conn: conn, creds: creds, logger: log}
}

func (d *Driver) Kind() driver.Kind { return driver.KindFallback }

func (d *Driver) Capabilities() driver.Capabilities { return driver.Capabilities{} }

func (d *Driver) subject(op string) string { return d.cfg.Prefix + ".cmd." + op }

func (d *Driver) Pair(ctx context.Context, sink driver.Sink) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return driver.ErrClosed
	}
	d.mu.Unlock()

	events := d.cfg.Prefix + ".events."
	h := wire.Handler{Sink: sink, SaveCreds: d.saveCreds}
	unsub, err := d.conn.Subscribe(events+">", func(subject string, data []byte) {
		d.mu.Lock()
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return
		}
		event := strings.TrimPrefix(subject, events)
		if err := h.Dispatch(event, data); err != nil {
			d.logger.Warn("NATSBRIDGE", "Event dropped", map[string]interface{}{"subject": subject, "error": err.Error()})
		}
	})
	if err != nil {
		return driver.InitError(driver.KindFallback, fmt.Errorf("subscribe %s: %w", events+">", err))
	}

	d.mu.Lock()
	d.unsubscribe = unsub
	d.mu.Unlock()

	args := wire.PairArgs{Creds: d.loadCreds(ctx)}
	if _, err := d.call(ctx, wire.OpPair, args); err != nil {
		d.release()
		return driver.InitError(driver.KindFallback, err)
	}

	d.mu.Lock()
	d.paired = true
	d.mu.Unlock()
	d.logger.Info("NATSBRIDGE", "Pair accepted by sidecar", map[string]interface{}{"prefix": d.cfg.Prefix, "restored": len(args.Creds) > 0})
	return nil
}

func (d *Driver) loadCreds(ctx context.Context) []byte {
	if d.creds == nil {
		return nil
	}
	blob, err := d.creds.Load(ctx, string(driver.KindFallback))
	if err != nil {
		d.logger.Warn("NATSBRIDGE", "Stored credentials unreadable, pairing from scratch", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return blob
}

func (d *Driver) saveCreds(blob []byte) {
	if d.creds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.creds.Save(ctx, string(driver.KindFallback), blob); err != nil {
		d.logger.Error("NATSBRIDGE", "Failed to persist credentials", map[string]interface{}{"error": err.Error()})
	}
}

func (d *Driver) call(ctx context.Context, op string, args interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("natsbridge %s: encode: %w", op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()

	data, err := d.conn.Request(ctx, d.subject(op), body)
	if err != nil {
		return nil, fmt.Errorf("natsbridge %s: %w", op, err)
	}
	var resp wire.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("natsbridge %s: decode reply: %w", op, err)
	}
	if !resp.Ok {
		return nil, fmt.Errorf("natsbridge %s: %s", op, resp.Error)
	}
	return resp.Result, nil
}

func (d *Driver) ready() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.ErrClosed
	}
	if d.unsubscribe == nil {
		return driver.ErrNotConnected
	}
	return nil
}

func (d *Driver) SendText(ctx context.Context, recipient, content string) (string, error) {
	if err := d.ready(); err != nil {
		return "", err
	}
	res, err := d.call(ctx, wire.OpSendText, wire.SendTextArgs{To: driver.FallbackJID(recipient), Text: content})
	if err != nil {
		return "", err
	}
	var out wire.SendResult
	if len(res) > 0 {
		if err := json.Unmarshal(res, &out); err != nil {
			return "", fmt.Errorf("natsbridge send_text: decode result: %w", err)
		}
	}
	return out.ID, nil
}

func (d *Driver) SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error) {
	return "", driver.ErrUnsupported
}

func (d *Driver) CheckRegistered(ctx context.Context, recipient string) (bool, error) {
	return false, driver.ErrUnsupported
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	paired := d.paired
	d.mu.Unlock()

	if paired {
		if _, err := d.call(ctx, wire.OpClose, struct{}{}); err != nil {
			d.logger.Debug("NATSBRIDGE", "Close command not acknowledged", map[string]interface{}{"error": err.Error()})
		}
	}
	d.release()
	return nil
}

func (d *Driver) release() {
	d.mu.Lock()
	d.closed = true
	d.paired = false
	unsub := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()
	if unsub != nil {
		if err := unsub(); err != nil {
			d.logger.Debug("NATSBRIDGE", "Unsubscribe failed", map[string]interface{}{"error": err.Error()})
		}
	}
}
