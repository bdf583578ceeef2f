// Package bridge is the primary transport: a websocket link to the web
// client sidecar speaking wire frames.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/repository/contract"
	"salesbot-wa-be/pkg/whatsapp/driver"
	"salesbot-wa-be/pkg/whatsapp/driver/wire"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	CommandTimeout   time.Duration
	// PingPeriod must stay below the 60s pong deadline. Zero disables pings.
	PingPeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	return c
}

// NewFactory builds a fresh primary driver per startup attempt.
func NewFactory(cfg Config, creds contract.CredentialRepository, log logger.ILogger) driver.Factory {
	return driver.FactoryFunc{K: driver.KindPrimary, Fn: func() driver.Driver { return New(cfg, creds, log) }}
}

type Driver struct {
	cfg    Config
	creds  contract.CredentialRepository
	logger logger.ILogger
	dialer *websocket.Dialer

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	sink    driver.Sink
	pending map[string]chan wire.Response
	closed  bool
	done    chan struct{}
}

func New(cfg Config, creds contract.CredentialRepository, log logger.ILogger) *Driver {
	cfg = cfg.withDefaults()
	return &Driver{
		cfg:     cfg,
		creds:   creds,
		logger:  log,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		pending: make(map[string]chan wire.Response),
		done:    make(chan struct{}),
	}
}

func (d *Driver) Kind() driver.Kind { return driver.KindPrimary }

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{Media: true, CheckRegistered: true}
}

func (d *Driver) Pair(ctx context.Context, sink driver.Sink) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return driver.ErrClosed
	}
	d.mu.Unlock()

	conn, _, err := d.dialer.DialContext(ctx, d.cfg.URL, d.cfg.Header)
	if err != nil {
		return driver.InitError(driver.KindPrimary, fmt.Errorf("dial bridge: %w", err))
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		conn.Close()
		return driver.ErrClosed
	}
	d.conn = conn
	d.sink = sink
	d.mu.Unlock()

	if d.cfg.PingPeriod > 0 {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go d.pingLoop(conn)
	}
	go d.readLoop(conn)

	args := wire.PairArgs{Creds: d.loadCreds(ctx)}
	if _, err := d.call(ctx, wire.OpPair, args); err != nil {
		d.shutdown()
		return driver.InitError(driver.KindPrimary, err)
	}
	d.logger.Info("BRIDGE", "Pair accepted by sidecar", map[string]interface{}{"url": d.cfg.URL, "restored": len(args.Creds) > 0})
	return nil
}

func (d *Driver) loadCreds(ctx context.Context) []byte {
	if d.creds == nil {
		return nil
	}
	blob, err := d.creds.Load(ctx, string(driver.KindPrimary))
	if err != nil {
		d.logger.Warn("BRIDGE", "Stored credentials unreadable, pairing from scratch", map[string]interface{}{"error": err.Error()})
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
	if err := d.creds.Save(ctx, string(driver.KindPrimary), blob); err != nil {
		d.logger.Error("BRIDGE", "Failed to persist credentials", map[string]interface{}{"error": err.Error()})
	}
}

func (d *Driver) readLoop(conn *websocket.Conn) {
	h := wire.Handler{Sink: d.sink, SaveCreds: d.saveCreds}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			d.lost(conn, err)
			return
		}
		var f wire.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			d.logger.Warn("BRIDGE", "Malformed frame", map[string]interface{}{"error": err.Error()})
			continue
		}
		if f.Event != "" {
			if err := h.Dispatch(f.Event, f.Data); err != nil {
				d.logger.Warn("BRIDGE", "Event dropped", map[string]interface{}{"event": f.Event, "error": err.Error()})
			}
			continue
		}
		d.mu.Lock()
		ch, ok := d.pending[f.ID]
		delete(d.pending, f.ID)
		d.mu.Unlock()
		if ok {
			ch <- f.Response
		}
	}
}

func (d *Driver) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(d.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// lost fails pending calls and reports the disconnect, unless Close caused it.
func (d *Driver) lost(conn *websocket.Conn, cause error) {
	d.mu.Lock()
	if d.conn != conn {
		d.mu.Unlock()
		return
	}
	d.conn = nil
	closing := d.closed
	pending := d.pending
	d.pending = make(map[string]chan wire.Response)
	sink := d.sink
	d.mu.Unlock()

	for id, ch := range pending {
		ch <- wire.Response{ID: id, Error: driver.ErrNotConnected.Error()}
	}
	conn.Close()
	if closing || sink == nil {
		return
	}
	d.logger.Warn("BRIDGE", "Sidecar connection lost", map[string]interface{}{"error": cause.Error()})
	sink.OnConnectionEvent(driver.ConnectionEvent{Type: driver.EventDisconnected, Reason: "bridge connection lost: " + cause.Error(), At: time.Now()})
}

func (d *Driver) call(ctx context.Context, op string, args interface{}) (json.RawMessage, error) {
	d.mu.Lock()
	conn := d.conn
	if conn == nil {
		d.mu.Unlock()
		return nil, driver.ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan wire.Response, 1)
	d.pending[id] = ch
	d.mu.Unlock()

	forget := func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}

	d.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(wire.Command{ID: id, Op: op, Args: args})
	d.writeMu.Unlock()
	if err != nil {
		forget()
		return nil, fmt.Errorf("bridge %s: write: %w", op, err)
	}

	timer := time.NewTimer(d.cfg.CommandTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if !resp.Ok {
			if resp.Error == driver.ErrNotConnected.Error() {
				return nil, driver.ErrNotConnected
			}
			return nil, fmt.Errorf("bridge %s: %s", op, resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("bridge %s: %w", op, context.DeadlineExceeded)
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (d *Driver) SendText(ctx context.Context, recipient, content string) (string, error) {
	res, err := d.call(ctx, wire.OpSendText, wire.SendTextArgs{To: driver.PrimaryJID(recipient), Text: content})
	if err != nil {
		return "", err
	}
	var out wire.SendResult
	if err := json.Unmarshal(res, &out); err != nil && len(res) > 0 {
		return "", fmt.Errorf("bridge send_text: decode result: %w", err)
	}
	return out.ID, nil
}

func (d *Driver) SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error) {
	res, err := d.call(ctx, wire.OpSendMedia, wire.SendMediaArgs{To: driver.PrimaryJID(recipient), Media: mediaRef, Caption: caption})
	if err != nil {
		return "", err
	}
	var out wire.SendResult
	if err := json.Unmarshal(res, &out); err != nil && len(res) > 0 {
		return "", fmt.Errorf("bridge send_media: decode result: %w", err)
	}
	return out.ID, nil
}

func (d *Driver) CheckRegistered(ctx context.Context, recipient string) (bool, error) {
	res, err := d.call(ctx, wire.OpCheckRegistered, wire.CheckArgs{To: driver.PrimaryJID(recipient)})
	if err != nil {
		return false, err
	}
	var out wire.CheckResult
	if err := json.Unmarshal(res, &out); err != nil {
		return false, fmt.Errorf("bridge check_registered: decode result: %w", err)
	}
	return out.Registered, nil
}

// Close asks the sidecar to end the session and drops the link. Safe to
// call more than once.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if _, err := d.call(ctx, wire.OpClose, nil); err != nil && !errors.Is(err, driver.ErrNotConnected) {
		d.logger.Debug("BRIDGE", "Close command not acknowledged", map[string]interface{}{"error": err.Error()})
	}
	d.shutdown()
	return nil
}

func (d *Driver) shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	conn := d.conn
	d.mu.Unlock()

	if conn == nil {
		return
	}
	d.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	d.writeMu.Unlock()
	conn.Close()
}
