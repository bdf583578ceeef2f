// Package session owns the connection to the messaging transport: which
// driver is active, what state it is in and how it is (re)started.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/repository/contract"
	"salesbot-wa-be/pkg/broadcast"
	"salesbot-wa-be/pkg/clock"
	"salesbot-wa-be/pkg/whatsapp/driver"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultStartupTimeout  = 60 * time.Second
	DefaultTeardownTimeout = 10 * time.Second

	initKey = "init"
)

// InboundHandler consumes envelopes received by the active driver.
type InboundHandler interface {
	HandleInbound(ctx context.Context, env driver.InboundEnvelope)
}

type Config struct {
	// StartupTimeout bounds Pair plus the wait for the first pairing
	// challenge or ready event of each driver attempt.
	StartupTimeout  time.Duration
	TeardownTimeout time.Duration
}

type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		if cfg.StartupTimeout > 0 {
			m.cfg.StartupTimeout = cfg.StartupTimeout
		}
		if cfg.TeardownTimeout > 0 {
			m.cfg.TeardownTimeout = cfg.TeardownTimeout
		}
	}
}

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithRenderer(r Renderer) Option { return func(m *Manager) { m.renderer = r } }

// attempt tracks one driver startup. Guarded by Manager.mu.
type attempt struct {
	gen     uint64
	started chan struct{}
	failed  chan error
	done    bool
}

func (a *attempt) succeed() {
	if !a.done {
		a.done = true
		close(a.started)
	}
}

func (a *attempt) fail(err error) {
	if !a.done {
		a.done = true
		a.failed <- err
	}
}

// Manager is the single writer of the Session. Every mutation happens
// under mu; observers and the hub are called after it is released.
type Manager struct {
	cfg       Config
	factories []driver.Factory
	creds     contract.CredentialRepository
	hub       broadcast.Publisher
	renderer  Renderer
	clock     clock.Clock
	logger    logger.ILogger

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	group      singleflight.Group

	mu         sync.Mutex
	session    Session
	challenge  *PairingChallenge
	active     driver.Driver
	gen        uint64
	attempt    *attempt
	initCancel context.CancelFunc
	inflight   bool
	// purgePending is a force-cleanup request not yet honored by an attempt.
	purgePending bool
	observers  []Observer
	inbound    InboundHandler
}

// NewManager tries factories in order on every startup: the first is the
// primary variant, the rest are fallbacks.
func NewManager(factories []driver.Factory, creds contract.CredentialRepository, hub broadcast.Publisher, log logger.ILogger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        Config{StartupTimeout: DefaultStartupTimeout, TeardownTimeout: DefaultTeardownTimeout},
		factories:  factories,
		creds:      creds,
		hub:        hub,
		clock:      clock.Real(),
		logger:     log,
		lifeCtx:    ctx,
		lifeCancel: cancel,
		session:    Session{State: StateUninitialized, ActiveDriverKind: driver.KindNone},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manager) SetInboundHandler(h InboundHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = h
}

// Connect starts a driver unless one is already paired or pairing. Callers
// that arrive while an initialization is in flight share its outcome.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	st := m.session.State
	m.mu.Unlock()
	if st == StateReady || st == StatePairingRequired {
		return nil
	}
	return m.collapse(ctx, m.connect)
}

// Restart tears the active driver down and connects again. forceCleanup
// purges the stored credentials of every driver kind first. A forced
// restart that joins an attempt which started without the purge runs one
// more attempt after it, so it never resolves with credentials in place.
func (m *Manager) Restart(ctx context.Context, forceCleanup bool) error {
	if forceCleanup {
		m.mu.Lock()
		m.purgePending = true
		m.mu.Unlock()
	}
	run := func(c context.Context) error {
		return m.restart(c, forceCleanup, false)
	}
	err := m.collapse(ctx, run)
	for err == nil && m.isPurgePending() {
		err = m.collapse(ctx, run)
	}
	return err
}

func (m *Manager) isPurgePending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgePending
}

// Reinitialize is Restart(false) for automatic recovery: it refuses to
// bring the session back after an explicit Disconnect or Logout.
func (m *Manager) Reinitialize(ctx context.Context, reason string) error {
	m.logger.Warn("SESSION", "Reinitialization requested", map[string]interface{}{"reason": reason})
	return m.collapse(ctx, func(c context.Context) error {
		return m.restart(c, false, true)
	})
}

// Disconnect tears the session down without auto-reconnect and cancels any
// initialization in flight.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.teardown(CauseTeardown, "teardown")
	return nil
}

// Logout is Disconnect plus purging every stored credential, forcing a new
// pairing on the next Connect.
func (m *Manager) Logout(ctx context.Context) error {
	m.teardown(CauseLogout, "logout")
	err := m.purgeAll(ctx)

	m.mu.Lock()
	m.session.StaleFlag = true
	m.purgePending = false
	m.mu.Unlock()

	m.publish(broadcast.EventLoggedOut, nil)
	return err
}

// Close stops the manager for good.
func (m *Manager) Close(ctx context.Context) error {
	err := m.Disconnect(ctx)
	m.lifeCancel()
	return err
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session
	st := Status{
		Ready:               s.State == StateReady,
		State:               s.State,
		ActiveDriverKind:    s.ActiveDriverKind,
		ConsecutiveFailures: s.ConsecutiveFailures,
		StaleFlag:           s.StaleFlag,
		ReinitInFlight:      m.inflight,
		HasPairingChallenge: m.challenge != nil,
	}
	if s.LastReadyAt != nil {
		t := *s.LastReadyAt
		st.LastReadyAt = &t
	}
	return st
}

// PairingChallenge returns the current challenge, if any.
func (m *Manager) PairingChallenge() (PairingChallenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		return PairingChallenge{}, false
	}
	return *m.challenge, true
}

func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State == StateReady
}

// InitInFlight reports whether a startup is running.
func (m *Manager) InitInFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight
}

// Capabilities of the active driver; false when no driver is ready.
func (m *Manager) Capabilities() (driver.Capabilities, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.session.State != StateReady {
		return driver.Capabilities{}, false
	}
	return m.active.Capabilities(), true
}

func (m *Manager) SendText(ctx context.Context, recipient, content string) (string, error) {
	d, err := m.readyDriver()
	if err != nil {
		m.countFailure()
		return "", err
	}
	id, err := d.SendText(ctx, recipient, content)
	if err != nil {
		m.countFailure()
		return "", fmt.Errorf("send text via %s: %w", d.Kind(), err)
	}
	return id, nil
}

func (m *Manager) SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error) {
	d, err := m.readyDriver()
	if err != nil {
		m.countFailure()
		return "", err
	}
	if !d.Capabilities().Media {
		return "", driver.ErrUnsupported
	}
	id, err := d.SendMedia(ctx, recipient, mediaRef, caption)
	if err != nil {
		m.countFailure()
		return "", fmt.Errorf("send media via %s: %w", d.Kind(), err)
	}
	return id, nil
}

func (m *Manager) CheckRegistered(ctx context.Context, recipient string) (bool, error) {
	d, err := m.readyDriver()
	if err != nil {
		return false, err
	}
	if !d.Capabilities().CheckRegistered {
		return false, driver.ErrUnsupported
	}
	return d.CheckRegistered(ctx, recipient)
}

func (m *Manager) readyDriver() (driver.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.session.State != StateReady {
		return nil, ErrNotReady
	}
	return m.active, nil
}

func (m *Manager) countFailure() {
	m.mu.Lock()
	m.session.ConsecutiveFailures++
	m.mu.Unlock()
}

// collapse runs fn as the single initialization in flight. The work runs on
// a context owned by the manager so one caller giving up does not cancel it
// for the others; Disconnect cancels it for everyone.
func (m *Manager) collapse(ctx context.Context, fn func(context.Context) error) error {
	ch := m.group.DoChan(initKey, func() (interface{}, error) {
		initCtx, cancel := context.WithCancel(m.lifeCtx)
		m.mu.Lock()
		m.initCancel = cancel
		m.inflight = true
		m.mu.Unlock()

		defer func() {
			cancel()
			m.mu.Lock()
			m.initCancel = nil
			m.inflight = false
			m.mu.Unlock()
		}()
		return nil, fn(initCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) connect(ctx context.Context) error {
	m.mu.Lock()
	if m.session.State == StateReady || m.session.State == StatePairingRequired {
		m.mu.Unlock()
		return nil
	}
	from := m.session.State
	old := m.detachLocked()
	m.session.State = StateInitializing
	m.session.ActiveDriverKind = driver.KindNone
	purge := m.purgePending
	m.purgePending = false
	if purge {
		m.session.StaleFlag = true
	}
	ts := []Transition{m.transitionLocked(from, StateInitializing, CauseConnect, driver.KindNone, "")}
	m.mu.Unlock()

	m.closeDriver(old)
	m.notify(ts)
	if purge {
		if err := m.purgeAll(ctx); err != nil {
			m.logger.Error("SESSION", "Failed to purge credentials", map[string]interface{}{"error": err.Error()})
		}
	}
	return m.initialize(ctx)
}

func (m *Manager) restart(ctx context.Context, forceCleanup, requireActive bool) error {
	m.mu.Lock()
	from := m.session.State
	if requireActive && from == StateUninitialized {
		m.mu.Unlock()
		return ErrNotActive
	}
	to := StateInitializing
	if from == StateReady || from == StateDegraded || from == StatePairingRequired {
		to = StateReinitializing
	}
	forceCleanup = forceCleanup || m.purgePending
	m.purgePending = false
	old := m.detachLocked()
	m.session.State = to
	m.session.ActiveDriverKind = driver.KindNone
	if forceCleanup {
		m.session.StaleFlag = true
	}
	ts := []Transition{m.transitionLocked(from, to, CauseRestart, driver.KindNone, fmt.Sprintf("forceCleanup=%t", forceCleanup))}
	m.mu.Unlock()

	m.notify(ts)
	m.publish(broadcast.EventRestarting, broadcast.RestartingPayload{ForceCleanup: forceCleanup})
	m.closeDriver(old)

	if forceCleanup {
		if err := m.purgeAll(ctx); err != nil {
			m.logger.Error("SESSION", "Failed to purge credentials", map[string]interface{}{"error": err.Error()})
		}
	}
	return m.initialize(ctx)
}

// initialize tries every factory in order. Only when all of them fail is an
// error surfaced, and the session is left Uninitialized.
func (m *Manager) initialize(ctx context.Context) error {
	if len(m.factories) == 0 {
		m.failInit(ErrNoDrivers)
		return ErrNoDrivers
	}

	var errs []error
	for i, f := range m.factories {
		if i > 0 {
			prev := errs[len(errs)-1]
			m.logger.Warn("SESSION", "Driver failed to start, trying fallback", map[string]interface{}{
				"failed": m.factories[i-1].Kind(), "next": f.Kind(), "error": prev.Error(),
			})
			m.step(CauseFailover, f.Kind(), prev.Error())
		}

		err := m.startDriver(ctx, f)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
			return ErrCancelled
		}
		errs = append(errs, driver.InitError(f.Kind(), err))
	}

	joined := errors.Join(errs...)
	m.failInit(joined)
	m.logger.Error("SESSION", "Every driver failed to start", map[string]interface{}{"error": joined.Error()})
	return fmt.Errorf("%w: %w", ErrBothDriversFailed, joined)
}

func (m *Manager) startDriver(ctx context.Context, f driver.Factory) error {
	d := f.New()

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return ErrCancelled
	}
	m.gen++
	gen := m.gen
	at := &attempt{gen: gen, started: make(chan struct{}), failed: make(chan error, 1)}
	m.active = d
	m.attempt = at
	m.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
	defer cancel()

	m.logger.Info("SESSION", "Starting driver", map[string]interface{}{"driver": d.Kind(), "generation": gen})
	err := d.Pair(startCtx, &sink{m: m, gen: gen, kind: d.Kind()})
	if err == nil {
		if m.publishIfCurrent(gen, broadcast.EventConnected, broadcast.ConnectedPayload{Driver: string(d.Kind())}) {
			m.step(CauseDriverStarted, d.Kind(), "")
		}

		select {
		case <-at.started:
		case err = <-at.failed:
		case <-startCtx.Done():
			err = fmt.Errorf("startup: %w", startCtx.Err())
		}
	}

	m.mu.Lock()
	if m.attempt == at {
		m.attempt = nil
	}
	current := m.gen == gen
	if !current {
		// torn down meanwhile, whoever detached it closes it
		m.mu.Unlock()
		return ErrCancelled
	}
	if err == nil {
		m.session.ActiveDriverKind = d.Kind()
		m.mu.Unlock()
		return nil
	}
	m.active = nil
	m.gen++
	m.mu.Unlock()

	m.closeDriver(d)
	return err
}

func (m *Manager) failInit(err error) {
	m.mu.Lock()
	from := m.session.State
	old := m.detachLocked()
	m.session.State = StateUninitialized
	m.session.ActiveDriverKind = driver.KindNone
	ts := []Transition{m.transitionLocked(from, StateUninitialized, CauseInitFailed, driver.KindNone, err.Error())}
	m.mu.Unlock()

	m.closeDriver(old)
	m.notify(ts)
	m.publish(broadcast.EventDisconnected, broadcast.DisconnectedPayload{Reason: "init_failed"})
}

func (m *Manager) teardown(cause Cause, reason string) {
	m.mu.Lock()
	from := m.session.State
	old := m.detachLocked()
	if m.initCancel != nil {
		m.initCancel()
	}
	m.session.State = StateUninitialized
	m.session.ActiveDriverKind = driver.KindNone
	ts := []Transition{m.transitionLocked(from, StateUninitialized, cause, driver.KindNone, reason)}
	m.mu.Unlock()

	m.closeDriver(old)
	m.notify(ts)
	m.publish(broadcast.EventDisconnected, broadcast.DisconnectedPayload{Reason: reason})
	m.logger.Info("SESSION", "Session torn down", map[string]interface{}{"cause": cause, "from": from})
}

// detachLocked invalidates the current driver generation and hands the
// driver to the caller for closing.
func (m *Manager) detachLocked() driver.Driver {
	m.gen++
	d := m.active
	m.active = nil
	m.challenge = nil
	if m.attempt != nil {
		m.attempt.fail(ErrCancelled)
		m.attempt = nil
	}
	return d
}

func (m *Manager) closeDriver(d driver.Driver) {
	if d == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TeardownTimeout)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		m.logger.Warn("SESSION", "Driver close failed", map[string]interface{}{"driver": d.Kind(), "error": err.Error()})
	}
}

func (m *Manager) purgeAll(ctx context.Context) error {
	if m.creds == nil {
		return nil
	}
	var errs []error
	for _, k := range driver.Known() {
		if err := m.creds.Purge(ctx, string(k)); err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) purge(kind driver.Kind) {
	if m.creds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.lifeCtx, m.cfg.TeardownTimeout)
	defer cancel()
	if err := m.creds.Purge(ctx, string(kind)); err != nil {
		m.logger.Error("SESSION", "Failed to purge rejected credentials", map[string]interface{}{"driver": kind, "error": err.Error()})
	}
}

func (m *Manager) handleEvent(gen uint64, kind driver.Kind, ev driver.ConnectionEvent) {
	var rendered []byte
	if ev.Type == driver.EventQRIssued && m.renderer != nil {
		img, err := m.renderer.Render(ev.QR)
		if err != nil {
			m.logger.Warn("SESSION", "Failed to render pairing challenge", map[string]interface{}{"error": err.Error()})
		}
		rendered = img
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.logger.Debug("SESSION", "Ignoring event from stale driver", map[string]interface{}{"type": ev.Type, "driver": kind})
		return
	}

	now := m.clock.Now()
	from := m.session.State
	at := m.attempt
	starting := at != nil && !at.done
	var ts []Transition
	var pubs []broadcast.Event
	purge := false

	switch ev.Type {
	case driver.EventQRIssued:
		m.challenge = &PairingChallenge{RawPayload: ev.QR, RenderedImage: rendered, IssuedAt: now}
		m.session.State = StatePairingRequired
		ts = append(ts, m.transitionLocked(from, StatePairingRequired, CauseQR, kind, ""))
		pubs = append(pubs, broadcast.Event{Type: broadcast.EventPairingChallenge, Data: broadcast.PairingChallengePayload{
			RenderedImage: DataURL(rendered), IssuedAt: now,
		}})
		if at != nil {
			at.succeed()
		}

	case driver.EventReady:
		m.challenge = nil
		m.session.State = StateReady
		m.session.LastReadyAt = &now
		m.session.ConsecutiveFailures = 0
		m.session.StaleFlag = false
		m.session.ActiveDriverKind = kind
		ts = append(ts, m.transitionLocked(from, StateReady, CauseReady, kind, ""))
		pubs = append(pubs, broadcast.Event{Type: broadcast.EventReady, Data: broadcast.ReadyPayload{Driver: string(kind)}})
		if at != nil {
			at.succeed()
		}

	case driver.EventDisconnected:
		if starting {
			at.fail(fmt.Errorf("disconnected during startup: %s", ev.Reason))
			break
		}
		m.challenge = nil
		if from == StateReady || from == StatePairingRequired {
			m.session.State = StateDegraded
		}
		ts = append(ts, m.transitionLocked(from, m.session.State, CauseDisconnected, kind, ev.Reason))
		pubs = append(pubs, broadcast.Event{Type: broadcast.EventDisconnected, Data: broadcast.DisconnectedPayload{Reason: ev.Reason}})

	case driver.EventAuthFailed:
		purge = true
		m.session.StaleFlag = true
		if starting {
			at.fail(fmt.Errorf("authentication rejected: %s", ev.Reason))
			break
		}
		m.challenge = nil
		if from != StateUninitialized {
			m.session.State = StateDegraded
		}
		ts = append(ts, m.transitionLocked(from, m.session.State, CauseAuthFailed, kind, ev.Reason))
		pubs = append(pubs, broadcast.Event{Type: broadcast.EventDisconnected, Data: broadcast.DisconnectedPayload{Reason: "auth_failed: " + ev.Reason}})
	}
	m.mu.Unlock()

	if purge {
		m.purge(kind)
	}
	m.notify(ts)
	for _, p := range pubs {
		p.At = now
		m.publishEvent(p)
	}
}

func (m *Manager) handleInbound(gen uint64, env driver.InboundEnvelope) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	h := m.inbound
	m.mu.Unlock()

	if h == nil {
		m.logger.Warn("SESSION", "Inbound message with no handler", map[string]interface{}{"id": env.TransportMessageID})
		return
	}
	go h.HandleInbound(m.lifeCtx, env)
}

func (m *Manager) handleDelivery(gen uint64, st driver.DeliveryStatus) {
	_ = m.publishIfCurrent(gen, broadcast.EventDeliveryStatus, broadcast.DeliveryStatusPayload{
		MessageID: st.MessageID, RecipientID: st.RecipientID, Status: string(st.Status),
	})
}

// step records a notable point inside the current state.
func (m *Manager) step(cause Cause, kind driver.Kind, reason string) {
	m.mu.Lock()
	st := m.session.State
	t := m.transitionLocked(st, st, cause, kind, reason)
	m.mu.Unlock()
	m.notify([]Transition{t})
}

func (m *Manager) transitionLocked(from, to State, cause Cause, kind driver.Kind, reason string) Transition {
	return Transition{
		From:                from,
		To:                  to,
		Cause:               cause,
		Driver:              kind,
		Reason:              reason,
		ConsecutiveFailures: m.session.ConsecutiveFailures,
		At:                  m.clock.Now(),
	}
}

func (m *Manager) notify(ts []Transition) {
	if len(ts) == 0 {
		return
	}
	m.mu.Lock()
	obs := make([]Observer, len(m.observers))
	copy(obs, m.observers)
	m.mu.Unlock()

	for _, t := range ts {
		for _, o := range obs {
			o.OnTransition(t)
		}
	}
}

func (m *Manager) publish(t broadcast.EventType, data interface{}) {
	m.publishEvent(broadcast.Event{Type: t, Data: data, At: m.clock.Now()})
}

func (m *Manager) publishIfCurrent(gen uint64, t broadcast.EventType, data interface{}) bool {
	m.mu.Lock()
	current := gen == m.gen
	m.mu.Unlock()
	if current {
		m.publish(t, data)
	}
	return current
}

func (m *Manager) publishEvent(ev broadcast.Event) {
	if m.hub != nil {
		m.hub.Publish(ev)
	}
}

// DataURL renders a PNG as an inline image URL.
func DataURL(png []byte) string {
	if len(png) == 0 {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

type sink struct {
	m    *Manager
	gen  uint64
	kind driver.Kind
}

func (s *sink) OnConnectionEvent(ev driver.ConnectionEvent) { s.m.handleEvent(s.gen, s.kind, ev) }

func (s *sink) OnInbound(env driver.InboundEnvelope) { s.m.handleInbound(s.gen, env) }

func (s *sink) OnDeliveryStatus(st driver.DeliveryStatus) { s.m.handleDelivery(s.gen, st) }
