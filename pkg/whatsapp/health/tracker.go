// Package health turns dispatch outcomes and session transitions into
// health events, a rolling score and automatic reinitialization.
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/repository/contract"
	"salesbot-wa-be/pkg/broadcast"
	"salesbot-wa-be/pkg/clock"
	"salesbot-wa-be/pkg/whatsapp/session"

	"github.com/google/uuid"
)

const (
	DefaultFailureThreshold = 3
	DefaultReconnectDelay   = 5 * time.Second
	DefaultWindow           = 24 * time.Hour
	DefaultMaxEvents        = 1000
	DefaultReinitTimeout    = 2 * time.Minute

	persistTimeout = 3 * time.Second
	persistBuffer  = 256
	recentLimit    = 50
)

// Controller is the part of the session manager the tracker drives.
type Controller interface {
	Reinitialize(ctx context.Context, reason string) error
	Status() session.Status
}

// AlertNotifier is told when the live window starts needing attention.
type AlertNotifier interface {
	NotifyHealthAlert(ctx context.Context, snap Snapshot) error
}

type Config struct {
	FailureThreshold int
	ReconnectDelay   time.Duration
	Window           time.Duration
	MaxEvents        int
	ReinitTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.ReinitTimeout <= 0 {
		c.ReinitTimeout = DefaultReinitTimeout
	}
	return c
}

// Snapshot is the live view over the in-memory window.
type Snapshot struct {
	Score                   float64            `json:"score"`
	Rating                  Rating             `json:"rating"`
	ShouldAlert             bool               `json:"shouldAlert"`
	ConsecutiveSendFailures int                `json:"consecutiveSendFailures"`
	RestartsRequested       int64              `json:"restartsRequested"`
	RestartInFlight         bool               `json:"restartInFlight"`
	ReconnectScheduled      bool               `json:"reconnectScheduled"`
	Stats                   entity.HealthStats `json:"stats"`
	At                      time.Time          `json:"at"`
}

// Report is the persisted view over an arbitrary window.
type Report struct {
	Window      time.Duration         `json:"window"`
	Stats       *entity.HealthStats   `json:"stats"`
	Score       float64               `json:"score"`
	Rating      Rating                `json:"rating"`
	ShouldAlert bool                  `json:"shouldAlert"`
	Recent      []*entity.HealthEvent `json:"recent"`
}

type Tracker struct {
	cfg    Config
	ctrl   Controller
	store  contract.HealthLogRepository
	hub    broadcast.Publisher
	alerts AlertNotifier
	clock  clock.Clock
	logger logger.ILogger

	restartInFlight atomic.Bool
	restarts        atomic.Int64
	wg              sync.WaitGroup

	// persist feeds the store worker; pending counts queued appends.
	persist     chan entity.HealthEvent
	pending     sync.WaitGroup
	persistMu   sync.Mutex
	persistDone bool
	worker      sync.WaitGroup

	mu         sync.Mutex
	streak     int
	events     []entity.HealthEvent
	timer      *clock.Timer
	lastScore  float64
	lastRating Rating
	alerting   bool
}

type Option func(*Tracker)

func WithClock(c clock.Clock) Option { return func(t *Tracker) { t.clock = c } }

func WithAlerts(a AlertNotifier) Option { return func(t *Tracker) { t.alerts = a } }

func WithStore(s contract.HealthLogRepository) Option { return func(t *Tracker) { t.store = s } }

func NewTracker(cfg Config, ctrl Controller, hub broadcast.Publisher, log logger.ILogger, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:        cfg.withDefaults(),
		ctrl:       ctrl,
		hub:        hub,
		clock:      clock.Real(),
		logger:     log,
		lastScore:  100,
		lastRating: RatingExcellent,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.store != nil {
		t.persist = make(chan entity.HealthEvent, persistBuffer)
		t.worker.Add(1)
		go t.persistLoop()
	}
	return t
}

func (t *Tracker) persistLoop() {
	defer t.worker.Done()
	for ev := range t.persist {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := t.store.Append(ctx, &ev); err != nil {
			t.logger.Error("HEALTH", "Failed to persist health event", map[string]interface{}{"kind": ev.Kind, "error": err.Error()})
		}
		cancel()
		t.pending.Done()
	}
}

// enqueue never blocks: a full buffer drops the event from the persisted
// log while the in-memory window still counts it.
func (t *Tracker) enqueue(ev entity.HealthEvent) {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	if t.persistDone {
		return
	}
	t.pending.Add(1)
	select {
	case t.persist <- ev:
	default:
		t.pending.Done()
		t.logger.Warn("HEALTH", "Persist queue full, health event dropped", map[string]interface{}{"kind": ev.Kind})
	}
}

// ObserveDispatch counts consecutive send failures. A success resets the
// streak; reaching the threshold requests one reinitialization, and further
// failures are absorbed while it is pending.
func (t *Tracker) ObserveDispatch(recipient string, err error) {
	t.mu.Lock()
	if err == nil {
		t.streak = 0
		t.mu.Unlock()
		return
	}
	t.streak++
	n := t.streak
	t.mu.Unlock()

	t.Record(entity.HealthKindSendFailure, entity.SeverityError, map[string]interface{}{
		"recipient": recipient,
		"error":     err.Error(),
	}, n)

	if n >= t.cfg.FailureThreshold {
		t.requestRestart(fmt.Sprintf("%d consecutive send failures", n))
	}
}

// OnTransition implements session.Observer.
func (t *Tracker) OnTransition(tr session.Transition) {
	kind, sev := classify(tr)
	t.Record(kind, sev, map[string]interface{}{
		"from":   string(tr.From),
		"to":     string(tr.To),
		"driver": string(tr.Driver),
		"reason": tr.Reason,
	}, tr.ConsecutiveFailures)

	switch {
	case tr.Cause == session.CauseReady:
		t.mu.Lock()
		t.streak = 0
		t.stopTimerLocked()
		t.mu.Unlock()
	case tr.Cause == session.CauseDisconnected || tr.Cause == session.CauseAuthFailed:
		t.scheduleReconnect(string(tr.Cause))
	case tr.To == session.StateUninitialized:
		t.mu.Lock()
		t.stopTimerLocked()
		if tr.Cause == session.CauseTeardown || tr.Cause == session.CauseLogout {
			t.streak = 0
		}
		t.mu.Unlock()
	case tr.To.Busy():
		t.mu.Lock()
		t.stopTimerLocked()
		t.mu.Unlock()
	}
}

// Record appends a health event, queues it for the store and refreshes the
// score.
func (t *Tracker) Record(kind string, sev entity.HealthSeverity, details map[string]interface{}, consecutive int) {
	now := t.clock.Now()
	ev := entity.HealthEvent{
		Id:                  uuid.New(),
		Kind:                kind,
		Severity:            sev,
		Context:             details,
		ConsecutiveFailures: consecutive,
		CreatedAt:           now,
	}

	t.mu.Lock()
	t.events = append(t.events, ev)
	t.trimLocked(now)
	stats := t.statsLocked(now)
	score := Score(&stats)
	rating := RatingFor(score)
	changed := score != t.lastScore || rating != t.lastRating
	t.lastScore, t.lastRating = score, rating
	alert := ShouldAlert(&stats)
	flipped := alert && !t.alerting
	t.alerting = alert
	snap := t.snapshotLocked(now, stats, score, rating)
	t.mu.Unlock()

	if t.persist != nil {
		t.enqueue(ev)
	}

	if changed && t.hub != nil {
		t.hub.Publish(broadcast.Event{Type: broadcast.EventHealthChange, At: now, Data: broadcast.HealthChangePayload{
			Score: score, Rating: string(rating),
		}})
	}
	if flipped {
		t.logger.Warn("HEALTH", "Health degraded past alert threshold", map[string]interface{}{"score": score, "rating": rating})
		if t.alerts != nil {
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := t.alerts.NotifyHealthAlert(ctx, snap); err != nil {
					t.logger.Error("HEALTH", "Failed to send health alert", map[string]interface{}{"error": err.Error()})
				}
			}()
		}
	}
}

func (t *Tracker) Snapshot() Snapshot {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trimLocked(now)
	stats := t.statsLocked(now)
	score := Score(&stats)
	return t.snapshotLocked(now, stats, score, RatingFor(score))
}

// Report aggregates the persisted log over window. Without a store it
// falls back to the in-memory window.
func (t *Tracker) Report(ctx context.Context, window time.Duration) (*Report, error) {
	if window <= 0 {
		window = t.cfg.Window
	}
	now := t.clock.Now()
	r := &Report{Window: window}

	if t.store == nil {
		snap := t.Snapshot()
		stats := snap.Stats
		r.Stats = &stats
	} else {
		stats, err := t.store.QueryAggregate(ctx, now.Add(-window))
		if err != nil {
			return nil, fmt.Errorf("health: aggregate: %w", err)
		}
		recent, err := t.store.Recent(ctx, now.Add(-24*time.Hour), recentLimit)
		if err != nil {
			return nil, fmt.Errorf("health: recent: %w", err)
		}
		r.Stats = stats
		r.Recent = recent
	}
	r.Score = Score(r.Stats)
	r.Rating = RatingFor(r.Score)
	r.ShouldAlert = ShouldAlert(r.Stats)
	return r, nil
}

// Stop cancels a pending reconnect, waits for background work and drains
// the persist queue. Events recorded afterwards stay in memory only.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopTimerLocked()
	t.mu.Unlock()
	t.wg.Wait()

	if t.persist == nil {
		return
	}
	t.persistMu.Lock()
	if !t.persistDone {
		t.persistDone = true
		close(t.persist)
	}
	t.persistMu.Unlock()
	t.worker.Wait()
}

// Wait blocks until background restarts and alerts have returned and every
// queued event has reached the store.
func (t *Tracker) Wait() {
	t.wg.Wait()
	t.pending.Wait()
}

func (t *Tracker) requestRestart(reason string) {
	if !t.restartInFlight.CompareAndSwap(false, true) {
		t.logger.Debug("HEALTH", "Restart already pending, request absorbed", map[string]interface{}{"reason": reason})
		return
	}
	t.restarts.Add(1)
	t.logger.Warn("HEALTH", "Requesting reinitialization", map[string]interface{}{"reason": reason})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.restartInFlight.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ReinitTimeout)
		defer cancel()
		if err := t.ctrl.Reinitialize(ctx, reason); err != nil {
			t.logger.Warn("HEALTH", "Reinitialization did not succeed", map[string]interface{}{"reason": reason, "error": err.Error()})
		}
	}()
}

func (t *Tracker) scheduleReconnect(reason string) {
	if t.restartInFlight.Load() || t.ctrl.Status().State.Busy() {
		return
	}

	t.mu.Lock()
	if t.timer != nil {
		t.mu.Unlock()
		return
	}
	t.timer = t.clock.AfterFunc(t.cfg.ReconnectDelay, func() {
		t.mu.Lock()
		t.timer = nil
		t.mu.Unlock()
		t.requestRestart("reconnect after " + reason)
	})
	t.mu.Unlock()

	t.Record(entity.HealthKindReinitScheduled, entity.SeverityInfo, map[string]interface{}{
		"reason": reason, "delay": t.cfg.ReconnectDelay.String(),
	}, 0)
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) trimLocked(now time.Time) {
	cutoff := now.Add(-t.cfg.Window)
	i := 0
	for i < len(t.events) && t.events[i].CreatedAt.Before(cutoff) {
		i++
	}
	if over := len(t.events) - i - t.cfg.MaxEvents; over > 0 {
		i += over
	}
	if i > 0 {
		t.events = append(t.events[:0:0], t.events[i:]...)
	}
}

func (t *Tracker) statsLocked(now time.Time) entity.HealthStats {
	stats := entity.HealthStats{Since: now.Add(-t.cfg.Window), ByKind: map[string]int{}}
	for i := range t.events {
		stats.Add(&t.events[i])
	}
	return stats
}

func (t *Tracker) snapshotLocked(now time.Time, stats entity.HealthStats, score float64, rating Rating) Snapshot {
	return Snapshot{
		Score:                   score,
		Rating:                  rating,
		ShouldAlert:             ShouldAlert(&stats),
		ConsecutiveSendFailures: t.streak,
		RestartsRequested:       t.restarts.Load(),
		RestartInFlight:         t.restartInFlight.Load(),
		ReconnectScheduled:      t.timer != nil,
		Stats:                   stats,
		At:                      now,
	}
}

func classify(tr session.Transition) (string, entity.HealthSeverity) {
	switch tr.Cause {
	case session.CauseConnect:
		return entity.HealthKindConnecting, entity.SeverityInfo
	case session.CauseRestart:
		return entity.HealthKindReconnection, entity.SeverityWarning
	case session.CauseDriverStarted:
		return entity.HealthKindConnected, entity.SeverityInfo
	case session.CauseFailover:
		return entity.HealthKindFailover, entity.SeverityWarning
	case session.CauseInitFailed:
		return entity.HealthKindInitFailed, entity.SeverityError
	case session.CauseQR:
		return entity.HealthKindPairingRequired, entity.SeverityInfo
	case session.CauseReady:
		return entity.HealthKindReady, entity.SeverityInfo
	case session.CauseDisconnected:
		return entity.HealthKindDisconnected, entity.SeverityWarning
	case session.CauseAuthFailed:
		return entity.HealthKindAuthFailed, entity.SeverityError
	default:
		return entity.HealthKindTeardown, entity.SeverityInfo
	}
}
