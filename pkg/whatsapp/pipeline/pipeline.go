// Package pipeline processes inbound envelopes: filtering, dedup,
// transcription, reply generation, pacing, dispatch and side effects.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/broadcast"
	"salesbot-wa-be/pkg/clock"
	"salesbot-wa-be/pkg/whatsapp/dedup"
	"salesbot-wa-be/pkg/whatsapp/driver"
	"salesbot-wa-be/pkg/whatsapp/pacing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	TranscriptionPlaceholder = "(Áudio recebido - transcrição indisponível)"
	DefaultFallbackReply     = "Desculpe, tive um problema aqui. Pode repetir, por favor?"
	DefaultStaleAfter        = time.Hour
	DefaultSideEffectDelay   = time.Second

	previewRunes   = 80
	recentCapacity = 50
)

var tracer = otel.Tracer("whatsapp/pipeline")

// Reply is what the responder wants sent back. An empty Reply means no
// answer is needed.
type Reply struct {
	Text         string
	MediaRef     string
	MediaCaption string
}

func (r *Reply) empty() bool {
	return r == nil || (r.Text == "" && r.MediaRef == "")
}

// Responder generates the reply. A returned error is contained: the
// pipeline answers with the fallback reply instead.
type Responder interface {
	Generate(ctx context.Context, senderID, text, mediaRef string) (*Reply, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, media driver.MediaDescriptor) (string, error)
}

// Turn is one answered inbound message, handed to the side effects.
type Turn struct {
	SenderID string
	Inbound  string
	Reply    string
	At       time.Time
}

// SideEffects run detached after a reply went out.
type SideEffects interface {
	Dispatch(ctx context.Context, turn Turn) error
}

// Session is the slice of the session manager the pipeline needs.
type Session interface {
	IsReady() bool
	Capabilities() (driver.Capabilities, bool)
	SendText(ctx context.Context, recipient, content string) (string, error)
	SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error)
}

// HealthRecorder is the slice of the health tracker the pipeline feeds.
type HealthRecorder interface {
	ObserveDispatch(recipient string, err error)
	Record(kind string, sev entity.HealthSeverity, details map[string]interface{}, consecutive int)
}

type Config struct {
	FallbackReply   string
	StaleAfter      time.Duration
	SideEffectDelay time.Duration
	// Maintenance generates replies but never sends them.
	Maintenance bool
	// SerializePerSender processes one envelope per sender at a time.
	SerializePerSender bool
}

type Outcome string

const (
	OutcomeReplied         Outcome = "replied"
	OutcomeNoReply         Outcome = "no_reply"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeFiltered        Outcome = "filtered"
	OutcomeStale           Outcome = "stale"
	OutcomeDroppedNotReady Outcome = "dropped_not_ready"
	OutcomeMaintenance     Outcome = "maintenance"
	OutcomeSendFailed      Outcome = "send_failed"
	OutcomeCancelled       Outcome = "cancelled"
	// OutcomeMediaSkipped is a media-only reply the connected driver cannot send.
	OutcomeMediaSkipped Outcome = "media_skipped"
)

// SendFailure is returned when the reply could not be dispatched. It is
// not fatal; the health tracker has already counted it.
type SendFailure struct {
	Recipient string
	Err       error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Recipient, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }

// OutboundDispatch is the record of one reply attempt.
type OutboundDispatch struct {
	RecipientID     string    `json:"recipientId"`
	Content         string    `json:"content"`
	ComputedDelayMs int64     `json:"computedDelayMs"`
	DispatchedAt    time.Time `json:"dispatchedAt"`
	Ok              bool      `json:"ok"`
	MessageID       string    `json:"messageId,omitempty"`
}

type Metrics struct {
	Received        int64              `json:"received"`
	Processed       int64              `json:"processed"`
	Duplicates      int64              `json:"duplicates"`
	Filtered        int64              `json:"filtered"`
	Stale           int64              `json:"stale"`
	DroppedNotReady int64              `json:"droppedNotReady"`
	NoReply         int64              `json:"noReply"`
	Replies         int64              `json:"replies"`
	SendFailures    int64              `json:"sendFailures"`
	MediaSkipped    int64              `json:"mediaSkipped"`
	LastProcessedAt *time.Time         `json:"lastProcessedAt"`
	DedupWindowMs   int64              `json:"dedupWindowMs"`
	Maintenance     bool               `json:"maintenance"`
	Recent          []OutboundDispatch `json:"recent"`
}

type counters struct {
	received, processed, duplicates, filtered, stale atomic.Int64
	droppedNotReady, noReply, replies, sendFailures  atomic.Int64
	mediaSkipped                                     atomic.Int64
}

type Pipeline struct {
	cfg         Config
	session     Session
	dedup       dedup.Checker
	ids         *dedup.MessageIDGuard
	pacer       *pacing.Controller
	responder   Responder
	transcriber Transcriber
	effects     SideEffects
	health      HealthRecorder
	hub         broadcast.Publisher
	clock       clock.Clock
	logger      logger.ILogger
	startedAt   time.Time

	counters    counters
	maintenance atomic.Bool
	senders     keyedMutex
	wg          sync.WaitGroup

	mu            sync.Mutex
	lastProcessed *time.Time
	recent        []OutboundDispatch
}

type Deps struct {
	Session     Session
	Dedup       dedup.Checker
	MessageIDs  *dedup.MessageIDGuard
	Pacer       *pacing.Controller
	Responder   Responder
	Transcriber Transcriber
	SideEffects SideEffects
	Health      HealthRecorder
	Hub         broadcast.Publisher
	Clock       clock.Clock
	Logger      logger.ILogger
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.SideEffectDelay < 0 {
		cfg.SideEffectDelay = 0
	}
	c := deps.Clock
	if c == nil {
		c = clock.Real()
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.NewCache(dedup.DefaultWindow)
	}
	if deps.MessageIDs == nil {
		deps.MessageIDs = dedup.NewMessageIDGuard(dedup.DefaultMessageIDTTL)
	}
	if deps.Pacer == nil {
		deps.Pacer = pacing.New(pacing.DefaultConfig(), nil)
	}
	p := &Pipeline{
		cfg:         cfg,
		session:     deps.Session,
		dedup:       deps.Dedup,
		ids:         deps.MessageIDs,
		pacer:       deps.Pacer,
		responder:   deps.Responder,
		transcriber: deps.Transcriber,
		effects:     deps.SideEffects,
		health:      deps.Health,
		hub:         deps.Hub,
		clock:       c,
		logger:      deps.Logger,
		startedAt:   c.Now(),
		senders:     keyedMutex{locks: map[string]*refMutex{}},
	}
	p.maintenance.Store(cfg.Maintenance)
	return p
}

// HandleInbound implements session.InboundHandler. Nothing here escapes
// to the caller.
func (p *Pipeline) HandleInbound(ctx context.Context, env driver.InboundEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("PIPELINE", "Recovered from panic while processing envelope", map[string]interface{}{
				"id": env.TransportMessageID, "panic": fmt.Sprint(r),
			})
		}
	}()

	outcome, err := p.Process(ctx, env)
	if err != nil {
		p.logger.Warn("PIPELINE", "Envelope not answered", map[string]interface{}{
			"id": env.TransportMessageID, "outcome": outcome, "error": err.Error(),
		})
		return
	}
	p.logger.Debug("PIPELINE", "Envelope processed", map[string]interface{}{"id": env.TransportMessageID, "outcome": outcome})
}

// Process runs one envelope through every stage and reports how it ended.
// The only error returned besides cancellation is *SendFailure.
func (p *Pipeline) Process(ctx context.Context, env driver.InboundEnvelope) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Process")
	defer span.End()

	outcome, err := p.process(ctx, env)
	span.SetAttributes(attribute.String("pipeline.outcome", string(outcome)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (p *Pipeline) process(ctx context.Context, env driver.InboundEnvelope) (Outcome, error) {
	p.counters.received.Add(1)

	// 1. transport redelivery
	if p.ids.Seen(env.TransportMessageID) {
		p.counters.duplicates.Add(1)
		return OutcomeDuplicate, nil
	}

	// 2. sender sanity
	phone := NormalizePhone(env.SenderID)
	if !ValidPhone(phone) {
		p.counters.filtered.Add(1)
		p.logger.Warn("PIPELINE", "Rejected sender id", map[string]interface{}{"sender": env.SenderID})
		return OutcomeFiltered, nil
	}

	// 3. backlog replayed by the transport after a restart
	if !env.ReceivedAt.IsZero() && env.ReceivedAt.Before(p.startedAt.Add(-p.cfg.StaleAfter)) {
		p.counters.stale.Add(1)
		return OutcomeStale, nil
	}

	content := env.RawContent
	key := content
	if content == "" {
		content = driver.MediaPlaceholder(env.Media)
		key = content
		// two voice notes share a placeholder but not a ref
		if env.Media != nil && env.Media.Ref != "" {
			key = content + "\x00" + env.Media.Ref
		}
	}

	// 4. content window
	dup, err := p.dedup.Check(ctx, phone, key)
	if err != nil {
		p.logger.Warn("PIPELINE", "Dedup check failed, processing anyway", map[string]interface{}{"error": err.Error()})
	}
	if dup {
		p.counters.duplicates.Add(1)
		p.logger.Debug("PIPELINE", "Duplicate message dropped", map[string]interface{}{"sender": phone})
		return OutcomeDuplicate, nil
	}

	// 5. connectivity
	if !p.session.IsReady() {
		p.counters.droppedNotReady.Add(1)
		p.record(entity.HealthKindDroppedNotReady, entity.SeverityWarning, map[string]interface{}{"sender": phone})
		return OutcomeDroppedNotReady, nil
	}

	p.counters.processed.Add(1)
	now := p.clock.Now()
	p.mu.Lock()
	p.lastProcessed = &now
	p.mu.Unlock()
	p.publish(broadcast.EventInboundMessage, broadcast.InboundMessagePayload{
		SenderID: phone, Preview: broadcast.Preview(content, previewRunes), At: now,
	})

	if p.cfg.SerializePerSender {
		unlock := p.senders.lock(phone)
		defer unlock()
	}

	// 6. audio
	text := content
	mediaRef := ""
	if env.Media != nil {
		mediaRef = env.Media.Ref
	}
	if env.IsAudio() {
		text = p.transcribe(ctx, phone, *env.Media)
	}

	// 7. reply
	reply, err := p.responder.Generate(ctx, phone, text, mediaRef)
	if err != nil {
		p.logger.Error("PIPELINE", "Reply generation failed, using fallback", map[string]interface{}{"sender": phone, "error": err.Error()})
		reply = &Reply{Text: p.cfg.FallbackReply}
	}
	if reply.empty() {
		p.counters.noReply.Add(1)
		return OutcomeNoReply, nil
	}
	if p.maintenance.Load() {
		p.logger.Info("PIPELINE", "Maintenance mode, reply not sent", map[string]interface{}{"sender": phone})
		return OutcomeMaintenance, nil
	}

	// 8. pacing
	delay := p.pacer.Delay(reply.Text)
	if delay > 0 {
		select {
		case <-p.clock.After(delay):
		case <-ctx.Done():
			return OutcomeCancelled, ctx.Err()
		}
	}

	// 9. dispatch
	if reply.MediaRef != "" {
		sent, err := p.sendMedia(ctx, phone, reply)
		if reply.Text == "" {
			switch {
			case err != nil:
				return OutcomeSendFailed, &SendFailure{Recipient: phone, Err: err}
			case !sent:
				return OutcomeMediaSkipped, nil
			}
			p.counters.replies.Add(1)
			return OutcomeReplied, nil
		}
	}
	id, err := p.session.SendText(ctx, phone, reply.Text)
	p.observe(phone, err)
	p.remember(OutboundDispatch{
		RecipientID: phone, Content: reply.Text, ComputedDelayMs: delay.Milliseconds(),
		DispatchedAt: p.clock.Now(), Ok: err == nil, MessageID: id,
	})
	p.publish(broadcast.EventOutboundMessage, broadcast.OutboundMessagePayload{
		RecipientID: phone, Preview: broadcast.Preview(reply.Text, previewRunes), At: p.clock.Now(), Ok: err == nil,
	})
	if err != nil {
		p.counters.sendFailures.Add(1)
		return OutcomeSendFailed, &SendFailure{Recipient: phone, Err: err}
	}
	p.counters.replies.Add(1)

	// 10. detached side effects
	p.fireSideEffects(Turn{SenderID: phone, Inbound: text, Reply: reply.Text, At: p.clock.Now()})
	return OutcomeReplied, nil
}

func (p *Pipeline) transcribe(ctx context.Context, phone string, media driver.MediaDescriptor) string {
	if p.transcriber == nil {
		return TranscriptionPlaceholder
	}
	text, err := p.transcriber.Transcribe(ctx, media)
	if err != nil || text == "" {
		details := map[string]interface{}{"sender": phone}
		if err != nil {
			details["error"] = err.Error()
		}
		p.logger.Warn("PIPELINE", "Transcription unavailable", details)
		p.record(entity.HealthKindTranscription, entity.SeverityWarning, details)
		return TranscriptionPlaceholder
	}
	return text
}

// sendMedia reports false without an error when the driver has no media
// support.
func (p *Pipeline) sendMedia(ctx context.Context, phone string, reply *Reply) (bool, error) {
	caps, ok := p.session.Capabilities()
	if !ok || !caps.Media {
		p.counters.mediaSkipped.Add(1)
		p.record(entity.HealthKindMediaUnsupported, entity.SeverityWarning, map[string]interface{}{
			"recipient": phone, "media": reply.MediaRef,
		})
		return false, nil
	}
	_, err := p.session.SendMedia(ctx, phone, reply.MediaRef, reply.MediaCaption)
	p.observe(phone, err)
	if err != nil {
		p.counters.sendFailures.Add(1)
		p.logger.Warn("PIPELINE", "Media send failed", map[string]interface{}{"recipient": phone, "error": err.Error()})
		return false, err
	}
	return true, nil
}

func (p *Pipeline) fireSideEffects(turn Turn) {
	if p.effects == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.cfg.SideEffectDelay > 0 {
			<-p.clock.After(p.cfg.SideEffectDelay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.effects.Dispatch(ctx, turn); err != nil {
			p.logger.Error("PIPELINE", "Side effects failed", map[string]interface{}{"sender": turn.SenderID, "error": err.Error()})
		}
	}()
}

func (p *Pipeline) observe(recipient string, err error) {
	if p.health != nil {
		p.health.ObserveDispatch(recipient, err)
	}
}

func (p *Pipeline) record(kind string, sev entity.HealthSeverity, details map[string]interface{}) {
	if p.health != nil {
		p.health.Record(kind, sev, details, 0)
	}
}

func (p *Pipeline) publish(t broadcast.EventType, data interface{}) {
	if p.hub != nil {
		p.hub.Publish(broadcast.Event{Type: t, Data: data, At: p.clock.Now()})
	}
}

func (p *Pipeline) remember(d OutboundDispatch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append(p.recent, d)
	if over := len(p.recent) - recentCapacity; over > 0 {
		p.recent = append(p.recent[:0:0], p.recent[over:]...)
	}
}

// SetMaintenance toggles dispatch at runtime.
func (p *Pipeline) SetMaintenance(on bool) { p.maintenance.Store(on) }

// ClearDedup forgets every fingerprint and message id.
func (p *Pipeline) ClearDedup(ctx context.Context) error {
	p.ids.Clear()
	switch c := p.dedup.(type) {
	case *dedup.Cache:
		c.Clear()
	case *dedup.RedisCache:
		return c.Clear(ctx)
	}
	return nil
}

func (p *Pipeline) Metrics() Metrics {
	m := Metrics{
		Received:        p.counters.received.Load(),
		Processed:       p.counters.processed.Load(),
		Duplicates:      p.counters.duplicates.Load(),
		Filtered:        p.counters.filtered.Load(),
		Stale:           p.counters.stale.Load(),
		DroppedNotReady: p.counters.droppedNotReady.Load(),
		NoReply:         p.counters.noReply.Load(),
		Replies:         p.counters.replies.Load(),
		SendFailures:    p.counters.sendFailures.Load(),
		MediaSkipped:    p.counters.mediaSkipped.Load(),
		DedupWindowMs:   p.dedup.Window().Milliseconds(),
		Maintenance:     p.maintenance.Load(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastProcessed != nil {
		t := *p.lastProcessed
		m.LastProcessedAt = &t
	}
	m.Recent = append([]OutboundDispatch(nil), p.recent...)
	return m
}

// Wait blocks until detached side effects have finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per sender and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
