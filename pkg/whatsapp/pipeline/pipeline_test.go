package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/repository/memory"
	"salesbot-wa-be/pkg/broadcast"
	"salesbot-wa-be/pkg/clock"
	"salesbot-wa-be/pkg/whatsapp/dedup"
	"salesbot-wa-be/pkg/whatsapp/driver"
	"salesbot-wa-be/pkg/whatsapp/driver/drivertest"
	"salesbot-wa-be/pkg/whatsapp/pacing"
	"salesbot-wa-be/pkg/whatsapp/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sender = "5511999999999@c.us"

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSession struct {
	mu      sync.Mutex
	ready   bool
	caps    driver.Capabilities
	sendErr error
	texts   []string
	media   []string
}

func (s *fakeSession) IsReady() bool { return s.ready }

func (s *fakeSession) Capabilities() (driver.Capabilities, bool) { return s.caps, s.ready }

func (s *fakeSession) SendText(ctx context.Context, recipient, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.texts = append(s.texts, recipient+":"+content)
	return "id", nil
}

func (s *fakeSession) SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media = append(s.media, mediaRef)
	return "id", nil
}

func (s *fakeSession) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type responderFunc func(ctx context.Context, senderID, text, mediaRef string) (*Reply, error)

func (f responderFunc) Generate(ctx context.Context, senderID, text, mediaRef string) (*Reply, error) {
	return f(ctx, senderID, text, mediaRef)
}

func echo() Responder {
	return responderFunc(func(_ context.Context, _, text, _ string) (*Reply, error) {
		return &Reply{Text: "re: " + text}, nil
	})
}

type healthRecorder struct {
	mu       sync.Mutex
	kinds    []string
	observed []error
}

func (h *healthRecorder) ObserveDispatch(recipient string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observed = append(h.observed, err)
}

func (h *healthRecorder) Record(kind string, sev entity.HealthSeverity, details map[string]interface{}, consecutive int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kinds = append(h.kinds, kind)
}

func (h *healthRecorder) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.kinds...)
}

type transcriberFunc func(ctx context.Context, media driver.MediaDescriptor) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, media driver.MediaDescriptor) (string, error) {
	return f(ctx, media)
}

type effectsRecorder struct {
	mu    sync.Mutex
	turns []Turn
}

func (e *effectsRecorder) Dispatch(ctx context.Context, turn Turn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = append(e.turns, turn)
	return nil
}

type fixture struct {
	clock   *clock.FakeClock
	session *fakeSession
	health  *healthRecorder
	effects *effectsRecorder
	hub     *broadcast.Hub
	p       *Pipeline
}

func newFixture(t *testing.T, cfg Config, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.Fake(t0),
		session: &fakeSession{ready: true, caps: driver.Capabilities{Media: true}},
		health:  &healthRecorder{},
		effects: &effectsRecorder{},
	}
	f.hub = broadcast.NewHub(logger.NewNopLogger(), broadcast.WithClock(f.clock))
	deps := Deps{
		Session:     f.session,
		Dedup:       dedup.NewCache(dedup.DefaultWindow),
		Pacer:       pacing.New(pacing.Config{}, nil),
		Responder:   echo(),
		SideEffects: f.effects,
		Health:      f.health,
		Hub:         f.hub,
		Clock:       f.clock,
		Logger:      logger.NewNopLogger(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.p = New(cfg, deps)
	return f
}

func text(id, content string, at time.Time) driver.InboundEnvelope {
	return driver.InboundEnvelope{SenderID: sender, RawContent: content, TransportMessageID: id, ReceivedAt: at}
}

func TestDuplicateWithinWindowIsDropped(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	out, err := f.p.Process(ctx, text("m1", "Quero saber o preço", t0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)

	f.clock.Advance(5 * time.Second)
	out, err = f.p.Process(ctx, text("m2", "Quero saber o preço", f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	assert.Len(t, f.session.sentTexts(), 1)
	assert.Equal(t, int64(1), f.p.Metrics().Duplicates)
}

func TestRepeatAfterWindowIsProcessed(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Dedup = dedup.NewCache(50 * time.Millisecond)
	})
	ctx := context.Background()

	_, err := f.p.Process(ctx, text("m1", "Oi", t0))
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	out, err := f.p.Process(ctx, text("m2", "Oi", f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)
	assert.Len(t, f.session.sentTexts(), 2)
}

func TestDifferentContentIsNotDuplicate(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	_, _ = f.p.Process(ctx, text("m1", "Oi", t0))
	out, _ := f.p.Process(ctx, text("m2", "oi", t0))
	assert.Equal(t, OutcomeReplied, out)
}

func TestRedeliveredMessageIDIsDropped(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	_, _ = f.p.Process(ctx, text("m1", "Oi", t0))
	f.clock.Advance(time.Minute)
	out, _ := f.p.Process(ctx, text("m1", "Oi", f.clock.Now()))
	assert.Equal(t, OutcomeDuplicate, out)
}

func TestInvalidSenderIsFiltered(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	env := text("m1", "Oi", t0)
	env.SenderID = "5500000000000@c.us"

	out, err := f.p.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFiltered, out)
	assert.Empty(t, f.session.sentTexts())
}

func TestStaleBacklogIsDropped(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	out, _ := f.p.Process(context.Background(), text("m1", "Oi", t0.Add(-2*time.Hour)))
	assert.Equal(t, OutcomeStale, out)
}

func TestNotReadyDropsAndRecords(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.session.ready = false

	out, err := f.p.Process(context.Background(), text("m1", "Oi", t0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDroppedNotReady, out)
	assert.Equal(t, []string{entity.HealthKindDroppedNotReady}, f.health.recorded())
	assert.Equal(t, int64(1), f.p.Metrics().DroppedNotReady)
}

func TestAudioUsesTranscription(t *testing.T) {
	var got string
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Transcriber = transcriberFunc(func(context.Context, driver.MediaDescriptor) (string, error) {
			return "quanto custa", nil
		})
		d.Responder = responderFunc(func(_ context.Context, _, text, _ string) (*Reply, error) {
			got = text
			return &Reply{Text: "R$ 10"}, nil
		})
	})
	env := driver.InboundEnvelope{SenderID: sender, TransportMessageID: "a1", ReceivedAt: t0,
		Media: &driver.MediaDescriptor{Kind: driver.MediaAudio, Ref: "blob://1"}}

	_, err := f.p.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, "quanto custa", got)
}

func TestFailedTranscriptionFallsBackToPlaceholder(t *testing.T) {
	var got string
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Transcriber = transcriberFunc(func(context.Context, driver.MediaDescriptor) (string, error) {
			return "", errors.New("upstream 503")
		})
		d.Responder = responderFunc(func(_ context.Context, _, text, _ string) (*Reply, error) {
			got = text
			return &Reply{Text: "ok"}, nil
		})
	})
	env := driver.InboundEnvelope{SenderID: sender, TransportMessageID: "a1", ReceivedAt: t0,
		Media: &driver.MediaDescriptor{Kind: driver.MediaAudio, Ref: "blob://1"}}

	out, err := f.p.Process(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)
	assert.Equal(t, TranscriptionPlaceholder, got)
	assert.Contains(t, f.health.recorded(), entity.HealthKindTranscription)
}

func TestResponderErrorSendsFallback(t *testing.T) {
	f := newFixture(t, Config{FallbackReply: "volto já"}, func(d *Deps) {
		d.Responder = responderFunc(func(context.Context, string, string, string) (*Reply, error) {
			return nil, errors.New("model timeout")
		})
	})

	out, err := f.p.Process(context.Background(), text("m1", "Oi", t0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)
	assert.Equal(t, []string{"5511999999999:volto já"}, f.session.sentTexts())
}

func TestEmptyReplySendsNothing(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Responder = responderFunc(func(context.Context, string, string, string) (*Reply, error) {
			return &Reply{}, nil
		})
	})

	out, err := f.p.Process(context.Background(), text("m1", "ok", t0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoReply, out)
	assert.Empty(t, f.session.sentTexts())
	assert.Empty(t, f.health.observed)
}

func TestMaintenanceSkipsDispatch(t *testing.T) {
	f := newFixture(t, Config{Maintenance: true}, nil)

	out, _ := f.p.Process(context.Background(), text("m1", "Oi", t0))
	assert.Equal(t, OutcomeMaintenance, out)
	assert.Empty(t, f.session.sentTexts())

	f.p.SetMaintenance(false)
	out, _ = f.p.Process(context.Background(), text("m2", "Tudo bem?", t0))
	assert.Equal(t, OutcomeReplied, out)
}

func TestSendFailureIsReportedAndObserved(t *testing.T) {
	boom := errors.New("socket closed")
	f := newFixture(t, Config{}, nil)
	f.session.sendErr = boom

	out, err := f.p.Process(context.Background(), text("m1", "Oi", t0))
	assert.Equal(t, OutcomeSendFailed, out)

	var sf *SendFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, "5511999999999", sf.Recipient)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []error{boom}, f.health.observed)

	m := f.p.Metrics()
	assert.Equal(t, int64(1), m.SendFailures)
	require.Len(t, m.Recent, 1)
	assert.False(t, m.Recent[0].Ok)

	f.p.Wait()
	assert.Empty(t, f.effects.turns)
}

func TestSideEffectsRunAfterReply(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	_, err := f.p.Process(context.Background(), text("m1", "Oi", t0))
	require.NoError(t, err)
	f.p.Wait()

	require.Len(t, f.effects.turns, 1)
	assert.Equal(t, "5511999999999", f.effects.turns[0].SenderID)
	assert.Equal(t, "re: Oi", f.effects.turns[0].Reply)
}

func TestMediaReplyRespectsCapabilities(t *testing.T) {
	reply := responderFunc(func(context.Context, string, string, string) (*Reply, error) {
		return &Reply{Text: "catálogo", MediaRef: "https://cdn/cat.pdf"}, nil
	})
	f := newFixture(t, Config{}, func(d *Deps) { d.Responder = reply })
	f.session.caps = driver.Capabilities{}

	out, err := f.p.Process(context.Background(), text("m1", "catálogo?", t0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)
	assert.Empty(t, f.session.media)
	assert.Len(t, f.session.sentTexts(), 1)
	assert.Contains(t, f.health.recorded(), entity.HealthKindMediaUnsupported)

	f.session.caps = driver.Capabilities{Media: true}
	_, err = f.p.Process(context.Background(), text("m2", "de novo", t0))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn/cat.pdf"}, f.session.media)
}

func TestMediaOnlyReplyWithoutMediaSupportIsSkipped(t *testing.T) {
	reply := responderFunc(func(context.Context, string, string, string) (*Reply, error) {
		return &Reply{MediaRef: "https://cdn/cat.pdf"}, nil
	})
	f := newFixture(t, Config{}, func(d *Deps) { d.Responder = reply })
	f.session.caps = driver.Capabilities{}

	out, err := f.p.Process(context.Background(), text("m1", "catálogo?", t0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMediaSkipped, out)
	assert.Empty(t, f.session.media)
	assert.Empty(t, f.session.sentTexts())
	assert.Contains(t, f.health.recorded(), entity.HealthKindMediaUnsupported)
	m := f.p.Metrics()
	assert.Equal(t, int64(0), m.Replies)
	assert.Equal(t, int64(1), m.MediaSkipped)

	f.session.caps = driver.Capabilities{Media: true}
	out, err = f.p.Process(context.Background(), text("m2", "de novo", t0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)
	assert.Equal(t, []string{"https://cdn/cat.pdf"}, f.session.media)
	assert.Equal(t, int64(1), f.p.Metrics().Replies)
}

func TestPacingDelaysDispatch(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Pacer = pacing.New(pacing.Config{Min: 3 * time.Second, Max: 3 * time.Second}, nil)
	})

	done := make(chan Outcome, 1)
	go func() {
		out, _ := f.p.Process(context.Background(), text("m1", "Oi", t0))
		done <- out
	}()

	f.clock.BlockUntil(1)
	assert.Empty(t, f.session.sentTexts())
	f.clock.Advance(3 * time.Second)

	select {
	case out := <-done:
		assert.Equal(t, OutcomeReplied, out)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not happen after the pacing delay")
	}
	require.Len(t, f.p.Metrics().Recent, 1)
	assert.Equal(t, int64(3000), f.p.Metrics().Recent[0].ComputedDelayMs)
}

func TestCancelDuringPacing(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Pacer = pacing.New(pacing.Config{Min: time.Minute, Max: time.Minute}, nil)
	})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := f.p.Process(ctx, text("m1", "Oi", t0))
		done <- err
	}()
	f.clock.BlockUntil(1)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, f.session.sentTexts())
}

func TestInboundAndOutboundBroadcast(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	sub := f.hub.Subscribe("test")

	_, err := f.p.Process(context.Background(), text("m1", "Oi", t0))
	require.NoError(t, err)

	in := <-sub.C()
	assert.Equal(t, broadcast.EventInboundMessage, in.Type)
	assert.Equal(t, "5511999999999", in.Data.(broadcast.InboundMessagePayload).SenderID)
	out := <-sub.C()
	assert.Equal(t, broadcast.EventOutboundMessage, out.Type)
	assert.True(t, out.Data.(broadcast.OutboundMessagePayload).Ok)
}

func TestClearDedupForgetsFingerprints(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	_, _ = f.p.Process(ctx, text("m1", "Oi", t0))
	require.NoError(t, f.p.ClearDedup(ctx))
	out, _ := f.p.Process(ctx, text("m1", "Oi", t0))
	assert.Equal(t, OutcomeReplied, out)
}

func TestPanicInResponderIsContained(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) {
		d.Responder = responderFunc(func(context.Context, string, string, string) (*Reply, error) {
			panic("boom")
		})
	})
	assert.NotPanics(t, func() {
		f.p.HandleInbound(context.Background(), text("m1", "Oi", t0))
	})
}

func TestPerSenderSerialization(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	f := newFixture(t, Config{SerializePerSender: true}, func(d *Deps) {
		d.Responder = responderFunc(func(context.Context, string, string, string) (*Reply, error) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return &Reply{}, nil
		})
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.p.Process(context.Background(), text(string(rune('a'+i)), string(rune('a'+i)), t0))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
	assert.Empty(t, f.p.senders.locks)
}

func TestEndToEndThroughSessionManager(t *testing.T) {
	primary := drivertest.NewFactory(driver.KindPrimary, func() *drivertest.Driver {
		d := drivertest.New(driver.KindPrimary)
		d.AfterPair = func(d *drivertest.Driver) { d.EmitReady() }
		return d
	})
	m := session.NewManager([]driver.Factory{primary}, memory.NewCredentialRepository(), nil, logger.NewNopLogger())
	defer m.Close(context.Background())

	p := New(Config{}, Deps{
		Session:   m,
		Pacer:     pacing.New(pacing.Config{}, nil),
		Responder: echo(),
		Logger:    logger.NewNopLogger(),
	})
	m.SetInboundHandler(p)
	require.NoError(t, m.Connect(context.Background()))

	primary.Last().Deliver(driver.InboundEnvelope{SenderID: sender, RawContent: "Oi", TransportMessageID: "x", ReceivedAt: time.Now()})

	require.Eventually(t, func() bool { return len(primary.Last().Sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "5511999999999", primary.Last().Sent()[0].Recipient)
	assert.Equal(t, "re: Oi", primary.Last().Sent()[0].Content)
}
