package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/repository/memory"
	"salesbot-wa-be/pkg/broadcast"
	"salesbot-wa-be/pkg/clock"
	"salesbot-wa-be/pkg/whatsapp/driver"
	"salesbot-wa-be/pkg/whatsapp/driver/drivertest"
	"salesbot-wa-be/pkg/whatsapp/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu    sync.Mutex
	state session.State
	gate  chan struct{}
	calls atomic.Int32
}

func (c *fakeController) Reinitialize(ctx context.Context, reason string) error {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return nil
}

func (c *fakeController) Status() session.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session.Status{State: c.state}
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) NotifyHealthAlert(ctx context.Context, snap Snapshot) error {
	c.n.Add(1)
	return nil
}

var errSend = errors.New("send failed")

func TestThreeFailuresRequestExactlyOneRestart(t *testing.T) {
	ctrl := &fakeController{state: session.StateReady, gate: make(chan struct{})}
	tr := NewTracker(Config{}, ctrl, nil, logger.NewNopLogger())

	tr.ObserveDispatch("5511999999999", errSend)
	tr.ObserveDispatch("5511888888888", errSend)
	assert.Equal(t, int32(0), ctrl.calls.Load())

	tr.ObserveDispatch("5511777777777", errSend)
	require.Eventually(t, func() bool { return ctrl.calls.Load() == 1 }, time.Second, time.Millisecond)

	// a 4th failure while the restart is pending is absorbed
	tr.ObserveDispatch("5511999999999", errSend)
	assert.True(t, tr.Snapshot().RestartInFlight)

	close(ctrl.gate)
	tr.Wait()
	assert.Equal(t, int32(1), ctrl.calls.Load())
	assert.Equal(t, int64(1), tr.Snapshot().RestartsRequested)
}

func TestSuccessResetsStreak(t *testing.T) {
	ctrl := &fakeController{state: session.StateReady}
	tr := NewTracker(Config{}, ctrl, nil, logger.NewNopLogger())

	tr.ObserveDispatch("a", errSend)
	tr.ObserveDispatch("a", errSend)
	tr.ObserveDispatch("a", nil)
	assert.Equal(t, 0, tr.Snapshot().ConsecutiveSendFailures)
	tr.ObserveDispatch("a", errSend)
	tr.ObserveDispatch("a", errSend)
	tr.Wait()

	assert.Equal(t, int32(0), ctrl.calls.Load())
	assert.Equal(t, 2, tr.Snapshot().ConsecutiveSendFailures)
}

func TestReadyResetsStreak(t *testing.T) {
	ctrl := &fakeController{state: session.StateReady}
	tr := NewTracker(Config{}, ctrl, nil, logger.NewNopLogger())

	tr.ObserveDispatch("a", errSend)
	tr.ObserveDispatch("a", errSend)
	tr.OnTransition(session.Transition{From: session.StateDegraded, To: session.StateReady, Cause: session.CauseReady})
	tr.ObserveDispatch("a", errSend)
	tr.Wait()

	assert.Equal(t, int32(0), ctrl.calls.Load())
}

func TestDisconnectSchedulesDelayedReinit(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	ctrl := &fakeController{state: session.StateDegraded}
	tr := NewTracker(Config{}, ctrl, nil, logger.NewNopLogger(), WithClock(fc))

	tr.OnTransition(session.Transition{From: session.StateReady, To: session.StateDegraded, Cause: session.CauseDisconnected, Reason: "network"})
	assert.True(t, tr.Snapshot().ReconnectScheduled)

	// a second disconnect does not stack another timer
	tr.OnTransition(session.Transition{From: session.StateDegraded, To: session.StateDegraded, Cause: session.CauseDisconnected})
	assert.Equal(t, 1, fc.Pending())

	fc.Advance(4 * time.Second)
	assert.Equal(t, int32(0), ctrl.calls.Load())

	fc.Advance(time.Second)
	tr.Wait()
	assert.Equal(t, int32(1), ctrl.calls.Load())
	assert.False(t, tr.Snapshot().ReconnectScheduled)
}

func TestTeardownCancelsPendingReconnect(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	ctrl := &fakeController{state: session.StateDegraded}
	tr := NewTracker(Config{}, ctrl, nil, logger.NewNopLogger(), WithClock(fc))

	tr.OnTransition(session.Transition{From: session.StateReady, To: session.StateDegraded, Cause: session.CauseDisconnected})
	tr.OnTransition(session.Transition{From: session.StateDegraded, To: session.StateUninitialized, Cause: session.CauseTeardown})

	fc.Advance(time.Minute)
	tr.Wait()
	assert.Equal(t, int32(0), ctrl.calls.Load())
	assert.Equal(t, 0, fc.Pending())
}

func TestNoReconnectScheduledWhileReinitializing(t *testing.T) {
	fc := clock.Fake(time.Now())
	ctrl := &fakeController{state: session.StateReinitializing}
	tr := NewTracker(Config{}, ctrl, nil, logger.NewNopLogger(), WithClock(fc))

	tr.OnTransition(session.Transition{From: session.StateReady, To: session.StateDegraded, Cause: session.CauseDisconnected})
	assert.Equal(t, 0, fc.Pending())
}

func TestHealthChangePublished(t *testing.T) {
	hub := broadcast.NewHub(logger.NewNopLogger())
	sub := hub.Subscribe("test")
	tr := NewTracker(Config{}, &fakeController{state: session.StateReady}, hub, logger.NewNopLogger())

	tr.OnTransition(session.Transition{To: session.StateInitializing, Cause: session.CauseConnect})
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected %s for an info event", ev.Type)
	default:
	}

	tr.ObserveDispatch("a", errSend)
	ev := <-sub.C()
	require.Equal(t, broadcast.EventHealthChange, ev.Type)
	p := ev.Data.(broadcast.HealthChangePayload)
	assert.InDelta(t, 50, p.Score, 0.001)
	assert.Equal(t, string(RatingPoor), p.Rating)
}

func TestEventsPersistedAndReported(t *testing.T) {
	store := memory.NewHealthLogRepository(0)
	tr := NewTracker(Config{}, &fakeController{state: session.StateReady}, nil, logger.NewNopLogger(), WithStore(store))

	tr.OnTransition(session.Transition{To: session.StateInitializing, Cause: session.CauseConnect})
	tr.OnTransition(session.Transition{To: session.StateReinitializing, Cause: session.CauseRestart})
	tr.OnTransition(session.Transition{To: session.StateReady, Cause: session.CauseReady})
	tr.Record(entity.HealthKindDroppedNotReady, entity.SeverityWarning, nil, 0)
	tr.Wait()

	rep, err := tr.Report(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Stats.Total)
	assert.Equal(t, 1, rep.Stats.Reconnections)
	assert.InDelta(t, 95, rep.Score, 0.001)
	assert.Equal(t, RatingExcellent, rep.Rating)
	assert.False(t, rep.ShouldAlert)
	assert.Len(t, rep.Recent, 4)
}

// blockingStore holds every Append until release is closed.
type blockingStore struct {
	*memory.HealthLogRepository
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (s *blockingStore) Append(ctx context.Context, ev *entity.HealthEvent) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.HealthLogRepository.Append(ctx, ev)
}

func TestSlowStoreDoesNotBlockTransitions(t *testing.T) {
	store := &blockingStore{
		HealthLogRepository: memory.NewHealthLogRepository(0),
		release:             make(chan struct{}),
		entered:             make(chan struct{}),
	}
	tr := NewTracker(Config{}, &fakeController{state: session.StateReady}, nil, logger.NewNopLogger(), WithStore(store))

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.OnTransition(session.Transition{To: session.StateInitializing, Cause: session.CauseConnect})
		tr.OnTransition(session.Transition{To: session.StateReady, Cause: session.CauseReady})
		tr.Record(entity.HealthKindDroppedNotReady, entity.SeverityWarning, nil, 0)
	}()

	<-store.entered
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("transition handling waited on the store")
	}
	assert.Equal(t, 3, tr.Snapshot().Stats.Total)

	close(store.release)
	tr.Stop()
	stats, err := store.QueryAggregate(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)

	// After Stop events stay in memory only.
	tr.Record(entity.HealthKindDroppedNotReady, entity.SeverityWarning, nil, 0)
	assert.Equal(t, 4, tr.Snapshot().Stats.Total)
}

func TestAlertSentOnceWhenThresholdCrossed(t *testing.T) {
	n := &countingNotifier{}
	tr := NewTracker(Config{FailureThreshold: 100}, &fakeController{state: session.StateReady}, nil, logger.NewNopLogger(), WithAlerts(n))

	for i := 0; i < 5; i++ {
		tr.ObserveDispatch("a", errSend)
	}
	tr.Wait()
	assert.Equal(t, int32(1), n.n.Load())
	assert.True(t, tr.Snapshot().ShouldAlert)
}

func TestSendFailuresRestartRealSession(t *testing.T) {
	primary := drivertest.NewFactory(driver.KindPrimary, func() *drivertest.Driver {
		d := drivertest.New(driver.KindPrimary)
		d.AfterPair = func(d *drivertest.Driver) { d.EmitReady() }
		d.SendErr = func(int) error { return errSend }
		return d
	})
	fallback := drivertest.NewFactory(driver.KindFallback, func() *drivertest.Driver {
		return drivertest.New(driver.KindFallback)
	})
	m := session.NewManager([]driver.Factory{primary, fallback}, memory.NewCredentialRepository(), nil, logger.NewNopLogger())
	defer m.Close(context.Background())
	tr := NewTracker(Config{}, m, nil, logger.NewNopLogger())
	m.AddObserver(tr)

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	for i := 0; i < 3; i++ {
		_, err := m.SendText(ctx, "5511999999999", "oi")
		tr.ObserveDispatch("5511999999999", err)
	}
	tr.Wait()

	assert.Equal(t, int32(2), primary.Created.Load())
	assert.Equal(t, int32(0), fallback.Created.Load())
	assert.True(t, m.Status().Ready)
	assert.Equal(t, 0, tr.Snapshot().ConsecutiveSendFailures)
}
