package broadcast

import (
	"testing"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	h := NewHub(logger.NewNopLogger())
	a := h.Subscribe("a")
	b := h.Subscribe("b")

	h.Publish(Event{Type: EventReady, Data: ReadyPayload{Driver: "primary"}})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.C():
			assert.Equal(t, EventReady, ev.Type)
			assert.False(t, ev.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublisherOrOthers(t *testing.T) {
	h := NewHub(logger.NewNopLogger(), WithBuffer(1), WithMaxDrops(1000))
	slow := h.Subscribe("slow")
	fast := h.Subscribe("fast")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			h.Publish(Event{Type: EventInboundMessage})
			<-fast.C()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	assert.Equal(t, int64(49), slow.Missed())
	assert.Equal(t, int64(0), fast.Missed())
}

func TestSubscriberEvictedAfterMaxDrops(t *testing.T) {
	h := NewHub(logger.NewNopLogger(), WithBuffer(1), WithMaxDrops(3))
	stuck := h.Subscribe("stuck")

	for i := 0; i < 4; i++ {
		h.Publish(Event{Type: EventHealthChange})
	}
	assert.Equal(t, 0, h.Count())

	// buffered event is still readable, then the channel is closed
	_, ok := <-stuck.C()
	assert.True(t, ok)
	_, ok = <-stuck.C()
	assert.False(t, ok)
}

func TestCloseSubscriptionTwice(t *testing.T) {
	h := NewHub(logger.NewNopLogger())
	sub := h.Subscribe("x")
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Count())

	h.Publish(Event{Type: EventReady})
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	h := NewHub(logger.NewNopLogger())
	sub := h.Subscribe("x")
	h.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := h.Subscribe("late")
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestPublishStampsWithHubClock(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := NewHub(logger.NewNopLogger(), WithClock(clock.Fake(at)))
	sub := h.Subscribe("x")
	h.Publish(Event{Type: EventConnected})

	ev := <-sub.C()
	require.Equal(t, at, ev.At)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "oi", Preview("oi", 10))
	assert.Equal(t, "olá", Preview("olá mundo", 3))
}
