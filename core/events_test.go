package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) *EventBus {
	t.Helper()
	b := NewEventBus(zap.NewNop().Sugar())
	t.Cleanup(b.Close)
	return b
}

func TestEventBus_PublishSync(t *testing.T) {
	b := newTestBus(t)

	var got []Event
	b.Subscribe("trades.updated", func(e Event) { got = append(got, e) })
	b.Subscribe("other.event", func(e Event) { t.Error("wrong type delivered") })

	b.PublishSync(NewEvent("trades.updated", "test", map[string]interface{}{"symbol": "AAPL"}))

	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Data["symbol"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestEventBus_PublishAsync(t *testing.T) {
	b := newTestBus(t)

	done := make(chan Event, 1)
	b.Subscribe("trades.updated", func(e Event) { done <- e })

	b.PublishAsync(NewEvent("trades.updated", "test", nil))

	select {
	case e := <-done:
		assert.Equal(t, "trades.updated", e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("async event not delivered")
	}
}

func TestEventBus_PanicIsolation(t *testing.T) {
	b := newTestBus(t)

	var delivered bool
	b.Subscribe("boom", func(Event) { panic("listener bug") })
	b.Subscribe("boom", func(Event) { delivered = true })

	assert.NotPanics(t, func() {
		b.PublishSync(NewEvent("boom", "test", nil))
	})
	assert.True(t, delivered)
}

func TestEventBus_ListenerCount(t *testing.T) {
	b := newTestBus(t)

	assert.Equal(t, 0, b.ListenerCount("x"))
	b.Subscribe("x", func(Event) {})
	b.Subscribe("x", func(Event) {})
	assert.Equal(t, 2, b.ListenerCount("x"))
}

func TestEventBus_CloseDrainsQueue(t *testing.T) {
	b := NewEventBus(zap.NewNop().Sugar())

	var mu sync.Mutex
	n := 0
	b.Subscribe("tick", func(Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		b.PublishAsync(NewEvent("tick", "test", nil))
	}
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, n)
}
