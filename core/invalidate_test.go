package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type invFixture struct {
	bus    *EventBus
	caches *CacheManager
	inv    *Invalidator
}

func newInvFixture(t *testing.T) *invFixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	bus := NewEventBus(log)
	caches := NewCacheManager(CacheManagerConfig{
		DefaultTTL:      time.Minute,
		DefaultMaxSize:  100,
		CleanupInterval: time.Hour,
	}, log)
	inv := NewInvalidator(bus, caches, log)
	t.Cleanup(func() {
		inv.Close()
		bus.Close()
		caches.Close()
	})
	return &invFixture{bus: bus, caches: caches, inv: inv}
}

func TestInvalidator_PurgesOnEvent(t *testing.T) {
	f := newInvFixture(t)

	f.caches.Put(CacheQueryResults, "trades:symbol=aapl", 1, time.Minute)
	f.caches.Put(CacheQueryResults, "users:id=1", 2, time.Minute)

	f.inv.Register(InvalidationRule{
		EventType: "trades.updated",
		Patterns:  []string{"trades:*"},
	})
	f.bus.PublishSync(NewEvent("trades.updated", "test", nil))

	_, ok := f.caches.Get(CacheQueryResults, "trades:symbol=aapl")
	assert.False(t, ok)
	_, ok = f.caches.Get(CacheQueryResults, "users:id=1")
	assert.True(t, ok)
}

func TestInvalidator_ResolvesPlaceholderFromEventData(t *testing.T) {
	f := newInvFixture(t)

	f.caches.Put(CacheQueryResults, "t:aapl:20:0", 1, time.Minute)
	f.caches.Put(CacheQueryResults, "t:msft:20:0", 2, time.Minute)

	f.inv.Register(InvalidationRule{
		EventType: "trades.updated",
		Patterns:  []string{"t:{symbol}:*"},
	})
	f.bus.PublishSync(NewEvent("trades.updated", "test",
		map[string]interface{}{"symbol": "aapl"}))

	_, ok := f.caches.Get(CacheQueryResults, "t:aapl:20:0")
	assert.False(t, ok)
	_, ok = f.caches.Get(CacheQueryResults, "t:msft:20:0")
	assert.True(t, ok)
}

func TestInvalidator_SelfReferencingEventDataTerminates(t *testing.T) {
	f := newInvFixture(t)

	f.caches.Put(CacheQueryResults, "t:{symbol}:20:0", 1, time.Minute)
	f.caches.Put(CacheQueryResults, "t:aapl:20:0", 2, time.Minute)

	f.inv.Register(InvalidationRule{
		EventType: "trades.updated",
		Patterns:  []string{"t:{symbol}:*"},
	})

	// data value carrying its own placeholder must resolve to the
	// literal braces, never re-trigger substitution; PublishSync
	// delivers on this goroutine, so termination is the assertion
	f.bus.PublishSync(NewEvent("trades.updated", "test",
		map[string]interface{}{"symbol": "{symbol}"}))

	_, ok := f.caches.Get(CacheQueryResults, "t:{symbol}:20:0")
	assert.False(t, ok)
	_, ok = f.caches.Get(CacheQueryResults, "t:aapl:20:0")
	assert.True(t, ok)
}

func TestInvalidator_UnresolvedPlaceholderKeepsLaterOnes(t *testing.T) {
	f := newInvFixture(t)

	f.caches.Put(CacheQueryResults, "t:{ghost}:aapl:1", 1, time.Minute)

	f.inv.Register(InvalidationRule{
		EventType: "trades.updated",
		Patterns:  []string{"t:{ghost}:{symbol}:*"},
	})
	f.bus.PublishSync(NewEvent("trades.updated", "test",
		map[string]interface{}{"symbol": "aapl"}))

	_, ok := f.caches.Get(CacheQueryResults, "t:{ghost}:aapl:1")
	assert.False(t, ok, "placeholders after an unresolved one must still resolve")
}

func TestInvalidator_ConditionGate(t *testing.T) {
	f := newInvFixture(t)

	f.caches.Put(CacheQueryResults, "trades:1", 1, time.Minute)

	f.inv.Register(InvalidationRule{
		EventType: "trades.updated",
		Patterns:  []string{"trades:*"},
		Condition: "symbol = MSFT",
	})

	f.bus.PublishSync(NewEvent("trades.updated", "test",
		map[string]interface{}{"symbol": "AAPL"}))
	_, ok := f.caches.Get(CacheQueryResults, "trades:1")
	assert.True(t, ok, "condition not met, entry must survive")

	f.bus.PublishSync(NewEvent("trades.updated", "test",
		map[string]interface{}{"symbol": "MSFT"}))
	_, ok = f.caches.Get(CacheQueryResults, "trades:1")
	assert.False(t, ok)
}

func TestInvalidator_DelayedPurge(t *testing.T) {
	f := newInvFixture(t)

	f.caches.Put(CacheQueryResults, "trades:1", 1, time.Minute)
	f.inv.Register(InvalidationRule{
		EventType: "trades.updated",
		Patterns:  []string{"trades:*"},
		DelayMs:   30,
	})
	f.bus.PublishSync(NewEvent("trades.updated", "test", nil))

	_, ok := f.caches.Get(CacheQueryResults, "trades:1")
	assert.True(t, ok, "purge must not run before the delay")

	require.Eventually(t, func() bool {
		_, ok := f.caches.Get(CacheQueryResults, "trades:1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestInvalidator_RegisterQueryRulesShorthand(t *testing.T) {
	f := newInvFixture(t)

	g := validGeneration()
	q := g.Queries["users"]
	q.Cache = &CacheSpec{Enabled: true, InvalidateOn: []string{"users.updated"}}
	g.Queries["users"] = q

	f.inv.RegisterQueryRules(g)
	assert.Equal(t, 1, f.inv.RuleCount())

	f.caches.Put(CacheQueryResults, "users:id=1", 1, time.Minute)
	f.bus.PublishSync(NewEvent("users.updated", "test", nil))

	_, ok := f.caches.Get(CacheQueryResults, "users:id=1")
	assert.False(t, ok)
}

func TestInvalidator_ResetKeepsSingleSubscription(t *testing.T) {
	f := newInvFixture(t)

	rule := InvalidationRule{EventType: "trades.updated", Patterns: []string{"trades:*"}}
	f.inv.Register(rule)
	f.inv.Reset()
	f.inv.Register(rule)

	assert.Equal(t, 1, f.inv.RuleCount())
	assert.Equal(t, 1, f.bus.ListenerCount("trades.updated"))
}

func TestEvalCondition(t *testing.T) {
	e := NewEvent("trades.updated", "test", map[string]interface{}{
		"symbol": "AAPL",
		"count":  42,
		"weird":  "${data.weird}",
	})

	cases := []struct {
		cond string
		want bool
	}{
		{"symbol = ${event.symbol}", true},
		{"symbol == AAPL", true},
		{"symbol = MSFT", false},
		{"symbol != MSFT", true},
		{"${data.count} > 10", true},
		{"count > 100", false},
		{"count >= 42", true},
		{"count <= 41", false},
		{"count < 43", true},
		{"AAPL = ${event.symbol}", true},
		// a data value embedding its own reference resolves once and
		// compares literally
		{"weird = ${data.weird}", true},
		// lexicographic fallback for non-numeric operands
		{"symbol > AAA", true},
		// malformed conditions evaluate to false
		{"symbol", false},
		{"= AAPL", false},
		{"symbol =", false},
		{"", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, EvalCondition(c.cond, e), "%q", c.cond)
	}
}
