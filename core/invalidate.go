package core

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Invalidator turns events into cache purges. Each registered rule
// watches one event type; on a matching event its patterns are resolved
// against the event data and removed from every cache, optionally after
// a delay.
type Invalidator struct {
	bus    *EventBus
	caches *CacheManager
	log    *zap.SugaredLogger

	mu         sync.Mutex
	rules      map[string][]InvalidationRule // by event type
	subscribed map[string]bool               // bus listener exists for type
	timers     []*time.Timer
	closed     bool
}

// NewInvalidator creates an invalidation engine over the bus and caches.
func NewInvalidator(bus *EventBus, caches *CacheManager, log *zap.SugaredLogger) *Invalidator {
	return &Invalidator{
		bus:        bus,
		caches:     caches,
		log:        log,
		rules:      make(map[string][]InvalidationRule),
		subscribed: make(map[string]bool),
	}
}

// Register adds a rule. Only the first rule for an event type subscribes
// a bus listener; later rules reuse it.
func (inv *Invalidator) Register(rule InvalidationRule) {
	inv.mu.Lock()
	inv.rules[rule.EventType] = append(inv.rules[rule.EventType], rule)
	subscribe := !inv.subscribed[rule.EventType]
	inv.subscribed[rule.EventType] = true
	inv.mu.Unlock()

	if subscribe {
		et := rule.EventType
		inv.bus.Subscribe(et, func(e Event) { inv.onEvent(et, e) })
	}

	inv.log.Infow("invalidation rule registered",
		"eventType", rule.EventType,
		"patterns", rule.Patterns,
		"condition", rule.Condition,
		"delayMs", rule.DelayMs,
		"async", rule.Async)
}

// RegisterQueryRules registers every invalidation rule declared by the
// queries of a generation, including the shorthand invalidateOn list.
func (inv *Invalidator) RegisterQueryRules(g *Generation) {
	for _, name := range sortedKeys(g.Queries) {
		q := g.Queries[name]
		if q.Cache == nil {
			continue
		}
		for _, et := range q.Cache.InvalidateOn {
			inv.Register(InvalidationRule{
				EventType: et,
				Patterns:  []string{q.Name + ":*"},
			})
		}
		for _, rule := range q.Cache.InvalidationRules {
			inv.Register(rule)
		}
	}
}

// RuleCount returns how many rules are registered in total.
func (inv *Invalidator) RuleCount() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	n := 0
	for _, rs := range inv.rules {
		n += len(rs)
	}
	return n
}

// Reset drops every registered rule, keeping bus subscriptions in place
// so a configuration reload can re-register without double delivery.
// A listener whose event type has no rules after the reload stays
// subscribed as a no-op (onEvent finds zero rules) and is reused if a
// later generation brings the type back; the set is bounded by the
// distinct event types ever configured.
func (inv *Invalidator) Reset() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.rules = make(map[string][]InvalidationRule)
}

// Close cancels pending delayed purges.
func (inv *Invalidator) Close() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.closed = true
	for _, t := range inv.timers {
		t.Stop()
	}
	inv.timers = nil
}

// onEvent runs every rule registered for the event type.
func (inv *Invalidator) onEvent(eventType string, e Event) {
	inv.mu.Lock()
	rules := make([]InvalidationRule, len(inv.rules[eventType]))
	copy(rules, inv.rules[eventType])
	inv.mu.Unlock()

	for _, rule := range rules {
		inv.apply(rule, e)
	}
}

// apply evaluates one rule against one event.
func (inv *Invalidator) apply(rule InvalidationRule, e Event) {
	if rule.Condition != "" && !EvalCondition(rule.Condition, e) {
		inv.log.Debugw("invalidation condition not met",
			"eventType", e.Type, "condition", rule.Condition)
		return
	}

	patterns := make([]string, 0, len(rule.Patterns))
	for _, p := range rule.Patterns {
		patterns = append(patterns, inv.resolvePattern(p, e))
	}

	run := func() { inv.purge(patterns, e.Type) }

	if rule.DelayMs > 0 {
		inv.schedule(time.Duration(rule.DelayMs)*time.Millisecond, run)
		return
	}
	if rule.Async {
		go run()
		return
	}
	run()
}

// schedule queues a delayed purge, remembering the timer for Close.
func (inv *Invalidator) schedule(d time.Duration, run func()) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.closed {
		return
	}
	inv.timers = append(inv.timers, time.AfterFunc(d, run))
}

// purge removes the resolved patterns from every cache.
func (inv *Invalidator) purge(patterns []string, eventType string) {
	for _, p := range patterns {
		n := inv.caches.RemovePatternAll(p)
		inv.log.Infow("cache entries invalidated",
			"eventType", eventType, "pattern", p, "removed", n)
	}
}

// resolvePattern substitutes {name} placeholders from the event data.
// Placeholders with no matching data key stay intact with a warning.
// The pattern is scanned once; substituted values are never rescanned,
// so event data containing braces cannot re-trigger substitution.
func (inv *Invalidator) resolvePattern(pattern string, e Event) string {
	var b strings.Builder
	rest := pattern
	for {
		i := strings.Index(rest, "{")
		if i < 0 {
			b.WriteString(rest)
			return b.String()
		}
		j := strings.Index(rest[i:], "}")
		if j < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:i])

		name := rest[i+1 : i+j]
		if v, ok := e.Data[name]; ok {
			b.WriteString(stringify(v))
		} else {
			inv.log.Warnw("unresolved invalidation placeholder",
				"pattern", pattern, "placeholder", name, "eventType", e.Type)
			b.WriteString(rest[i : i+j+1])
		}
		rest = rest[i+j+1:]
	}
}

// condition operators, multi-character ones first so "!=" never parses
// as "=".
var condOps = []string{">=", "<=", "==", "!=", "=", ">", "<"}

// EvalCondition evaluates a single `L OP R` comparison against an event.
// Operands may contain ${event.key} or ${data.key} substitutions; a bare
// operand that names an event data key resolves to its value. Ordering
// operators compare numerically when both sides parse, lexicographically
// otherwise. Malformed conditions evaluate to false.
func EvalCondition(cond string, e Event) bool {
	op, l, r, ok := splitCondition(cond)
	if !ok {
		return false
	}

	lv := resolveOperand(l, e)
	rv := resolveOperand(r, e)

	switch op {
	case "=", "==":
		return lv == rv
	case "!=":
		return lv != rv
	}

	ln, lerr := strconv.ParseFloat(lv, 64)
	rn, rerr := strconv.ParseFloat(rv, 64)
	numeric := lerr == nil && rerr == nil

	switch op {
	case ">":
		if numeric {
			return ln > rn
		}
		return lv > rv
	case "<":
		if numeric {
			return ln < rn
		}
		return lv < rv
	case ">=":
		if numeric {
			return ln >= rn
		}
		return lv >= rv
	case "<=":
		if numeric {
			return ln <= rn
		}
		return lv <= rv
	}
	return false
}

// splitCondition finds the leftmost operator and splits the condition.
func splitCondition(cond string) (op, l, r string, ok bool) {
	best := -1
	for _, candidate := range condOps {
		i := strings.Index(cond, candidate)
		if i < 0 {
			continue
		}
		if best < 0 || i < best || (i == best && len(candidate) > len(op)) {
			best = i
			op = candidate
		}
	}
	if best <= 0 || best+len(op) >= len(cond) {
		return "", "", "", false
	}
	l = strings.TrimSpace(cond[:best])
	r = strings.TrimSpace(cond[best+len(op):])
	if l == "" || r == "" {
		return "", "", "", false
	}
	return op, l, r, true
}

// resolveOperand expands ${event.key} / ${data.key} references and bare
// data-key names to their event values. Single left-to-right scan;
// expanded values are not rescanned.
func resolveOperand(operand string, e Event) string {
	var b strings.Builder
	rest := operand
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			b.WriteString(rest)
			break
		}
		j := strings.Index(rest[i:], "}")
		if j < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])

		ref := rest[i+2 : i+j]
		key := strings.TrimPrefix(strings.TrimPrefix(ref, "event."), "data.")
		if v, ok := e.Data[key]; ok {
			b.WriteString(stringify(v))
		}
		rest = rest[i+j+1:]
	}

	out := b.String()
	if v, ok := e.Data[out]; ok {
		return stringify(v)
	}
	return out
}

// stringify renders an event data value for substitution and comparison.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
