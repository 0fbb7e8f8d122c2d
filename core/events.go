package core

import (
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventConfigChanged fires on every management mutation of the
// configuration store.
const EventConfigChanged = "configuration.changed"

// Event is one typed notification with free-form payload data.
type Event struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType, source string, data map[string]interface{}) Event {
	return Event{Type: eventType, Source: source, Data: data, Timestamp: time.Now()}
}

// Listener consumes events of one subscribed type.
type Listener func(Event)

// EventBus fans events out to per-type listeners. Synchronous publishes
// run on the caller's goroutine; asynchronous publishes go through a
// small daemon worker pool. A panicking listener never aborts the
// fan-out.
type EventBus struct {
	log *zap.SugaredLogger

	mu        sync.RWMutex
	listeners map[string][]Listener

	queue chan Event
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// asyncWorkers is the size of the async dispatch pool.
const asyncWorkers = 4

// NewEventBus creates a bus and starts its async workers.
func NewEventBus(log *zap.SugaredLogger) *EventBus {
	b := &EventBus{
		log:       log,
		listeners: make(map[string][]Listener),
		queue:     make(chan Event, 256),
		done:      make(chan struct{}),
	}
	for i := 0; i < asyncWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

// Subscribe registers a listener for one event type.
func (b *EventBus) Subscribe(eventType string, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[eventType] = append(b.listeners[eventType], l)
}

// ListenerCount returns how many listeners are registered for a type.
func (b *EventBus) ListenerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[eventType])
}

// PublishSync delivers the event to every listener on the caller's
// goroutine.
func (b *EventBus) PublishSync(e Event) {
	b.dispatch(e)
}

// PublishAsync queues the event for the worker pool. When the queue is
// full the event is delivered inline rather than dropped.
func (b *EventBus) PublishAsync(e Event) {
	select {
	case b.queue <- e:
	default:
		b.log.Warnw("event queue full, delivering inline", "type", e.Type)
		b.dispatch(e)
	}
}

// Close stops the worker pool after draining queued events.
func (b *EventBus) Close() {
	b.once.Do(func() {
		close(b.done)
		b.wg.Wait()
	})
}

// worker drains the async queue.
func (b *EventBus) worker() {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.queue:
			b.dispatch(e)
		case <-b.done:
			// drain whatever is left before exiting
			for {
				select {
				case e := <-b.queue:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

// dispatch fans the event out with per-listener panic isolation.
func (b *EventBus) dispatch(e Event) {
	b.mu.RLock()
	ls := b.listeners[e.Type]
	b.mu.RUnlock()

	for _, l := range ls {
		b.deliver(e, l)
	}
}

// deliver invokes one listener, catching panics.
func (b *EventBus) deliver(e Event, l Listener) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("event listener panic",
				"type", e.Type,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	l(e)
}
