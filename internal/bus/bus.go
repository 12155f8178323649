package bus

import (
	"log/slog"
	"time"

	"github.com/duchuynh/tradesim/internal/metrics"
)

// Handler processes one delivered event.
type Handler func(Event)

// Subscription identifies one registered handler.
type Subscription struct {
	id  uint64
	typ EventType
}

// Bus is a synchronous in-process event bus. Publish invokes every
// handler registered for the type, in subscription order, before
// returning. Single-threaded by construction: callers replay bars from
// one goroutine, so no locking is needed on the dispatch path.
type Bus struct {
	logger   *slog.Logger
	recorder *metrics.Recorder
	nextID   uint64
	handlers map[EventType][]entry
}

type entry struct {
	id uint64
	fn Handler
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		nextID:   1,
		handlers: make(map[EventType][]entry),
	}
}

// SetRecorder attaches an optional metrics recorder counting published
// events by type.
func (b *Bus) SetRecorder(r *metrics.Recorder) {
	b.recorder = r
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(typ EventType, fn Handler) Subscription {
	id := b.nextID
	b.nextID++
	b.handlers[typ] = append(b.handlers[typ], entry{id: id, fn: fn})
	return Subscription{id: id, typ: typ}
}

// Unsubscribe removes a handler. Removing during a publish round does
// not affect delivery within that round.
func (b *Bus) Unsubscribe(sub Subscription) {
	entries := b.handlers[sub.typ]
	for i, e := range entries {
		if e.id == sub.id {
			// Copy-on-remove so a slice snapshot taken by an
			// in-flight Publish keeps its original entries.
			next := make([]entry, 0, len(entries)-1)
			next = append(next, entries[:i]...)
			next = append(next, entries[i+1:]...)
			b.handlers[sub.typ] = next
			return
		}
	}
}

// Publish delivers an event to all current subscribers of its type.
func (b *Bus) Publish(typ EventType, source string, payload any) {
	ev := Event{
		Type:      typ,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	if b.recorder != nil {
		b.recorder.RecordEvent(typ.String())
	}

	// Snapshot so handlers can subscribe/unsubscribe mid-round.
	entries := b.handlers[typ]
	for _, e := range entries {
		e.fn(ev)
	}
}

// SubscriberCount returns the number of handlers for a type.
func (b *Bus) SubscriberCount(typ EventType) int {
	return len(b.handlers[typ])
}
