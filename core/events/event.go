package events

import (
	"sync"

	"agentvault/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves into the
// broadcastable attribute form consumed by the journal and websocket stream.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer holds events produced inside a ledger transaction until the
// transaction commits. Discarded transactions never reach subscribers.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	if b == nil {
		return nil
	}
	return append([]Event(nil), b.pending...)
}

// Flush forwards the buffered events to the target emitter and resets the
// buffer.
func (b *Buffer) Flush(target Emitter) {
	if b == nil {
		return
	}
	if target != nil {
		for _, evt := range b.pending {
			target.Emit(evt)
		}
	}
	b.pending = nil
}

// Reset drops buffered events.
func (b *Buffer) Reset() {
	if b != nil {
		b.pending = nil
	}
}

// Fanout delivers each event to every registered emitter.
type Fanout struct {
	mu      sync.RWMutex
	targets []Emitter
}

// NewFanout constructs a fanout over the supplied emitters.
func NewFanout(targets ...Emitter) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		f.Add(t)
	}
	return f
}

// Add registers another emitter.
func (f *Fanout) Add(target Emitter) {
	if f == nil || target == nil {
		return
	}
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(evt Event) {
	if f == nil {
		return
	}
	f.mu.RLock()
	targets := append([]Emitter(nil), f.targets...)
	f.mu.RUnlock()
	for _, t := range targets {
		t.Emit(evt)
	}
}
