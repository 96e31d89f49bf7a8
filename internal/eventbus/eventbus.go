package eventbus

import (
	"sync"
	"time"
)

// Bus is a type-safe publish/subscribe bus for events of type T.
// Delivery is non-blocking: slow subscribers drop events rather than
// stalling the tick loop.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   []chan T
	closed bool
}

// New creates a new Bus.
func New[T any]() *Bus[T] { return &Bus[T]{} }

// Publish sends the event to all subscribers.
func (b *Bus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns its channel.
func (b *Bus[T]) Subscribe() <-chan T {
	ch := make(chan T, 8)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Close closes the bus and all subscriber channels.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.mu.Unlock()
}

// GridEvent reports a confirmed grid availability transition.
type GridEvent struct {
	Time       time.Time
	Available  bool
	Confidence float64
}

// GuardrailEvent reports an overnight survivability level change.
type GuardrailEvent struct {
	Time    time.Time
	Level   string
	SoCPct  float64
	Message string
}

// PlanEvent reports a newly built dispatch plan.
type PlanEvent struct {
	Time        time.Time
	Windows     int
	WorkMode    string
	UseGrid     bool
	Critical    bool
	RequiredKWh float64
}

// CommandEvent reports a completed write sequence against one inverter.
type CommandEvent struct {
	Time       time.Time
	InverterID string
	Written    int
	Cleared    bool
	Errors     int
}

// Events groups the buses the scheduler publishes on.
type Events struct {
	Grid      *Bus[GridEvent]
	Guardrail *Bus[GuardrailEvent]
	Plan      *Bus[PlanEvent]
	Command   *Bus[CommandEvent]
}

// NewEvents creates the event buses.
func NewEvents() *Events {
	return &Events{
		Grid:      New[GridEvent](),
		Guardrail: New[GuardrailEvent](),
		Plan:      New[PlanEvent](),
		Command:   New[CommandEvent](),
	}
}

// Close closes all buses.
func (e *Events) Close() {
	e.Grid.Close()
	e.Guardrail.Close()
	e.Plan.Close()
	e.Command.Close()
}
