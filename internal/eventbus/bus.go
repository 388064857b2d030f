// Package eventbus is a non-blocking in-memory fanout used to tell observers
// (ops status page, operator notices) what the rotation loop did.
package eventbus

import (
	"sync"
	"time"
)

// Event types published by descbot.
const (
	TypeApplied      = "rotation.applied"
	TypeApplyFailed  = "rotation.apply_failed"
	TypePersistError = "rotation.persist_failed"
	TypeCommand      = "command.executed"
	TypeReloaded     = "descriptions.reloaded"
)

// Event is a small, JSON-friendly signal.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Bus never blocks publishers: a subscriber whose buffer is full misses events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus { return &memBus{subs: map[*subscriber]struct{}{}} }

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) offer(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

type memBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		s.offer(e)
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			s.close()
		})
	}
}

// Recent keeps the last n events from a subscription. It is what the ops
// /status endpoint shows.
type Recent struct {
	mu     sync.Mutex
	n      int
	events []Event
}

func NewRecent(n int) *Recent {
	if n <= 0 {
		n = 20
	}
	return &Recent{n: n}
}

// Consume drains ch until it is closed.
func (r *Recent) Consume(ch <-chan Event) {
	for e := range ch {
		r.Add(e)
	}
}

func (r *Recent) Add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	if len(r.events) > r.n {
		r.events = append([]Event(nil), r.events[len(r.events)-r.n:]...)
	}
	r.mu.Unlock()
}

// List returns events newest first.
func (r *Recent) List() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	for i, e := range r.events {
		out[len(r.events)-1-i] = e
	}
	return out
}
