// Package eventbus is a small in-process fanout for operational signals.
// Publishing never blocks; a subscriber that falls behind loses events
// rather than stalling the publisher.
package eventbus

import (
	"sync"
	"time"
)

// Well-known event types published by the bot's services.
const (
	EventTaskScheduled  = "task.scheduled"
	EventTaskFired      = "task.fired"
	EventTaskCanceled   = "task.canceled"
	EventSessionStarted = "session.started"
	EventSessionEnded   = "session.ended"
	EventConfigReloaded = "config.reloaded"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It runs no background goroutines; Publish
// does all delivery inline.
func New() Bus {
	return &fanout{}
}

// subscriber pairs the delivery channel with a closed flag so Publish never
// races a concurrent unsubscribe into sending on a closed channel.
type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default: // full buffer drops the event
	}
}

func (s *subscriber) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type fanout struct {
	mu   sync.RWMutex
	subs []*subscriber
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(e)
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		// Copy-on-remove: a concurrent Publish may still be ranging over the
		// old slice, so never mutate it in place.
		next := make([]*subscriber, 0, len(b.subs))
		for _, cur := range b.subs {
			if cur != s {
				next = append(next, cur)
			}
		}
		b.subs = next
		b.mu.Unlock()
		s.shut()
	}
	return s.ch, unsub
}
