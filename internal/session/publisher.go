package session

import (
	"sync"

	"github.com/dropDatabas3/authbridge/internal/identity"
)

// Publisher broadcasts the latest Session to every observer. A late
// subscriber immediately receives the current value; a slow subscriber has
// its pending value replaced rather than queued, so no observer ever holds
// two values both claiming to be current and the publisher never blocks.
type Publisher struct {
	mu   sync.Mutex
	last identity.Session
	subs map[int]chan identity.Session
	next int
}

// NewPublisher seeds the broadcast with the initial session value.
func NewPublisher(initial identity.Session) *Publisher {
	return &Publisher{
		last: initial,
		subs: make(map[int]chan identity.Session),
	}
}

// Publish hands s to every subscriber, latest-wins.
func (p *Publisher) Publish(s identity.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = s
	for _, ch := range p.subs {
		// Drop the stale pending value, if any, then deliver.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Last returns the most recently published session.
func (p *Publisher) Last() identity.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Subscribe registers an observer. The returned channel carries the current
// value immediately and each later transition (latest-wins). The cancel
// func unregisters and closes the channel; it is safe to call twice.
func (p *Publisher) Subscribe() (<-chan identity.Session, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	ch := make(chan identity.Session, 1)
	ch <- p.last
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
	return ch, cancel
}
