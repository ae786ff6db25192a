package store

import (
	"sync"
)

// ChangeType is the kind of mutation a change event describes.
type ChangeType string

const (
	ChangeUpsert ChangeType = "upsert"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is published after each committed document mutation.
type ChangeEvent struct {
	Type ChangeType
	ID   string
	Kind Kind
}

// Subscription receives change events. Delivery is at-least-once and never blocks the
// writer: events queue per subscriber until the consumer reads them.
type Subscription struct {
	feed *changeFeed
	ch   chan ChangeEvent

	mu      sync.Mutex
	pending []ChangeEvent
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Events returns the channel events are delivered on. It is closed by Close.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.ch
}

// Close stops delivery and releases the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.remove(s)
		close(s.done)
	})
}

func (s *Subscription) push(event ChangeEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, event)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events to the consumer channel.
func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, event := range batch {
			select {
			case s.ch <- event:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

type changeFeed struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newChangeFeed() *changeFeed {
	return &changeFeed{subs: make(map[*Subscription]struct{})}
}

func (f *changeFeed) subscribe() *Subscription {
	sub := &Subscription{
		feed: f,
		ch:   make(chan ChangeEvent),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
		close(sub.ch)
		return sub
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	go sub.pump()
	return sub
}

func (f *changeFeed) publish(event ChangeEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs {
		sub.push(event)
	}
}

func (f *changeFeed) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, sub)
}

func (f *changeFeed) close() {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.closed = true
	f.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// Subscribe returns a subscription to document change events.
func (s *Store) Subscribe() *Subscription {
	return s.feed.subscribe()
}
