package events

import (
	"sync"

	"github.com/ytget/playlist-converter/internal/model"
)

// DefaultBuffer is the per-subscriber channel size used when none is given
const DefaultBuffer = 256

// Subscription is a single observer attached to a Bus. Events published to
// it wait in an unbounded backlog until the observer reads them.
type Subscription struct {
	id     uint64
	events chan model.Event
	bus    *Bus

	mutex   sync.Mutex
	pending []model.Event
	wake    chan struct{}

	quit      chan struct{}
	quitOnce  sync.Once
	drain     chan struct{}
	drainOnce sync.Once
	done      chan struct{}
}

// Events returns the channel the observer reads from. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan model.Event {
	return s.events
}

// Done is closed when a SubscribeFunc callback goroutine has returned
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe detaches the observer. Events not yet read are discarded and
// the channel is closed.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
	s.quitOnce.Do(func() {
		close(s.quit)
	})
}

func (s *Subscription) enqueue(event model.Event) {
	s.mutex.Lock()
	s.pending = append(s.pending, event)
	s.mutex.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// finish ends the subscription once the backlog is delivered
func (s *Subscription) finish() {
	s.drainOnce.Do(func() {
		close(s.drain)
	})
}

func (s *Subscription) take() []model.Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	batch := s.pending
	s.pending = nil
	return batch
}

func (s *Subscription) backlog() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.pending)
}

// pump moves the backlog into the events channel in publish order
func (s *Subscription) pump() {
	defer close(s.events)

	for {
		batch := s.take()
		for _, event := range batch {
			select {
			case s.events <- event:
			case <-s.quit:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-s.wake:
		case <-s.drain:
			if s.backlog() == 0 {
				return
			}
		case <-s.quit:
			return
		}
	}
}

// Bus fans events out to subscribers in publish order
type Bus struct {
	subscribers map[uint64]*Subscription
	nextID      uint64
	closed      bool
	mutex       sync.Mutex
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[uint64]*Subscription),
	}
}

// Subscribe attaches a channel observer with the given channel size
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	sub := &Subscription{
		events: make(chan model.Event, buffer),
		bus:    b,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		drain:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		close(sub.events)
		return sub
	}

	b.nextID++
	sub.id = b.nextID
	b.subscribers[sub.id] = sub
	go sub.pump()
	return sub
}

// SubscribeFunc attaches an observer whose callback runs on its own goroutine
func (b *Bus) SubscribeFunc(buffer int, fn func(model.Event)) *Subscription {
	sub := b.Subscribe(buffer)
	go func() {
		defer close(sub.done)
		for event := range sub.events {
			fn(event)
		}
	}()
	return sub
}

// Publish hands event to every subscriber without blocking. A slow
// subscriber accumulates a backlog and never loses events.
func (b *Bus) Publish(event model.Event) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		sub.enqueue(event)
	}
}

// Len returns the number of attached subscribers
func (b *Bus) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.subscribers)
}

// Close detaches all subscribers. Each subscription still delivers what was
// published before Close, then its channel is closed. Publishing on a closed
// bus is a no-op.
func (b *Bus) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		sub.finish()
	}
}

func (b *Bus) remove(id uint64) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.subscribers, id)
}
