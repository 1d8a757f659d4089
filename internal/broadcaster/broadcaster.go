package broadcaster

import (
	"context"
	"sync"
	"sync/atomic"

	"auction-engine/internal/clock"
	"auction-engine/internal/models"
)

// DefaultBuffer is the per-subscriber queue size used when none is configured
const DefaultBuffer = 64

// Broadcaster fans auction events out to per-auction subscribers. Publish
// never blocks: a full subscriber queue drops its oldest event.
type Broadcaster struct {
	clock  clock.Clock
	buffer int

	mu     sync.Mutex
	topics map[string]*topic // key: auctionID -> live subscriptions
}

type topic struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New creates a Broadcaster whose subscriptions queue up to buffer events
func New(clk clock.Clock, buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		clock:  clk,
		buffer: buffer,
		topics: make(map[string]*topic),
	}
}

// Subscribe attaches a new subscriber to auctionID. The first event it sees
// is a synthetic connected event, followed by every later Publish in order.
func (b *Broadcaster) Subscribe(auctionID string) *Subscription {
	sub := &Subscription{
		b:         b,
		auctionID: auctionID,
		capacity:  b.buffer,
		notify:    make(chan struct{}, 1),
	}
	sub.push(models.ConnectedEvent(auctionID, b.clock.Now()))

	b.mu.Lock()
	t, ok := b.topics[auctionID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		b.topics[auctionID] = t
	}
	// register under b.mu so an empty topic cannot be removed underneath us
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()
	b.mu.Unlock()

	return sub
}

// Publish delivers ev to every current subscriber of its auction
func (b *Broadcaster) Publish(ev models.Event) {
	b.mu.Lock()
	t, ok := b.topics[ev.AuctionID]
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subs {
		sub.push(ev)
	}
}

// SubscriberCount returns the number of live subscriptions for auctionID
func (b *Broadcaster) SubscriberCount(auctionID string) int {
	b.mu.Lock()
	t, ok := b.topics[auctionID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Topics returns the number of auctions with at least one subscriber
func (b *Broadcaster) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

func (b *Broadcaster) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[sub.auctionID]
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.subs, sub)
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		delete(b.topics, sub.auctionID)
	}
}

// Subscription is one consumer's bounded view of an auction's events
type Subscription struct {
	b         *Broadcaster
	auctionID string
	capacity  int

	mu     sync.Mutex
	queue  []models.Event
	closed bool
	notify chan struct{}

	dropped atomic.Uint64
}

// AuctionID returns the auction this subscription follows
func (s *Subscription) AuctionID() string {
	return s.auctionID
}

// Dropped returns how many events were discarded because the queue was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) push(ev models.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.dropped.Add(1)
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the context ends, or the
// subscription is closed. It returns ok=false in the latter two cases.
func (s *Subscription) Next(ctx context.Context) (models.Event, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return models.Event{}, false
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = models.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, true
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.Event{}, false
		case <-s.notify:
		}
	}
}

// Close detaches the subscription and releases its queue. Safe to call twice.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	s.b.detach(s)
}
