// Package bus is the in-process event fan-out: mutating broker
// operations publish, stream subscribers consume. Delivery is
// at-least-once with bounded buffering; a slow subscriber loses events
// and learns about it from a gap marker, the publisher never waits.
package bus

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentmesh/pkg/protocol"
)

// DefaultQueueSize is the per-subscriber delivery buffer.
const DefaultQueueSize = 1024

// Event is one published occurrence, before per-subscriber sequencing.
type Event struct {
	Kind       string
	EntityType string
	EntityID   string
	ChannelID  string
	Payload    any
	Timestamp  time.Time
}

// Delivery is an event as seen by one subscriber: the event plus that
// subscriber's monotonic sequence number.
type Delivery struct {
	Seq uint64
	Event
}

// MatchFunc decides whether a subscriber receives an event. A nil match
// receives everything.
type MatchFunc func(Event) bool

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscription is one subscriber's bounded delivery queue.
type Subscription struct {
	id    string
	match MatchFunc
	ch    chan Delivery

	mu      sync.Mutex
	seq     uint64
	dropped uint64
	closed  bool
}

// Subscribe registers a subscriber. queueSize <= 0 uses the default.
// The returned subscription must be released with Unsubscribe.
func (b *Bus) Subscribe(id string, match MatchFunc, queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	sub := &Subscription{
		id:    id,
		match: match,
		ch:    make(chan Delivery, queueSize),
	}

	b.mu.Lock()
	if prev, ok := b.subs[id]; ok {
		prev.close()
	}
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish delivers an event to every matching subscriber. It never
// blocks: a full queue drops the event and arms a gap marker.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.match == nil || sub.match(e) {
			sub.deliver(e)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// C is the subscriber's receive channel. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan Delivery { return s.ch }

// Seq returns the last sequence number handed out.
func (s *Subscription) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// deliver enqueues one event. If earlier events were dropped, a gap
// marker must land first; while the queue stays full everything keeps
// counting into the gap.
func (s *Subscription) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if s.dropped > 0 {
		gap := Delivery{
			Seq: s.seq + 1,
			Event: Event{
				Kind:      protocol.EventGap,
				Payload:   protocol.GapPayload{Dropped: s.dropped},
				Timestamp: time.Now(),
			},
		}
		select {
		case s.ch <- gap:
			s.seq++
			s.dropped = 0
		default:
			s.dropped++
			return
		}
	}

	select {
	case s.ch <- Delivery{Seq: s.seq + 1, Event: e}:
		s.seq++
	default:
		s.dropped++
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
