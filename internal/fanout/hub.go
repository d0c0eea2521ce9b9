// Package fanout implements the Fan-out Hub: one producer (a Subprocess
// Supervisor's stdout) delivered to N subscribers (downstream HTTP
// response bodies) through a ring buffer of byte chunks, with backpressure
// isolation — a slow subscriber is detached, never allowed to block the
// producer or other subscribers.
package fanout

import (
	"sync"

	"gatewayd/internal/metrics"
)

// JoinMode selects where a new subscriber's cursor starts.
type JoinMode int

const (
	// JoinLive starts at the current head (preview clients).
	JoinLive JoinMode = iota
	// JoinReplay starts at the oldest buffered chunk (tuner clients
	// reconnecting after a recovery).
	JoinReplay
)

// DetachReason explains why a subscriber's channel was closed by the hub
// rather than by the subscriber itself.
type DetachReason string

const (
	DetachSlowSubscriber DetachReason = "slow_subscriber"
	DetachHubClosed      DetachReason = "hub_closed"
)

// defaultRingBytes is the default ring capacity from §4.6 (16 MiB).
const defaultRingBytes = 16 * 1024 * 1024

// subscriberQueueDepth bounds how many chunks may be queued for a single
// subscriber before it is considered slow. It is independent of ring
// capacity: the ring bounds total buffered bytes for replay join, this
// bounds per-subscriber delivery lag.
const subscriberQueueDepth = 256

// chunk is one producer write, tagged with its position in the ring for
// detecting how far a subscriber has fallen behind.
type chunk struct {
	seq  uint64
	data []byte
}

// Hub fans a single producer's byte stream out to N subscribers.
type Hub struct {
	mu          sync.Mutex
	ringBytes   int
	ring        []chunk
	ringSize    int // bytes currently buffered
	nextSeq     uint64
	subscribers map[*subscription]struct{}
	closed      bool
}

// subscription is a subscriber's view into the Hub: a channel the producer
// (or the Hub itself, on detach) sends chunks into, plus the cursor state
// needed to detect falling too far behind.
type subscription struct {
	ch       chan []byte
	detached chan DetachReason
	lastSeq  uint64 // highest seq already delivered or skipped
}

// Subscription is the subscriber-facing handle returned by Subscribe.
type Subscription struct {
	// Chan delivers chunks in order. It is closed when the subscriber is
	// detached or the Hub is closed; Detached then reports why.
	Chan <-chan []byte
	sub  *subscription
	hub  *Hub
}

// Detached reports the reason the subscription's channel was closed by the
// Hub, or zero-value if it is still open or the caller hasn't read it.
func (s *Subscription) Detached() DetachReason {
	select {
	case r := <-s.sub.detached:
		return r
	default:
		return ""
	}
}

// New creates a Hub with the given ring capacity in bytes (0 uses the
// §4.6 default of 16 MiB).
func New(ringBytes int) *Hub {
	if ringBytes <= 0 {
		ringBytes = defaultRingBytes
	}
	return &Hub{
		ringBytes:   ringBytes,
		subscribers: make(map[*subscription]struct{}),
	}
}

// Publish delivers a chunk from the producer. It never blocks: subscribers
// whose delivery channel is full are detached rather than stalling the
// producer or any other subscriber. Chunk boundaries are preserved exactly
// as given (the Supervisor's natural stdout read sizes).
func (h *Hub) Publish(data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	seq := h.nextSeq
	h.nextSeq++
	h.appendRing(chunk{seq: seq, data: cp})
	subs := make([]*subscription, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- cp:
			s.lastSeq = seq
		default:
			h.detach(s, DetachSlowSubscriber)
		}
	}
}

func (h *Hub) appendRing(c chunk) {
	h.ring = append(h.ring, c)
	h.ringSize += len(c.data)
	for h.ringSize > h.ringBytes && len(h.ring) > 1 {
		h.ringSize -= len(h.ring[0].data)
		h.ring = h.ring[1:]
	}
}

// Subscribe attaches a new subscriber. mode selects whether it starts from
// the live head or replays the ring's buffered contents first.
func (h *Hub) Subscribe(mode JoinMode) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscription{
		ch:       make(chan []byte, subscriberQueueDepth),
		detached: make(chan DetachReason, 1),
	}

	if h.closed {
		close(sub.ch)
		sub.detached <- DetachHubClosed
		return &Subscription{Chan: sub.ch, sub: sub, hub: h}
	}

	if mode == JoinReplay {
		// Ring contents may exceed the subscriber queue depth; drop the
		// oldest so the replayed tail stays contiguous with live chunks
		// and Subscribe never blocks.
		replay := h.ring
		if len(replay) > subscriberQueueDepth {
			replay = replay[len(replay)-subscriberQueueDepth:]
		}
		for _, c := range replay {
			sub.ch <- c.data
			sub.lastSeq = c.seq
		}
	} else if h.nextSeq > 0 {
		sub.lastSeq = h.nextSeq - 1
	}

	h.subscribers[sub] = struct{}{}
	return &Subscription{Chan: sub.ch, sub: sub, hub: h}
}

// Unsubscribe detaches a subscriber voluntarily; its channel is closed
// with no DetachReason (the zero value), distinguishing a clean leave from
// a forced detach.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subscribers[s.sub]
	delete(h.subscribers, s.sub)
	h.mu.Unlock()
	if ok {
		close(s.sub.ch)
	}
}

func (h *Hub) detach(s *subscription, reason DetachReason) {
	h.mu.Lock()
	_, ok := h.subscribers[s]
	delete(h.subscribers, s)
	h.mu.Unlock()
	if ok {
		s.detached <- reason
		close(s.ch)
		metrics.SubscribersDetached.WithLabelValues(string(reason)).Inc()
	}
}

// Close detaches all subscribers and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscription, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.subscribers = make(map[*subscription]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		s.detached <- DetachHubClosed
		close(s.ch)
	}
}

// SubscriberCount returns the current number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

