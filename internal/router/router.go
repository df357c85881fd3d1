// Package router implements per-session Mailbox fan-out: one
// publisher (an Instance's reader loop), many subscribers, a bounded
// ring for late joiners, and a "sacrifice the slow" back-pressure
// policy.
package router

import (
	"sync"
)

// Chunk is one unit of delivery to a subscriber. Overrun is set
// instead of Data on the final message a dropped subscriber receives.
// EOS is set instead of Data on the final message every subscriber
// receives once the session's Instance is gone for good.
type Chunk struct {
	Data    []byte
	Overrun bool
	EOS     bool
}

// Subscription is returned by Subscribe. Chunks arrives in publish
// order; Close stops delivery and releases the subscriber slot.
type Subscription struct {
	Snapshot []byte
	Chunks   <-chan Chunk
	Close    func()
}

// Router owns every session's Mailbox. It is the single owner of
// subscriber lists; Instances merely call Publish and hold no
// reference back into the Router.
type Router struct {
	ringBytes          int
	subscriberCapacity int

	mu        sync.Mutex
	mailboxes map[string]*mailbox
}

// New creates a Router. ringBytes and subscriberCapacity are the
// per_session_ring_bytes and subscriber_channel_capacity tunables.
func New(ringBytes, subscriberCapacity int) *Router {
	return &Router{
		ringBytes:          ringBytes,
		subscriberCapacity: subscriberCapacity,
		mailboxes:          make(map[string]*mailbox),
	}
}

// Publish appends chunk to sessionID's ring (evicting the oldest bytes
// if full) and pushes it to every live subscriber, in the same order
// for all of them.
func (r *Router) Publish(sessionID string, chunk []byte) {
	r.mailbox(sessionID).publish(chunk)
}

// Subscribe returns the current ring snapshot and a channel of
// subsequent chunks. The returned Close function must be called when
// the caller is done (e.g. on connection close) to free the slot.
func (r *Router) Subscribe(sessionID string) Subscription {
	return r.mailbox(sessionID).subscribe(r.subscriberCapacity)
}

// Drop publishes an end-of-stream marker to every live subscriber, then
// removes a session's mailbox entirely and closes all of its subscriber
// channels. Called when an Instance's session is evicted, terminated,
// or exits on its own for good, so a streaming client sees a clean end
// instead of hanging and the mailbox doesn't leak.
func (r *Router) Drop(sessionID string) {
	r.mu.Lock()
	mb, ok := r.mailboxes[sessionID]
	delete(r.mailboxes, sessionID)
	r.mu.Unlock()
	if ok {
		mb.publishEOS()
		mb.closeAll()
	}
}

func (r *Router) mailbox(sessionID string) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, ok := r.mailboxes[sessionID]
	if !ok {
		mb = &mailbox{ringLimit: r.ringBytes, subscribers: make(map[uint64]chan Chunk)}
		r.mailboxes[sessionID] = mb
	}
	return mb
}

// mailbox is the per-session ring + subscriber set.
type mailbox struct {
	mu          sync.Mutex
	ring        []byte
	ringLimit   int
	subscribers map[uint64]chan Chunk
	nextSubID   uint64
}

func (m *mailbox) publish(chunk []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendRing(chunk)

	for id, ch := range m.subscribers {
		// One slot is kept free for the Overrun marker (when capacity
		// allows); all sends happen under m.mu, so the check cannot race.
		reserve := 1
		if cap(ch) < 2 {
			reserve = 0
		}
		if len(ch) < cap(ch)-reserve {
			ch <- Chunk{Data: chunk}
			continue
		}
		// Slow-drop: the channel is full, so this subscriber can't
		// keep up. Sacrifice it rather than block the publisher.
		select {
		case ch <- Chunk{Overrun: true}:
		default:
		}
		close(ch)
		delete(m.subscribers, id)
	}
}

// publishEOS best-effort delivers an EOS marker to every subscriber,
// dropping it the same way a slow subscriber's chunk would be dropped
// rather than blocking.
func (m *mailbox) publishEOS() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- Chunk{EOS: true}:
		default:
		}
	}
}

func (m *mailbox) appendRing(chunk []byte) {
	m.ring = append(m.ring, chunk...)
	if excess := len(m.ring) - m.ringLimit; excess > 0 {
		m.ring = m.ring[excess:]
	}
}

func (m *mailbox) subscribe(capacity int) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]byte, len(m.ring))
	copy(snapshot, m.ring)

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Chunk, capacity)
	m.subscribers[id] = ch

	closeOnce := sync.Once{}
	closeFn := func() {
		closeOnce.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if existing, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(existing)
			}
		})
	}

	return Subscription{Snapshot: snapshot, Chunks: ch, Close: closeFn}
}

func (m *mailbox) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
}
