// Package notify fans transfer state changes out to the role-scoped
// clients of a call. Every new subscriber receives the current snapshot
// first, then subsequent transitions in version order; slow consumers never
// block publication to others.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warmline/warmline/types"
)

// Subscriber is one client's view of a call's transfer state.
type Subscriber struct {
	id     string
	callID string
	role   types.Role

	ch chan *types.TransferState
	// lastVersion suppresses duplicate deliveries when a transition lands
	// between the snapshot read and stream registration.
	lastVersion uint64
	seeded      bool
}

// States returns the ordered stream of transfer states. The channel is
// closed when the subscriber is removed or the call is closed.
func (s *Subscriber) States() <-chan *types.TransferState { return s.ch }

// Role returns the role this subscriber registered with.
func (s *Subscriber) Role() types.Role { return s.role }

// Hub delivers transfer state changes to subscribers with bounded
// per-subscriber queues and drop-oldest overflow semantics. A client that
// lost events still converges: versions are strictly increasing per
// subscriber and the latest state always lands.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[string]*Subscriber
	buffer int
	logger *zap.Logger
	closed bool

	dropped atomic.Int64
}

// NewHub creates a hub. buffer bounds each subscriber queue.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[string]map[string]*Subscriber),
		buffer: buffer,
		logger: logger.With(zap.String("component", "notify_hub")),
	}
}

// Subscribe registers a client for a call's state stream. The snapshot, when
// non-nil, is queued before the subscriber is returned, so the first receive
// always observes the live state, never a stale "none". Callers must obtain
// the snapshot and call Subscribe under the same per-call serialization that
// guards Publish, otherwise a transition can slip between the two.
func (h *Hub) Subscribe(callID string, role types.Role, snapshot *types.TransferState) *Subscriber {
	sub := &Subscriber{
		id:     uuid.NewString(),
		callID: callID,
		role:   role,
		ch:     make(chan *types.TransferState, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.ch)
		return sub
	}

	if snapshot != nil {
		sub.ch <- snapshot
		sub.lastVersion = snapshot.Version
		sub.seeded = true
	}

	if h.subs[callID] == nil {
		h.subs[callID] = make(map[string]*Subscriber)
	}
	h.subs[callID][sub.id] = sub

	h.logger.Debug("subscriber added",
		zap.String("call_id", callID),
		zap.String("role", string(role)),
	)
	return sub
}

// Unsubscribe removes a subscriber and closes its stream. Safe to call more
// than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	callSubs, ok := h.subs[sub.callID]
	if !ok {
		return
	}
	if _, ok := callSubs[sub.id]; !ok {
		return
	}
	delete(callSubs, sub.id)
	if len(callSubs) == 0 {
		delete(h.subs, sub.callID)
	}
	close(sub.ch)
}

// Publish delivers a state to every subscriber of the call. Never blocks:
// when a subscriber's queue is full the oldest queued state is dropped to
// make room, since a reconnecting or lagging client resynchronizes from
// the latest state anyway.
func (h *Hub) Publish(callID string, state *types.TransferState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for _, sub := range h.subs[callID] {
		if sub.seeded && state.Version <= sub.lastVersion {
			continue
		}
		h.send(sub, state)
		sub.lastVersion = state.Version
		sub.seeded = true
	}
}

func (h *Hub) send(sub *Subscriber, state *types.TransferState) {
	for {
		select {
		case sub.ch <- state:
			return
		default:
		}
		// Queue full: drop the oldest queued state.
		select {
		case <-sub.ch:
			h.dropped.Add(1)
		default:
		}
	}
}

// CloseCall drops every subscriber of a call, closing their streams. Used
// when a call ends.
func (h *Hub) CloseCall(callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[callID] {
		close(sub.ch)
	}
	delete(h.subs, callID)
}

// Close shuts the hub down and closes all streams.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for callID, callSubs := range h.subs {
		for _, sub := range callSubs {
			close(sub.ch)
		}
		delete(h.subs, callID)
	}
}

// Dropped returns the number of states discarded due to full subscriber
// queues.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Subscribers returns the number of active subscribers for a call.
func (h *Hub) Subscribers(callID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[callID])
}
