package infra

import (
	"sync"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

const busBufferSize = 64

// Hub implements domain.Bus as an in-process broadcast channel shared
// by every session of one agent. Delivery is at-least-once, unordered
// and unacknowledged; a publisher never receives its own frames. A
// subscriber that falls behind loses frames rather than blocking the
// publisher - the election protocol tolerates lost heartbeats by
// design of its expiry window.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]chan domain.Frame
	logger *zap.Logger
}

// NewHub creates an empty broadcast hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]chan domain.Frame),
		logger: logger,
	}
}

// Publish broadcasts a frame to every subscriber except the sender.
func (h *Hub) Publish(frame domain.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		if id == frame.SessionID {
			continue
		}
		select {
		case ch <- frame:
		default:
			h.logger.Warn("bus subscriber lagging, frame dropped",
				zap.String("subscriber", id),
				zap.String("frame", string(frame.Type)))
		}
	}
	return nil
}

// Subscribe registers a session and returns its receive channel plus an
// unsubscribe func. Subscribing twice with the same id replaces the
// previous subscription.
func (h *Hub) Subscribe(sessionID string) (<-chan domain.Frame, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.subs[sessionID]; ok {
		close(old)
	}

	ch := make(chan domain.Frame, busBufferSize)
	h.subs[sessionID] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.subs[sessionID]; ok && cur == ch {
			delete(h.subs, sessionID)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// SubscriberCount returns the number of attached sessions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Ensure Hub implements domain.Bus.
var _ domain.Bus = (*Hub)(nil)
