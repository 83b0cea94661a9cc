package runtime

import (
	"context"
	"sync"
)

const subscriberBuffer = 32

// LoopEventHub fans chat loop lifecycle events out to per-session
// subscribers. Slow subscribers drop events rather than back-pressure the
// runtime; the event stream is observational, not the source of truth.
type LoopEventHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ChatLoopEvent]struct{}
}

// NewLoopEventHub creates an empty hub.
func NewLoopEventHub() *LoopEventHub {
	return &LoopEventHub{
		subscribers: make(map[string]map[chan ChatLoopEvent]struct{}),
	}
}

// Emit delivers the event to every subscriber of its session. Never blocks.
func (h *LoopEventHub) Emit(_ context.Context, event ChatLoopEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}

	return nil
}

// Subscribe registers interest in one session's events. The returned cancel
// function must be called to release the subscription; it closes the channel.
func (h *LoopEventHub) Subscribe(sessionID string) (<-chan ChatLoopEvent, func()) {
	ch := make(chan ChatLoopEvent, subscriberBuffer)

	h.mu.Lock()
	sessionSubscribers, ok := h.subscribers[sessionID]
	if !ok {
		sessionSubscribers = make(map[chan ChatLoopEvent]struct{})
		h.subscribers[sessionID] = sessionSubscribers
	}
	sessionSubscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sessionSubscribers, ok := h.subscribers[sessionID]; ok {
				delete(sessionSubscribers, ch)
				if len(sessionSubscribers) == 0 {
					delete(h.subscribers, sessionID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}
