package events

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/pactum/internal/interfaces"
)

// ProgressThrottle coalesces progress events per run so at most one is forwarded per interval.
// Completion and failure events are forwarded immediately, after any held progress event.
type ProgressThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	forward  interfaces.EventHandler

	lastSent map[string]time.Time
	pending  map[string]interfaces.Event
}

// NewProgressThrottle wraps forward. A non-positive interval defaults to one second.
func NewProgressThrottle(interval time.Duration, forward interfaces.EventHandler) *ProgressThrottle {
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressThrottle{
		interval: interval,
		now:      time.Now,
		forward:  forward,
		lastSent: make(map[string]time.Time),
		pending:  make(map[string]interfaces.Event),
	}
}

// Handle is the EventHandler to subscribe for every run event type
func (t *ProgressThrottle) Handle(ctx context.Context, event interfaces.Event) error {
	runID := payloadRunID(event)

	t.mu.Lock()
	if event.Type != interfaces.EventRunProgress {
		held, ok := t.pending[runID]
		delete(t.pending, runID)
		delete(t.lastSent, runID)
		t.mu.Unlock()

		if ok {
			if err := t.forward(ctx, held); err != nil {
				return err
			}
		}
		return t.forward(ctx, event)
	}

	now := t.now()
	if last, ok := t.lastSent[runID]; ok && now.Sub(last) < t.interval {
		t.pending[runID] = event
		t.mu.Unlock()
		return nil
	}
	t.lastSent[runID] = now
	delete(t.pending, runID)
	t.mu.Unlock()

	return t.forward(ctx, event)
}

// Flush forwards every held progress event
func (t *ProgressThrottle) Flush(ctx context.Context) error {
	t.mu.Lock()
	held := make([]interfaces.Event, 0, len(t.pending))
	for runID, event := range t.pending {
		held = append(held, event)
		delete(t.pending, runID)
	}
	t.mu.Unlock()

	for _, event := range held {
		if err := t.forward(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func payloadRunID(event interfaces.Event) string {
	if payload, ok := event.Payload.(map[string]interface{}); ok {
		if id, ok := payload["run_id"].(string); ok {
			return id
		}
	}
	return ""
}
