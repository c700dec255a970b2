package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventRunProgress is published after every persisted stage transition or chunk progress update
	EventRunProgress EventType = "run_progress"
	// EventRunCompleted is published once when a run reaches completed
	EventRunCompleted EventType = "run_completed"
	// EventRunFailed is published once when a run reaches failed
	EventRunFailed EventType = "run_failed"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the in-process pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
