package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/interfaces"
)

// RunEventTypes lists every event the orchestrator publishes
var RunEventTypes = []interfaces.EventType{
	interfaces.EventRunProgress,
	interfaces.EventRunCompleted,
	interfaces.EventRunFailed,
}

// NewLoggerSubscriber creates an event handler that logs run events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug()
		if event.Type == interfaces.EventRunFailed {
			logEvent = logger.Warn()
		}
		logEvent = logEvent.Str("event_type", string(event.Type))

		if payload, ok := event.Payload.(map[string]interface{}); ok {
			for _, key := range []string{"run_id", "state", "message", "error"} {
				if v, ok := payload[key].(string); ok && v != "" {
					logEvent = logEvent.Str(key, v)
				}
			}
			if p, ok := payload["overall_progress"].(int); ok {
				logEvent = logEvent.Int("overall_progress", p)
			}
		}

		logEvent.Msg("Run event")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all run event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range RunEventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}
	return nil
}
