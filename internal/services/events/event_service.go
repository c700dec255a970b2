package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
)

// Service implements EventService interface with pub/sub pattern
type Service struct {
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	mu          sync.RWMutex
	closed      bool
	logger      arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.EventService = (*Service)(nil)

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("event service closed")
	}
	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return nil
}

func (s *Service) handlers(eventType interfaces.EventType) []interfaces.EventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]interfaces.EventHandler(nil), s.subscribers[eventType]...)
}

// Publish sends an event to all subscribers asynchronously
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	handlers := s.handlers(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	for _, handler := range handlers {
		h := handler
		common.SafeGo(s.logger, "events."+string(event.Type), func() {
			if err := h(ctx, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
			}
		})
	}

	return nil
}

// PublishSync sends an event to all subscribers and waits for them, in subscription order
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	handlers := s.handlers(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	var errs []error
	for _, h := range handlers {
		if err := s.invoke(ctx, h, event); err != nil {
			s.logger.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("event handlers failed: %d errors: %w", len(errs), errors.Join(errs...))
	}

	return nil
}

func (s *Service) invoke(ctx context.Context, h interfaces.EventHandler, event interfaces.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, event)
}

// Close drops all subscribers; later publishes are no-ops
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.subscribers = make(map[interfaces.EventType][]interfaces.EventHandler)
	s.logger.Debug().Msg("Event service closed")

	return nil
}
