// File: internal/events/bus.go
// Description: Typed notification bus between the resilience core and its
// consumers (API, logging, metrics). Fan-out with per-subscriber filters.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// Subscriber represents a consumer listening on the bus.
type Subscriber struct {
	ID      string
	Channel chan schemas.Event
	Filters map[schemas.EventType]bool
}

// Bus fans typed events out to subscribers. Publishing never blocks the
// core: a subscriber whose buffer is full has the event dropped and logged.
type Bus struct {
	logger *zap.Logger

	subscribersMutex sync.RWMutex
	subscribers      map[string]*Subscriber

	// Tracks events currently being processed by subscribers.
	processingWg  sync.WaitGroup
	shutdownMutex sync.Mutex
	isShutdown    bool
	bufferSize    int
}

// NewBus initializes the event bus.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		logger:      logger.Named("event_bus"),
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
	}
}

// Publish sends an event onto the bus.
func (b *Bus) Publish(ctx context.Context, evt schemas.Event) error {
	b.shutdownMutex.Lock()
	if b.isShutdown {
		b.shutdownMutex.Unlock()
		return fmt.Errorf("cannot publish event: bus is shutting down")
	}
	b.shutdownMutex.Unlock()

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.subscribersMutex.RLock()
	defer b.subscribersMutex.RUnlock()

	if len(b.subscribers) == 0 {
		b.logger.Debug("Event published with no active subscribers", zap.String("type", string(evt.Type)))
		return nil
	}

	for _, sub := range b.subscribers {
		if len(sub.Filters) > 0 && !sub.Filters[evt.Type] {
			continue
		}

		b.processingWg.Add(1)

		select {
		case sub.Channel <- evt:
			b.logger.Debug("Event dispatched",
				zap.String("event_id", evt.ID),
				zap.String("type", string(evt.Type)),
				zap.String("subscriber_id", sub.ID))
		case <-ctx.Done():
			b.processingWg.Done()
			b.logger.Warn("Failed to dispatch event due to context cancellation", zap.Error(ctx.Err()))
			return ctx.Err()
		default:
			b.processingWg.Done()
			b.logger.Error("Subscriber buffer full, dropping event",
				zap.String("type", string(evt.Type)),
				zap.String("subscriber_id", sub.ID))
		}
	}
	return nil
}

// Subscribe registers a new subscriber and returns a channel to listen on.
// Optional filters restrict delivery to specific event types.
func (b *Bus) Subscribe(filters ...schemas.EventType) <-chan schemas.Event {
	b.subscribersMutex.Lock()
	defer b.subscribersMutex.Unlock()

	channel := make(chan schemas.Event, b.bufferSize)
	filterMap := make(map[schemas.EventType]bool)
	for _, f := range filters {
		filterMap[f] = true
	}

	subID := uuid.NewString()[:8]
	b.subscribers[subID] = &Subscriber{
		ID:      subID,
		Channel: channel,
		Filters: filterMap,
	}
	b.logger.Info("New subscriber registered",
		zap.String("subscriber_id", subID),
		zap.Int("active_subscribers", len(b.subscribers)))
	return channel
}

// Acknowledge signals that an event has been processed. Consumers MUST call
// this after processing an event received from Subscribe().
func (b *Bus) Acknowledge(evt schemas.Event) {
	b.processingWg.Done()
}

// Shutdown gracefully closes the bus, waiting for in-flight events to drain.
func (b *Bus) Shutdown() {
	b.shutdownMutex.Lock()
	if b.isShutdown {
		b.shutdownMutex.Unlock()
		return
	}
	b.isShutdown = true
	b.shutdownMutex.Unlock()

	b.logger.Info("Shutting down event bus, waiting for event drain")
	b.processingWg.Wait()

	b.subscribersMutex.Lock()
	for _, sub := range b.subscribers {
		close(sub.Channel)
	}
	b.subscribers = nil
	b.subscribersMutex.Unlock()

	b.logger.Info("Event bus shutdown complete")
}
