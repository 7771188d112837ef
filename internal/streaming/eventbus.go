package streaming

import (
	"context"
	"sync"

	"sentinel-lab/pkg/logger"
)

// EventBus distributes correlation events to in-process subscribers and,
// when connected, to NATS. Local subscribers are always served even when
// NATS is down.
type EventBus struct {
	nats   *NATSPublisher
	logger *logger.Logger

	mu          sync.RWMutex
	subscribers map[int]chan *CorrelationDetectedEvent
	nextID      int
}

// NewEventBus creates a new event bus
func NewEventBus(nats *NATSPublisher, log *logger.Logger) *EventBus {
	return &EventBus{
		nats:        nats,
		logger:      log.WithComponent("event-bus"),
		subscribers: make(map[int]chan *CorrelationDetectedEvent),
	}
}

// Publish publishes a correlation event to NATS and all local subscribers
func (eb *EventBus) Publish(ctx context.Context, event *CorrelationDetectedEvent) error {
	if eb.nats != nil && eb.nats.IsConnected() {
		if err := eb.nats.PublishCorrelationEvent(ctx, event); err != nil {
			eb.logger.Warn().Err(err).Msg("failed to publish to NATS, using local broadcast only")
		}
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			eb.logger.Debug().Int("subscriber_id", id).Msg("subscriber channel full, dropping event")
		}
	}

	return nil
}

// PublishIngest publishes a feed ingestion event to NATS
func (eb *EventBus) PublishIngest(ctx context.Context, event *FeedIngestedEvent) error {
	if eb.nats != nil && eb.nats.IsConnected() {
		if err := eb.nats.PublishIngestEvent(ctx, event); err != nil {
			eb.logger.Warn().Err(err).Msg("failed to publish ingest event to NATS")
		}
	}
	return nil
}

// Subscribe registers a buffered channel on the bus and returns it with an
// unsubscribe function. When NATS is connected the channel also receives
// correlation events published by other processes.
func (eb *EventBus) Subscribe(ctx context.Context, sub *Subscription) (<-chan *CorrelationDetectedEvent, func()) {
	eb.mu.Lock()
	eb.nextID++
	id := eb.nextID
	ch := make(chan *CorrelationDetectedEvent, 100)
	eb.subscribers[id] = ch
	eb.mu.Unlock()

	eb.logger.Debug().Int("subscriber_id", id).Msg("new subscriber")

	if eb.nats != nil && eb.nats.IsConnected() {
		if natsCh, err := eb.nats.Subscribe(ctx, sub); err == nil {
			go func() {
				for event := range natsCh {
					eb.deliver(id, event)
				}
			}()
		}
	}

	unsubscribe := func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if _, ok := eb.subscribers[id]; ok {
			delete(eb.subscribers, id)
			close(ch)
			eb.logger.Debug().Int("subscriber_id", id).Msg("subscriber removed")
		}
	}

	return ch, unsubscribe
}

// deliver hands a forwarded event to one subscriber if it is still
// registered. The membership check under the lock keeps forwarding routines
// from writing to a closed channel after unsubscribe.
func (eb *EventBus) deliver(id int, event *CorrelationDetectedEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	ch, ok := eb.subscribers[id]
	if !ok {
		return
	}
	select {
	case ch <- event:
	default:
	}
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Close closes the event bus
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, ch := range eb.subscribers {
		close(ch)
		delete(eb.subscribers, id)
	}

	if eb.nats != nil {
		eb.nats.Close()
	}
}
