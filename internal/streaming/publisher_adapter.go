package streaming

import (
	"context"
	"time"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
)

// EventBusPublisher implements services.EventPublisher on top of the
// EventBus and the WebSocket hub. Either side may be nil.
type EventBusPublisher struct {
	eventBus *EventBus
	wsHub    *WebSocketHub
}

// NewEventBusPublisher creates a new publisher adapter
func NewEventBusPublisher(eventBus *EventBus, wsHub *WebSocketHub) *EventBusPublisher {
	return &EventBusPublisher{
		eventBus: eventBus,
		wsHub:    wsHub,
	}
}

var _ services.EventPublisher = (*EventBusPublisher)(nil)

// PublishCorrelation publishes an event for a persisted correlation
func (p *EventBusPublisher) PublishCorrelation(ctx context.Context, correlation *models.Correlation) error {
	event := NewCorrelationDetectedEvent(correlation)

	if p.wsHub != nil {
		p.wsHub.Broadcast(event)
	}
	if p.eventBus != nil {
		return p.eventBus.Publish(ctx, event)
	}
	return nil
}

// PublishIngest publishes a feed ingestion completion event
func (p *EventBusPublisher) PublishIngest(ctx context.Context, result *models.IngestResult, duration time.Duration) error {
	event := NewFeedIngestedEvent(result, duration)

	if p.wsHub != nil {
		p.wsHub.Broadcast(event)
	}
	if p.eventBus != nil {
		return p.eventBus.PublishIngest(ctx, event)
	}
	return nil
}
