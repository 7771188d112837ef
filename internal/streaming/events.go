package streaming

import (
	"time"

	"github.com/google/uuid"

	"sentinel-lab/internal/domain/models"
)

// EventType represents the type of stream event
type EventType string

const (
	EventTypeCorrelationDetected EventType = "correlation_detected"
	EventTypeFeedIngested        EventType = "feed_ingested"
)

// StreamEvent is implemented by everything published on the bus
type StreamEvent interface {
	EventType() EventType
}

// CorrelationDetectedEvent is the streamed form of a persisted correlation
type CorrelationDetectedEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	CorrelationID   string                 `json:"correlation_id"`
	CyberEventID    string                 `json:"cyber_event_id"`
	PhysicalEventID string                 `json:"physical_event_id"`
	CorrelationType models.CorrelationType `json:"correlation_type"`
	Score           float64                `json:"correlation_score"`
	Evidence        []string               `json:"evidence_links,omitempty"`
}

func (e *CorrelationDetectedEvent) EventType() EventType { return e.Type }

// NewCorrelationDetectedEvent creates a stream event from a correlation
func NewCorrelationDetectedEvent(c *models.Correlation) *CorrelationDetectedEvent {
	return &CorrelationDetectedEvent{
		ID:              uuid.New().String(),
		Type:            EventTypeCorrelationDetected,
		Timestamp:       time.Now(),
		CorrelationID:   c.ID,
		CyberEventID:    c.CyberEventID,
		PhysicalEventID: c.PhysicalEventID,
		CorrelationType: c.Type,
		Score:           c.Score,
		Evidence:        c.Evidence,
	}
}

// FeedIngestedEvent reports the completion of one feed batch ingestion
type FeedIngestedEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Source   string        `json:"source"`
	Received int           `json:"received"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration_ms"`
}

func (e *FeedIngestedEvent) EventType() EventType { return e.Type }

// NewFeedIngestedEvent creates a stream event from an ingest result
func NewFeedIngestedEvent(result *models.IngestResult, duration time.Duration) *FeedIngestedEvent {
	return &FeedIngestedEvent{
		ID:        uuid.New().String(),
		Type:      EventTypeFeedIngested,
		Timestamp: time.Now(),
		Source:    result.Source,
		Received:  result.Received,
		Accepted:  result.Accepted,
		Rejected:  result.Rejected,
		Failed:    result.Failed,
		Duration:  duration,
	}
}

// Subscription filters what a stream consumer receives
type Subscription struct {
	// Minimum correlation score (0 = all)
	MinScore float64 `json:"min_score,omitempty"`

	// Correlation types to deliver (empty = all)
	Types []models.CorrelationType `json:"types,omitempty"`

	// Event kinds to deliver (empty = all)
	Events []EventType `json:"events,omitempty"`
}

// Matches reports whether an event passes the subscription filters. The
// score and type filters apply to correlation events only.
func (s *Subscription) Matches(event StreamEvent) bool {
	if len(s.Events) > 0 && !containsEventType(s.Events, event.EventType()) {
		return false
	}

	c, ok := event.(*CorrelationDetectedEvent)
	if !ok {
		return true
	}

	if s.MinScore > 0 && c.Score < s.MinScore {
		return false
	}
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if t == c.CorrelationType {
			return true
		}
	}
	return false
}

func containsEventType(list []EventType, t EventType) bool {
	for _, et := range list {
		if et == t {
			return true
		}
	}
	return false
}
