package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"sentinel-lab/internal/config"
	"sentinel-lab/pkg/logger"
)

const (
	defaultStreamName  = "SENTINEL_EVENTS"
	subjectCorrelation = "sentinel.correlation"
	subjectIngest      = "sentinel.ingest"
)

// NATSPublisher publishes stream events to NATS JetStream
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config config.NATSConfig
	logger *logger.Logger

	mu        sync.RWMutex
	connected bool
}

// NewNATSPublisher connects to NATS and ensures the events stream exists
func NewNATSPublisher(ctx context.Context, cfg config.NATSConfig, log *logger.Logger) (*NATSPublisher, error) {
	log = log.WithComponent("nats")

	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = defaultStreamName
	}

	log.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("connecting to NATS")

	conn, err := nats.Connect(cfg.URL, connectionOptions(log)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Sentinel correlation and ingestion events",
		Subjects:    []string{"sentinel.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     100000,
		MaxBytes:    100 * 1024 * 1024,
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	log.Info().Str("stream", stream.CachedInfo().Config.Name).Msg("NATS stream ready")

	return &NATSPublisher{
		conn:      conn,
		js:        js,
		stream:    stream,
		config:    cfg,
		logger:    log,
		connected: true,
	}, nil
}

// connectionOptions returns the reconnect policy shared by all binaries
func connectionOptions(log *logger.Logger) []nats.Option {
	return []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}
}

// Close closes the NATS connection
func (p *NATSPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.connected = false
	}
}

// IsConnected returns whether NATS is connected
func (p *NATSPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.conn.IsConnected()
}

// publish marshals the payload and publishes it with acknowledgement
func (p *NATSPublisher) publish(ctx context.Context, subject string, payload any) error {
	if !p.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}

// PublishCorrelationEvent publishes to sentinel.correlation.<type>
func (p *NATSPublisher) PublishCorrelationEvent(ctx context.Context, event *CorrelationDetectedEvent) error {
	subject := fmt.Sprintf("%s.%s", subjectCorrelation, event.CorrelationType)

	if err := p.publish(ctx, subject, event); err != nil {
		return err
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("correlation_id", event.CorrelationID).
		Float64("score", event.Score).
		Msg("published correlation event")

	return nil
}

// PublishIngestEvent publishes to sentinel.ingest.<source>
func (p *NATSPublisher) PublishIngestEvent(ctx context.Context, event *FeedIngestedEvent) error {
	subject := fmt.Sprintf("%s.%s", subjectIngest, event.Source)

	if err := p.publish(ctx, subject, event); err != nil {
		return err
	}

	p.logger.Debug().
		Str("subject", subject).
		Str("source", event.Source).
		Int("accepted", event.Accepted).
		Msg("published ingest event")

	return nil
}

// Subscribe creates an ephemeral consumer over the correlation subjects and
// returns a channel of matching events. Score and type filtering happens in
// code; the channel closes when the context is cancelled.
func (p *NATSPublisher) Subscribe(ctx context.Context, sub *Subscription) (<-chan *CorrelationDetectedEvent, error) {
	if !p.IsConnected() {
		return nil, fmt.Errorf("NATS not connected")
	}

	consumer, err := p.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		FilterSubject: subjectCorrelation + ".>",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	eventCh := make(chan *CorrelationDetectedEvent, 100)

	go func() {
		defer close(eventCh)

		msgs, err := consumer.Messages()
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to get messages iterator")
			return
		}
		defer msgs.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := msgs.Next()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn().Err(err).Msg("error getting next message")
				continue
			}

			var event CorrelationDetectedEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				p.logger.Warn().Err(err).Msg("failed to unmarshal event")
				msg.Nak()
				continue
			}

			if sub != nil && !sub.Matches(&event) {
				msg.Ack()
				continue
			}

			select {
			case eventCh <- &event:
				msg.Ack()
			case <-ctx.Done():
				return
			}
		}
	}()

	return eventCh, nil
}
