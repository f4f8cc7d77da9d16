// Package kafka provides a publish-only Kafka feed of scanning and patching
// domain events. Dashboards and external consumers subscribe to the topic;
// the orchestrator itself consumes nothing, so no consumer group is set up.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"

	"github.com/harborguard/scanhub/internal/domain/events"
	"github.com/harborguard/scanhub/pkg/common/logger"
)

var _ events.DomainEventPublisher = (*Publisher)(nil)

// Config contains the settings for the Kafka event feed.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Publisher forwards domain events to a Kafka topic as JSON envelopes keyed
// by the event's partition key, so per-job ordering survives partitioning.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *logger.Logger
}

// envelope is the wire format for published events.
type envelope struct {
	Type      events.EventType  `json:"type"`
	Key       string            `json:"key"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload"`
}

// ConnectPublisher establishes a Kafka producer with exponential backoff.
// It retries failed connection attempts for up to 5 minutes to ride out
// temporary broker unavailability during startup.
func ConnectPublisher(cfg *Config, log *logger.Logger) (*Publisher, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V3_6_0_0

	var producer sarama.SyncProducer

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(cfg.Brokers, config)
		return err
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return &Publisher{
		producer: producer,
		topic:    cfg.Topic,
		logger:   log.With("component", "kafka_event_publisher"),
	}, nil
}

// PublishDomainEvent serializes the event and sends it to the configured topic.
func (p *Publisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	params := events.PublishParams{Key: event.Key, Headers: event.Headers}
	for _, opt := range opts {
		opt(&params)
	}

	body, err := json.Marshal(envelope{
		Type:      event.Type,
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshaling event envelope: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(params.Key),
		Value: sarama.ByteEncoder(body),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("sending event to kafka: %w", err)
	}
	return nil
}

// Close shuts down the underlying producer.
func (p *Publisher) Close() error { return p.producer.Close() }
