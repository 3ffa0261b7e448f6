// Package kafka publishes appended ledger events to a Kafka topic using
// github.com/segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	ledgerkit "github.com/ledgerkit/ledgerkit"
)

// Publisher delivers event envelopes to a Kafka topic. Messages are keyed
// by account ID so one account's events stay ordered within a partition.
type Publisher struct {
	brokers      []string
	topic        string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	transport    kafkago.RoundTripper

	mu     sync.Mutex
	writer *kafkago.Writer
}

// Option configures a Kafka Publisher.
type Option func(*Publisher)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(p *Publisher) {
		p.brokers = brokers
	}
}

// WithTopic sets the topic events are published to.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		p.topic = topic
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(p *Publisher) {
		p.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for the writer.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.batchTimeout = d
	}
}

// New creates a new Kafka Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		brokers:      []string{"localhost:9092"},
		topic:        "account-events",
		balancer:     &kafkago.LeastBytes{},
		batchTimeout: 10 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Destination identifies the topic this publisher delivers to.
func (p *Publisher) Destination() string {
	return "kafka:" + p.topic
}

// Publish writes the envelopes to the configured topic.
func (p *Publisher) Publish(ctx context.Context, envelopes []*ledgerkit.Envelope) error {
	messages := make([]kafkago.Message, 0, len(envelopes))
	for _, envelope := range envelopes {
		payload, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("kafka: failed to marshal envelope %s: %w", envelope.EventID, err)
		}
		messages = append(messages, kafkago.Message{
			Key:   []byte(envelope.AccountID),
			Value: payload,
			Headers: []kafkago.Header{
				{Key: "event-type", Value: []byte(envelope.Type)},
				{Key: "event-number", Value: []byte(strconv.FormatInt(envelope.EventNumber, 10))},
			},
		})
	}

	if err := p.getWriter().WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("kafka: failed to write to topic %s: %w", p.topic, err)
	}
	return nil
}

// Close closes the Kafka writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		return nil
	}
	writer := p.writer
	p.writer = nil
	return writer.Close()
}

// getWriter returns or lazily creates the Kafka writer.
func (p *Publisher) getWriter() *kafkago.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		p.writer = &kafkago.Writer{
			Addr:                   kafkago.TCP(p.brokers...),
			Topic:                  p.topic,
			Balancer:               p.balancer,
			BatchTimeout:           p.batchTimeout,
			Transport:              p.transport,
			AllowAutoTopicCreation: true,
		}
	}
	return p.writer
}

var _ ledgerkit.Publisher = (*Publisher)(nil)
