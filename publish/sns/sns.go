// Package sns publishes appended ledger events to an AWS SNS topic.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	ledgerkit "github.com/ledgerkit/ledgerkit"
)

// SNSClient defines the subset of the SNS API used by the publisher.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher delivers event envelopes to an AWS SNS topic.
type Publisher struct {
	client         SNSClient
	topicARN       string
	messageGroupID string
}

// Option configures an SNS Publisher.
type Option func(*Publisher)

// WithSNSClient sets a custom SNS client.
func WithSNSClient(client SNSClient) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

// WithTopicARN sets the topic ARN events are published to.
func WithTopicARN(arn string) Option {
	return func(p *Publisher) {
		p.topicARN = arn
	}
}

// WithMessageGroupID sets the message group ID for FIFO topics.
func WithMessageGroupID(groupID string) Option {
	return func(p *Publisher) {
		p.messageGroupID = groupID
	}
}

// New creates a new SNS Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Destination identifies the topic this publisher delivers to.
func (p *Publisher) Destination() string {
	return "sns:" + p.topicARN
}

// Publish sends the envelopes to the configured SNS topic. All envelopes
// are attempted even if some fail; errors are collected and returned as a
// joined error.
func (p *Publisher) Publish(ctx context.Context, envelopes []*ledgerkit.Envelope) error {
	if p.client == nil {
		return fmt.Errorf("sns: client not configured")
	}
	if p.topicARN == "" {
		return fmt.Errorf("sns: topic ARN not configured")
	}

	var errs []error
	for _, envelope := range envelopes {
		payload, err := json.Marshal(envelope)
		if err != nil {
			errs = append(errs, fmt.Errorf("sns: failed to marshal envelope %s: %w", envelope.EventID, err))
			continue
		}

		input := &sns.PublishInput{
			TopicArn: &p.topicARN,
			Message:  stringPtr(string(payload)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"event-type": {
					DataType:    stringPtr("String"),
					StringValue: stringPtr(envelope.Type),
				},
				"account-id": {
					DataType:    stringPtr("String"),
					StringValue: stringPtr(envelope.AccountID),
				},
				"event-number": {
					DataType:    stringPtr("Number"),
					StringValue: stringPtr(strconv.FormatInt(envelope.EventNumber, 10)),
				},
			},
		}

		if p.messageGroupID != "" {
			input.MessageGroupId = &p.messageGroupID
		}

		if _, err := p.client.Publish(ctx, input); err != nil {
			errs = append(errs, fmt.Errorf("sns: failed to publish to %s: %w", p.topicARN, err))
		}
	}

	return errors.Join(errs...)
}

func stringPtr(s string) *string {
	return &s
}

var _ ledgerkit.Publisher = (*Publisher)(nil)
