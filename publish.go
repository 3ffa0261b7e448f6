package ledgerkit

import (
	"context"
	"strings"
	"time"
)

// Envelope is the wire form given to publishers after events are durably
// appended to the log.
type Envelope struct {
	EventID        string      `json:"eventId"`
	AccountID      string      `json:"accountId"`
	Type           string      `json:"type"`
	Payload        interface{} `json:"payload"`
	EventNumber    int64       `json:"eventNumber"`
	GlobalPosition int64       `json:"globalPosition"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Publisher delivers appended events to an external system. Delivery is
// best effort: the ledger logs publish failures and never fails the
// originating command.
type Publisher interface {
	// Destination returns where this publisher delivers to, in the form
	// "scheme:target" (e.g. "kafka:account-events", "sns:arn:...").
	Destination() string

	// Publish delivers a batch of envelopes.
	Publish(ctx context.Context, envelopes []*Envelope) error
}

// Relay fans appended events out to multiple publishers. Each publisher
// receives every envelope; one publisher failing does not stop the others.
type Relay struct {
	publishers []Publisher
	logger     Logger
}

// NewRelay creates a relay over the given publishers.
func NewRelay(publishers []Publisher, logger Logger) *Relay {
	if logger == nil {
		logger = &noopLogger{}
	}
	return &Relay{publishers: publishers, logger: logger}
}

// Destination returns the destinations of all wrapped publishers.
func (r *Relay) Destination() string {
	destinations := make([]string, len(r.publishers))
	for i, p := range r.publishers {
		destinations[i] = p.Destination()
	}
	return strings.Join(destinations, ",")
}

// Publish delivers the envelopes to every publisher. It always returns
// nil; individual failures are logged.
func (r *Relay) Publish(ctx context.Context, envelopes []*Envelope) error {
	for _, p := range r.publishers {
		if err := p.Publish(ctx, envelopes); err != nil {
			r.logger.Error("relay publish failed",
				"destination", p.Destination(),
				"count", len(envelopes),
				"error", err)
		}
	}
	return nil
}

var _ Publisher = (*Relay)(nil)
