// Package webhook publishes appended ledger events as HTTP POST requests
// to a configured endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	ledgerkit "github.com/ledgerkit/ledgerkit"
)

// Publisher delivers event envelopes as JSON HTTP POST requests.
type Publisher struct {
	client         *http.Client
	url            string
	defaultHeaders map[string]string
}

// Option configures a webhook Publisher.
type Option func(*Publisher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.client.Timeout = d
	}
}

// WithDefaultHeaders sets default headers added to all requests.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(p *Publisher) {
		for k, v := range headers {
			p.defaultHeaders[k] = v
		}
	}
}

// New creates a new webhook Publisher delivering to the given URL.
func New(url string, opts ...Option) *Publisher {
	p := &Publisher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		url: url,
		defaultHeaders: map[string]string{
			"Content-Type": "application/json",
		},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Destination identifies the endpoint this publisher delivers to.
func (p *Publisher) Destination() string {
	return "webhook:" + p.url
}

// Publish sends each envelope as an HTTP POST to the configured URL.
func (p *Publisher) Publish(ctx context.Context, envelopes []*ledgerkit.Envelope) error {
	for _, envelope := range envelopes {
		payload, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("webhook: failed to marshal envelope %s: %w", envelope.EventID, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("webhook: failed to create request: %w", err)
		}

		for k, v := range p.defaultHeaders {
			req.Header.Set(k, v)
		}
		req.Header.Set("X-Event-Type", envelope.Type)
		req.Header.Set("X-Account-ID", envelope.AccountID)
		req.Header.Set("X-Event-Number", strconv.FormatInt(envelope.EventNumber, 10))

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: request failed for %s: %w", p.url, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook: server error %d from %s", resp.StatusCode, p.url)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("webhook: client error %d from %s", resp.StatusCode, p.url)
		}
	}

	return nil
}

var _ ledgerkit.Publisher = (*Publisher)(nil)
