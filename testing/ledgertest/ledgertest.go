// Package ledgertest provides Given-When-Then style test fixtures for
// account command scenarios. A fixture wires a ledger and account service
// over the in-memory adapter so tests read as behavior specifications.
package ledgertest

import (
	"context"
	"errors"
	"testing"
	"time"

	ledgerkit "github.com/ledgerkit/ledgerkit"
	"github.com/ledgerkit/ledgerkit/adapters/memory"
)

// Fixture drives one account command scenario.
type Fixture struct {
	t       testing.TB
	ctx     context.Context
	adapter *memory.MemoryAdapter
	ledger  *ledgerkit.Ledger
	service *ledgerkit.AccountService

	state ledgerkit.AccountState
	err   error
	ran   bool
}

// Option configures the fixture's ledger.
type Option func(*config)

type config struct {
	clock         func() time.Time
	ledgerOptions []ledgerkit.Option
}

// WithClock pins the adapter clock so event timestamps are deterministic.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.clock = now
	}
}

// WithLedgerOptions passes extra options to the ledger under test.
func WithLedgerOptions(opts ...ledgerkit.Option) Option {
	return func(c *config) {
		c.ledgerOptions = append(c.ledgerOptions, opts...)
	}
}

// Given creates a fixture with a fresh in-memory ledger.
func Given(t testing.TB, opts ...Option) *Fixture {
	t.Helper()

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	var adapterOpts []memory.Option
	if cfg.clock != nil {
		adapterOpts = append(adapterOpts, memory.WithClock(cfg.clock))
	}
	adapter := memory.NewAdapter(adapterOpts...)

	ledgerOpts := append([]ledgerkit.Option{ledgerkit.WithSnapshots(adapter)}, cfg.ledgerOptions...)
	ledger := ledgerkit.New(adapter, ledgerOpts...)

	return &Fixture{
		t:       t,
		ctx:     context.Background(),
		adapter: adapter,
		ledger:  ledger,
		service: ledgerkit.NewAccountService(ledger),
	}
}

// Adapter returns the underlying in-memory adapter.
func (f *Fixture) Adapter() *memory.MemoryAdapter {
	return f.adapter
}

// Ledger returns the ledger under test.
func (f *Fixture) Ledger() *ledgerkit.Ledger {
	return f.ledger
}

// Service returns the account service under test.
func (f *Fixture) Service() *ledgerkit.AccountService {
	return f.service
}

// WithHistory appends event payloads to an account's stream before the
// command under test runs.
func (f *Fixture) WithHistory(accountID string, payloads ...interface{}) *Fixture {
	f.t.Helper()

	next, err := f.adapter.NextEventNumber(f.ctx, accountID)
	if err != nil {
		f.t.Fatalf("read next event number: %v", err)
	}
	if _, err := f.ledger.AppendEvent(f.ctx, accountID, next-1, payloads...); err != nil {
		f.t.Fatalf("append history: %v", err)
	}
	return f
}

// When runs the command under test and records its outcome.
func (f *Fixture) When(fn func(ctx context.Context, service *ledgerkit.AccountService) (ledgerkit.AccountState, error)) *Fixture {
	f.t.Helper()

	f.state, f.err = fn(f.ctx, f.service)
	f.ran = true
	return f
}

// ThenNoError asserts the command succeeded.
func (f *Fixture) ThenNoError() *Fixture {
	f.t.Helper()
	f.requireRan()

	if f.err != nil {
		f.t.Fatalf("expected success, got error: %v", f.err)
	}
	return f
}

// ThenError asserts the command failed with an error matching target.
func (f *Fixture) ThenError(target error) *Fixture {
	f.t.Helper()
	f.requireRan()

	if f.err == nil {
		f.t.Fatalf("expected error %v, command succeeded", target)
	}
	if !errors.Is(f.err, target) {
		f.t.Fatalf("expected error %v, got %v", target, f.err)
	}
	return f
}

// ThenBalance asserts the resulting balance.
func (f *Fixture) ThenBalance(want int64) *Fixture {
	f.t.Helper()
	f.requireRan()

	if f.state.Balance != want {
		f.t.Fatalf("expected balance %d, got %d", want, f.state.Balance)
	}
	return f
}

// ThenVersion asserts the resulting version.
func (f *Fixture) ThenVersion(want int64) *Fixture {
	f.t.Helper()
	f.requireRan()

	if f.state.Version != want {
		f.t.Fatalf("expected version %d, got %d", want, f.state.Version)
	}
	return f
}

// ThenStatus asserts the resulting account status.
func (f *Fixture) ThenStatus(want ledgerkit.AccountStatus) *Fixture {
	f.t.Helper()
	f.requireRan()

	if f.state.Status != want {
		f.t.Fatalf("expected status %s, got %s", want, f.state.Status)
	}
	return f
}

// State returns the state produced by the command under test.
func (f *Fixture) State() ledgerkit.AccountState {
	f.requireRan()
	return f.state
}

// Err returns the error produced by the command under test.
func (f *Fixture) Err() error {
	f.requireRan()
	return f.err
}

func (f *Fixture) requireRan() {
	f.t.Helper()
	if !f.ran {
		f.t.Fatal("call When before asserting on the outcome")
	}
}
