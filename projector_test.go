package ledgerkit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkit/ledgerkit"
	"github.com/ledgerkit/ledgerkit/adapters/memory"
)

// projectionHarness wires a ledger to a projector over the in-memory read
// model stores, with the projector attached inline so every append updates
// the read models before the command returns.
type projectionHarness struct {
	adapter    *memory.MemoryAdapter
	readModels *memory.ReadModelStore
	ledger     *ledgerkit.Ledger
	service    *ledgerkit.AccountService
	projector  *ledgerkit.Projector
}

func newProjectionHarness(t *testing.T) *projectionHarness {
	t.Helper()

	adapter := memory.NewAdapter()
	readModels := memory.NewReadModelStore()

	projector := ledgerkit.NewProjector(adapter, adapter, []ledgerkit.Projection{
		ledgerkit.NewSummaryProjection(readModels),
		ledgerkit.NewHistoryProjection(readModels),
	})

	ledger := ledgerkit.New(adapter,
		ledgerkit.WithSnapshots(adapter),
		ledgerkit.WithProjector(projector),
	)

	return &projectionHarness{
		adapter:    adapter,
		readModels: readModels,
		ledger:     ledger,
		service:    ledgerkit.NewAccountService(ledger),
		projector:  projector,
	}
}

func TestProjector_ProjectEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("maintains the account summary", func(t *testing.T) {
		h := newProjectionHarness(t)

		_, err := h.service.OpenAccount(ctx, "A1", "Alice", 10000, "USD")
		require.NoError(t, err)
		_, err = h.service.Deposit(ctx, "A1", 5000, "payday", "T1")
		require.NoError(t, err)
		_, err = h.service.Withdraw(ctx, "A1", 2000, "rent", "T2")
		require.NoError(t, err)

		summary, err := h.readModels.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, "Alice", summary.OwnerName)
		assert.Equal(t, int64(13000), summary.Balance)
		assert.Equal(t, ledgerkit.StatusOpen, summary.Status)
		assert.Equal(t, int64(3), summary.Version, "summary carries the last folded event number")
	})

	t.Run("every event bumps the summary version", func(t *testing.T) {
		h := newProjectionHarness(t)

		_, err := h.service.OpenAccount(ctx, "A1", "Alice", 10000, "USD")
		require.NoError(t, err)
		summary, err := h.readModels.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.Version)

		_, err = h.service.Deposit(ctx, "A1", 5000, "payday", "T1")
		require.NoError(t, err)
		summary, err = h.readModels.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), summary.Version)

		_, err = h.service.Close(ctx, "A1", "done")
		require.NoError(t, err)
		summary, err = h.readModels.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), summary.Version)
	})

	t.Run("maintains the transaction history", func(t *testing.T) {
		h := newProjectionHarness(t)

		_, err := h.service.OpenAccount(ctx, "A1", "Alice", 10000, "USD")
		require.NoError(t, err)
		_, err = h.service.Deposit(ctx, "A1", 5000, "payday", "T1")
		require.NoError(t, err)
		_, err = h.service.Withdraw(ctx, "A1", 2000, "rent", "T2")
		require.NoError(t, err)

		entries, err := h.readModels.ListTransactions(ctx, "A1", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 2, "account creation is not a transaction")

		count, err := h.readModels.CountTransactions(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		kinds := []string{entries[0].Kind, entries[1].Kind}
		assert.Contains(t, kinds, ledgerkit.TransactionKindDeposit)
		assert.Contains(t, kinds, ledgerkit.TransactionKindWithdrawal)
	})

	t.Run("closing is reflected in the summary", func(t *testing.T) {
		h := newProjectionHarness(t)

		_, err := h.service.OpenAccount(ctx, "A1", "Alice", 0, "USD")
		require.NoError(t, err)
		_, err = h.service.Close(ctx, "A1", "")
		require.NoError(t, err)

		summary, err := h.readModels.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, ledgerkit.StatusClosed, summary.Status)
	})

	t.Run("redelivered events are skipped", func(t *testing.T) {
		h := newProjectionHarness(t)

		_, err := h.service.OpenAccount(ctx, "A1", "Alice", 10000, "USD")
		require.NoError(t, err)
		_, err = h.service.Deposit(ctx, "A1", 5000, "payday", "T1")
		require.NoError(t, err)

		events, err := h.ledger.History(ctx, "A1")
		require.NoError(t, err)

		// Deliver the whole stream a second time.
		require.NoError(t, h.projector.ProjectEvents(ctx, events))

		summary, err := h.readModels.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(15000), summary.Balance)
	})

	t.Run("advances the checkpoint per projection", func(t *testing.T) {
		h := newProjectionHarness(t)

		_, err := h.service.OpenAccount(ctx, "A1", "Alice", 100, "USD")
		require.NoError(t, err)
		_, err = h.service.Deposit(ctx, "A1", 50, "", "T1")
		require.NoError(t, err)

		checkpoints, err := h.adapter.Checkpoints(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), checkpoints[ledgerkit.ProjectionAccountSummaries].Position)
		assert.Equal(t, int64(2), checkpoints[ledgerkit.ProjectionTransactionHistory].Position)
	})
}

// faultyProjection wraps a projection and fails applies at one global
// position a set number of times before letting them through.
type faultyProjection struct {
	ledgerkit.Projection
	failAt   int64
	failures int
}

func (p *faultyProjection) Apply(ctx context.Context, event ledgerkit.Event) error {
	if event.GlobalPosition == p.failAt && p.failures > 0 {
		p.failures--
		return errors.New("read model store unavailable")
	}
	return p.Projection.Apply(ctx, event)
}

func TestProjector_FailedProjection(t *testing.T) {
	ctx := context.Background()

	newFaultyHarness := func(t *testing.T) (*memory.MemoryAdapter, *memory.ReadModelStore, *ledgerkit.Projector, *ledgerkit.AccountService, *ledgerkit.Ledger) {
		t.Helper()

		adapter := memory.NewAdapter()
		readModels := memory.NewReadModelStore()
		projector := ledgerkit.NewProjector(adapter, adapter, []ledgerkit.Projection{
			&faultyProjection{
				Projection: ledgerkit.NewSummaryProjection(readModels),
				failAt:     2,
				failures:   1,
			},
		})
		ledger := ledgerkit.New(adapter, ledgerkit.WithProjector(projector))
		return adapter, readModels, projector, ledgerkit.NewAccountService(ledger), ledger
	}

	t.Run("the error reaches the caller and the checkpoint stays put", func(t *testing.T) {
		adapter, _, _, service, ledger := newFaultyHarness(t)

		_, err := service.OpenAccount(ctx, "A1", "Alice", 100, "USD")
		require.NoError(t, err)

		_, err = service.Deposit(ctx, "A1", 50, "", "T1")
		require.Error(t, err, "a projection failure must not be swallowed")

		// The event itself is durably appended.
		total, err := ledger.TotalEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)

		checkpoints, err := adapter.Checkpoints(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), checkpoints[ledgerkit.ProjectionAccountSummaries].Position)
	})

	t.Run("redelivering the failed event applies it", func(t *testing.T) {
		adapter, readModels, projector, service, ledger := newFaultyHarness(t)

		_, err := service.OpenAccount(ctx, "A1", "Alice", 100, "USD")
		require.NoError(t, err)
		_, err = service.Deposit(ctx, "A1", 50, "", "T1")
		require.Error(t, err)

		events, err := ledger.History(ctx, "A1")
		require.NoError(t, err)
		require.NoError(t, projector.ProjectEvents(ctx, events))

		summary, err := readModels.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(150), summary.Balance)

		checkpoints, err := adapter.Checkpoints(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), checkpoints[ledgerkit.ProjectionAccountSummaries].Position)
	})

	t.Run("a later event replays the missed one instead of skipping it", func(t *testing.T) {
		_, readModels, _, service, _ := newFaultyHarness(t)

		_, err := service.OpenAccount(ctx, "A1", "Alice", 100, "USD")
		require.NoError(t, err)
		_, err = service.Deposit(ctx, "A1", 50, "", "T1")
		require.Error(t, err)

		// The next command projects the missed deposit before its own
		// event, so no balance is lost.
		_, err = service.Deposit(ctx, "A1", 25, "", "T2")
		require.NoError(t, err)

		summary, err := readModels.GetSummary(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(175), summary.Balance)
		assert.Equal(t, int64(3), summary.Version)
	})
}

func TestProjector_Status(t *testing.T) {
	ctx := context.Background()

	t.Run("reports checkpoints and lag", func(t *testing.T) {
		adapter := memory.NewAdapter()
		readModels := memory.NewReadModelStore()
		projector := ledgerkit.NewProjector(adapter, adapter, []ledgerkit.Projection{
			ledgerkit.NewSummaryProjection(readModels),
			ledgerkit.NewHistoryProjection(readModels),
		})

		// Events appended without the projector attached stay unprojected.
		ledger := ledgerkit.New(adapter)
		_, err := ledger.AppendEvent(ctx, "A1", 0,
			&ledgerkit.AccountCreated{OwnerName: "Alice", InitialBalance: 100, Currency: "USD"},
			&ledgerkit.MoneyDeposited{Amount: 50, TransactionID: "T1"},
			&ledgerkit.MoneyDeposited{Amount: 25, TransactionID: "T2"},
		)
		require.NoError(t, err)

		status, err := projector.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), status.TotalEvents)
		assert.Equal(t, int64(3), status.LastPosition)
		require.Len(t, status.Projections, 2)
		for _, projection := range status.Projections {
			assert.Equal(t, int64(0), projection.Checkpoint)
			assert.Equal(t, int64(3), projection.Lag)
		}
	})

	t.Run("lag drops to zero once caught up", func(t *testing.T) {
		h := newProjectionHarness(t)

		_, err := h.service.OpenAccount(ctx, "A1", "Alice", 100, "USD")
		require.NoError(t, err)
		_, err = h.service.Deposit(ctx, "A1", 50, "", "T1")
		require.NoError(t, err)

		status, err := h.projector.Status(ctx)
		require.NoError(t, err)
		for _, projection := range status.Projections {
			assert.Equal(t, int64(2), projection.Checkpoint)
			assert.Equal(t, int64(0), projection.Lag)
			assert.False(t, projection.UpdatedAt.IsZero(), "checkpoint save stamps the update time")
		}
	})

	t.Run("independent projections progress independently", func(t *testing.T) {
		adapter := memory.NewAdapter()
		readModels := memory.NewReadModelStore()

		summaryOnly := ledgerkit.NewProjector(adapter, adapter, []ledgerkit.Projection{
			ledgerkit.NewSummaryProjection(readModels),
		})

		ledger := ledgerkit.New(adapter, ledgerkit.WithProjector(summaryOnly))
		service := ledgerkit.NewAccountService(ledger)

		_, err := service.OpenAccount(ctx, "A1", "Alice", 100, "USD")
		require.NoError(t, err)

		both := ledgerkit.NewProjector(adapter, adapter, []ledgerkit.Projection{
			ledgerkit.NewSummaryProjection(readModels),
			ledgerkit.NewHistoryProjection(readModels),
		})

		status, err := both.Status(ctx)
		require.NoError(t, err)
		byName := map[string]ledgerkit.ProjectionStatus{}
		for _, projection := range status.Projections {
			byName[projection.Name] = projection
		}
		assert.Equal(t, int64(1), byName[ledgerkit.ProjectionAccountSummaries].Checkpoint)
		assert.Equal(t, int64(0), byName[ledgerkit.ProjectionTransactionHistory].Checkpoint)
		assert.Equal(t, int64(1), byName[ledgerkit.ProjectionTransactionHistory].Lag)
	})
}

func TestProjector_DuplicateTransactionAcrossSnapshot(t *testing.T) {
	ctx := context.Background()

	adapter := memory.NewAdapter()
	readModels := memory.NewReadModelStore()
	projector := ledgerkit.NewProjector(adapter, adapter, []ledgerkit.Projection{
		ledgerkit.NewSummaryProjection(readModels),
		ledgerkit.NewHistoryProjection(readModels),
	})
	ledger := ledgerkit.New(adapter,
		ledgerkit.WithSnapshots(adapter),
		ledgerkit.WithSnapshotInterval(1),
		ledgerkit.WithProjector(projector),
	)
	service := ledgerkit.NewAccountService(ledger)

	_, err := service.OpenAccount(ctx, "A1", "Alice", 100, "USD")
	require.NoError(t, err)
	_, err = service.Deposit(ctx, "A1", 50, "payday", "T1")
	require.NoError(t, err)

	// Snapshots drop the processed-transaction set, so the duplicate gets
	// past command deduplication and appends a second event.
	_, err = service.Deposit(ctx, "A1", 50, "payday", "T1")
	require.NoError(t, err)

	events, err := ledger.History(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, events, 3, "the duplicate event is in the log")

	// The history read model still records the transaction once.
	count, err := readModels.CountTransactions(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProjector_InlineWiring(t *testing.T) {
	ctx := context.Background()
	h := newProjectionHarness(t)

	_, err := h.service.OpenAccount(ctx, "A1", "Alice", 100, "USD")
	require.NoError(t, err)

	// The inline projector already applied the event by the time the
	// command returned.
	summary, err := h.readModels.GetSummary(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), summary.Balance)
}
