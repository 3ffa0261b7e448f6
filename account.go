package ledgerkit

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

// Account lifecycle states.
const (
	// StatusNone means no AccountCreated event has been folded yet.
	StatusNone AccountStatus = "NONE"

	// StatusOpen means the account accepts deposits and withdrawals.
	StatusOpen AccountStatus = "OPEN"

	// StatusClosed means the account rejects all further operations.
	StatusClosed AccountStatus = "CLOSED"
)

// AccountState is the fold of an account's event stream. Balances are in
// minor currency units (cents).
type AccountState struct {
	AccountID string
	OwnerName string
	Balance   int64
	Currency  string
	Status    AccountStatus

	// ProcessedTransactionIDs records the transaction IDs of every
	// deposit and withdrawal folded into this state. Rebuilt only from
	// events; snapshots do not carry it.
	ProcessedTransactionIDs map[string]struct{}

	// Version is the event number of the last event applied, 0 for a
	// fresh state.
	Version int64
}

// InitialState returns the state of an account before any events.
func InitialState(accountID string) AccountState {
	return AccountState{
		AccountID:               accountID,
		Status:                  StatusNone,
		ProcessedTransactionIDs: make(map[string]struct{}),
	}
}

// ApplyEvent folds a single event into the state and returns the new state.
// It is pure: it validates nothing, performs no I/O, and never fails.
// Unknown event types advance Version and change nothing else.
func ApplyEvent(state AccountState, event Event) AccountState {
	next := state
	next.ProcessedTransactionIDs = cloneIDs(state.ProcessedTransactionIDs)

	switch payload := event.Payload.(type) {
	case *AccountCreated:
		next.OwnerName = payload.OwnerName
		next.Balance = payload.InitialBalance
		next.Currency = payload.Currency
		next.Status = StatusOpen
	case *MoneyDeposited:
		next.Balance += payload.Amount
		next.ProcessedTransactionIDs[payload.TransactionID] = struct{}{}
	case *MoneyWithdrawn:
		next.Balance -= payload.Amount
		next.ProcessedTransactionIDs[payload.TransactionID] = struct{}{}
	case *AccountClosed:
		next.Status = StatusClosed
	}

	next.Version = event.EventNumber
	return next
}

// Replay folds a sequence of events, in order, onto a starting state.
func Replay(state AccountState, events []Event) AccountState {
	for _, event := range events {
		state = ApplyEvent(state, event)
	}
	return state
}

// HasProcessed reports whether a transaction ID has already been applied.
func (s AccountState) HasProcessed(transactionID string) bool {
	_, ok := s.ProcessedTransactionIDs[transactionID]
	return ok
}

func cloneIDs(ids map[string]struct{}) map[string]struct{} {
	clone := make(map[string]struct{}, len(ids)+1)
	for id := range ids {
		clone[id] = struct{}{}
	}
	return clone
}
