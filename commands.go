package ledgerkit

import (
	"context"
	"strings"
)

// AccountService is the command layer. It validates input, enforces
// business rules against the current fold, and appends the resulting
// events through the ledger with optimistic retry.
type AccountService struct {
	ledger *Ledger
	logger Logger
}

// ServiceOption configures an AccountService.
type ServiceOption func(*AccountService)

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *AccountService) {
		s.logger = logger
	}
}

// NewAccountService creates a command service over a ledger.
func NewAccountService(ledger *Ledger, opts ...ServiceOption) *AccountService {
	s := &AccountService{
		ledger: ledger,
		logger: &noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenAccount creates a new account with an initial balance. Fails with
// ErrAccountExists if the account already has events.
func (s *AccountService) OpenAccount(ctx context.Context, accountID, ownerName string, initialBalance int64, currency string) (AccountState, error) {
	if accountID == "" {
		return AccountState{}, NewValidationError("accountId", "must not be empty")
	}
	if strings.TrimSpace(ownerName) == "" {
		return AccountState{}, NewValidationError("ownerName", "must not be empty")
	}
	if initialBalance < 0 {
		return AccountState{}, NewValidationError("initialBalance", "must not be negative")
	}
	if len(currency) != 3 {
		return AccountState{}, NewValidationError("currency", "must be a 3-letter code")
	}
	currency = strings.ToUpper(currency)

	state, err := s.ledger.Execute(ctx, accountID, func(state AccountState) ([]interface{}, error) {
		if state.Status != StatusNone {
			return nil, ErrAccountExists
		}
		return []interface{}{&AccountCreated{
			OwnerName:      ownerName,
			InitialBalance: initialBalance,
			Currency:       currency,
		}}, nil
	})
	if err != nil {
		return AccountState{}, err
	}

	s.logger.Info("account opened",
		"account_id", accountID,
		"owner", ownerName,
		"currency", currency)

	return state, nil
}

// Deposit adds funds to an open account. A transaction ID that has already
// been applied makes the deposit a no-op and returns the current state.
func (s *AccountService) Deposit(ctx context.Context, accountID string, amount int64, description, transactionID string) (AccountState, error) {
	if err := validateTransaction(accountID, amount, transactionID); err != nil {
		return AccountState{}, err
	}

	return s.ledger.Execute(ctx, accountID, func(state AccountState) ([]interface{}, error) {
		if err := requireOpen(state); err != nil {
			return nil, err
		}
		if state.HasProcessed(transactionID) {
			s.logger.Info("duplicate transaction ignored",
				"account_id", accountID,
				"transaction_id", transactionID)
			return nil, nil
		}
		return []interface{}{&MoneyDeposited{
			Amount:        amount,
			Description:   description,
			TransactionID: transactionID,
		}}, nil
	})
}

// Withdraw removes funds from an open account. Fails with
// ErrInsufficientFunds if the amount exceeds the balance. Duplicate
// transaction IDs are a no-op.
func (s *AccountService) Withdraw(ctx context.Context, accountID string, amount int64, description, transactionID string) (AccountState, error) {
	if err := validateTransaction(accountID, amount, transactionID); err != nil {
		return AccountState{}, err
	}

	return s.ledger.Execute(ctx, accountID, func(state AccountState) ([]interface{}, error) {
		if err := requireOpen(state); err != nil {
			return nil, err
		}
		if state.HasProcessed(transactionID) {
			s.logger.Info("duplicate transaction ignored",
				"account_id", accountID,
				"transaction_id", transactionID)
			return nil, nil
		}
		if state.Balance < amount {
			return nil, ErrInsufficientFunds
		}
		return []interface{}{&MoneyWithdrawn{
			Amount:        amount,
			Description:   description,
			TransactionID: transactionID,
		}}, nil
	})
}

// Close closes an open account. The balance must be zero.
func (s *AccountService) Close(ctx context.Context, accountID, reason string) (AccountState, error) {
	if accountID == "" {
		return AccountState{}, NewValidationError("accountId", "must not be empty")
	}

	state, err := s.ledger.Execute(ctx, accountID, func(state AccountState) ([]interface{}, error) {
		if err := requireOpen(state); err != nil {
			return nil, err
		}
		if state.Balance != 0 {
			return nil, ErrBalanceNotZero
		}
		return []interface{}{&AccountClosed{Reason: reason}}, nil
	})
	if err != nil {
		return AccountState{}, err
	}

	s.logger.Info("account closed", "account_id", accountID)

	return state, nil
}

func validateTransaction(accountID string, amount int64, transactionID string) error {
	if accountID == "" {
		return NewValidationError("accountId", "must not be empty")
	}
	if amount <= 0 {
		return NewValidationError("amount", "must be positive")
	}
	if transactionID == "" {
		return NewValidationError("transactionId", "must not be empty")
	}
	return nil
}

func requireOpen(state AccountState) error {
	switch state.Status {
	case StatusOpen:
		return nil
	case StatusClosed:
		return ErrAccountClosed
	default:
		return NewAccountNotFoundError(state.AccountID)
	}
}
