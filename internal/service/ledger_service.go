package service

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchange-core/internal/domain"
	"exchange-core/internal/errors"
	"exchange-core/internal/repository"
)

// LedgerService owns account balances. Credit and Debit are the only
// balance mutators in the whole system.
type LedgerService struct {
	store  *repository.Store
	logger *slog.Logger
}

func NewLedgerService(store *repository.Store, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		logger: logger,
	}
}

// GetOrCreateAccount returns the client's active account in the given
// currency, creating it with zero balance if absent. A concurrent
// create racing past the lookup lands on the partial unique index and
// resolves to the surviving row.
func (s *LedgerService) GetOrCreateAccount(st *repository.Store, clientID, currency string) (*domain.Account, error) {
	currency = NormalizeCurrency(currency)
	if clientID == "" || currency == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "client id and currency are required")
	}

	account, err := st.Accounts().GetActiveAccount(clientID, currency)
	if err == nil {
		return account, nil
	}
	if appErr, ok := err.(*errors.AppError); !ok || appErr.Code != errors.AccountNotFound {
		return nil, err
	}

	account = &domain.Account{
		ID:       uuid.New(),
		ClientID: clientID,
		Currency: currency,
		Balance:  decimal.Zero,
		Status:   domain.AccountActive,
	}
	if err := st.Accounts().CreateAccount(account); err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.DuplicateActiveAccount {
			return st.Accounts().GetActiveAccount(clientID, currency)
		}
		return nil, err
	}
	return account, nil
}

// Debit removes amount from the account. Fails with InsufficientFunds
// if amount exceeds the balance; the balance is never negative, even
// transiently. Returns the new balance.
func (s *LedgerService) Debit(st *repository.Store, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() || amount.IsZero() {
		return decimal.Zero, errors.ErrInvalidAmount
	}
	return st.Accounts().Debit(accountID, amount)
}

// Credit adds amount to the account and returns the new balance.
func (s *LedgerService) Credit(st *repository.Store, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() || amount.IsZero() {
		return decimal.Zero, errors.ErrInvalidAmount
	}
	return st.Accounts().Credit(accountID, amount)
}

// ListAccounts returns every account the client holds, in any status.
func (s *LedgerService) ListAccounts(clientID string) ([]*domain.Account, error) {
	if clientID == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "client id is required")
	}
	return s.store.Accounts().ListAccounts(clientID)
}

// SetAccountStatus blocks, deactivates, or reactivates an account.
// Accounts are never deleted.
func (s *LedgerService) SetAccountStatus(accountID uuid.UUID, status domain.AccountStatus) error {
	switch status {
	case domain.AccountActive, domain.AccountInactive, domain.AccountBlocked:
	default:
		return errors.NewAppError(errors.InvalidInput, "unknown account status")
	}
	return s.store.Accounts().UpdateAccountStatus(accountID, status)
}
