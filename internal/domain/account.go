package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountBlocked  AccountStatus = "blocked"
)

// Account holds one client's balance in one currency. At most one
// active account exists per (client, currency); balances are mutated
// only through Credit/Debit.
type Account struct {
	ID        uuid.UUID       `json:"account_id"`
	ClientID  string          `json:"client_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Status    AccountStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type AccountRepository interface {
	CreateAccount(account *Account) error
	GetAccount(id uuid.UUID) (*Account, error)
	GetActiveAccount(clientID, currency string) (*Account, error)
	ListAccounts(clientID string) ([]*Account, error)
	// Debit subtracts amount in a single conditional update and returns
	// the new balance. The balance never goes negative, even under
	// concurrent callers.
	Debit(id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	// Credit adds amount and returns the new balance.
	Credit(id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	UpdateAccountStatus(id uuid.UUID, status AccountStatus) error
}
