package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RemittancePool is the day's sellable stock of one currency,
// replenished by treasury deposits and depleted by completed sales.
// One active pool per (date, currency): same-day deposits increment the
// existing row instead of creating a sibling, which would double-count
// availability.
//
// Invariant after every mutation: available = received - sold - reserved.
type RemittancePool struct {
	ID        uuid.UUID       `json:"pool_id"`
	Date      string          `json:"date"` // "2006-01-02"
	Currency  string          `json:"currency"`
	Received  decimal.Decimal `json:"received"`
	Sold      decimal.Decimal `json:"sold"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type MovementType string

const (
	MovementDeposit  MovementType = "deposit"
	MovementSale     MovementType = "sale"
	MovementReversal MovementType = "reversal"
)

// PoolMovement is one append-only audit entry recording a mutation to a
// pool's counters. Never updated or deleted.
type PoolMovement struct {
	ID            uuid.UUID       `json:"movement_id"`
	PoolID        uuid.UUID       `json:"pool_id"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	Type          MovementType    `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Actor         string          `json:"actor"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PoolRepository interface {
	GetActivePool(date, currency string) (*RemittancePool, error)
	// GetActivePoolForUpdate locks the pool row for the rest of the
	// caller's transaction. Admission checks use it so the availability
	// they read still holds when the sale decrements the pool.
	GetActivePoolForUpdate(date, currency string) (*RemittancePool, error)
	GetPool(id uuid.UUID) (*RemittancePool, error)
	// UpsertDeposit increments received/available on the active pool for
	// (date, currency), creating it if absent, in one atomic statement.
	UpsertDeposit(date, currency string, amount decimal.Decimal) (*RemittancePool, error)
	// RecordSale moves amount from available to sold in a single
	// conditional update; it fails rather than let available go negative.
	RecordSale(id uuid.UUID, amount decimal.Decimal) (*RemittancePool, error)
	// ReverseSale moves amount back from sold to available.
	ReverseSale(id uuid.UUID, amount decimal.Decimal) (*RemittancePool, error)
	AppendMovement(movement *PoolMovement) error
	ListMovements(poolID uuid.UUID) ([]*PoolMovement, error)
}
