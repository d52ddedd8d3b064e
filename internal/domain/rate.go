package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateSnapshot is one published exchange rate for a currency pair.
// Exactly one snapshot per pair is active at a time; activating a new
// one deactivates the previous in the same database transaction.
// Snapshots are immutable apart from the active flag.
type RateSnapshot struct {
	ID         uuid.UUID       `json:"snapshot_id"`
	Pair       string          `json:"pair"` // normalized "BASE/QUOTE", e.g. "USD/VES"
	Rate       decimal.Decimal `json:"rate"`
	Source     string          `json:"source"`
	IsActive   bool            `json:"is_active"`
	CapturedAt time.Time       `json:"captured_at"`
}

type RateRepository interface {
	// DeactivatePair clears the active flag on the pair's current
	// snapshot, if any.
	DeactivatePair(pair string) error
	CreateSnapshot(snapshot *RateSnapshot) error
	GetActiveSnapshot(pair string) (*RateSnapshot, error)
}
