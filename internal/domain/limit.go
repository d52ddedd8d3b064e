package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DailyLimit is the configured ceiling on how much of a currency may be
// sold in one day, independent of physical pool availability. One
// active limit per (date, currency); activating a new one deactivates
// all siblings. Available and UtilizationPct are derived from Sold and
// never set independently.
type DailyLimit struct {
	ID             uuid.UUID       `json:"limit_id"`
	Date           string          `json:"date"` // "2006-01-02"
	Currency       string          `json:"currency"`
	Limit          decimal.Decimal `json:"limit"`
	Sold           decimal.Decimal `json:"sold"`
	Available      decimal.Decimal `json:"available"`
	UtilizationPct decimal.Decimal `json:"utilization_pct"`
	Alert80        bool            `json:"alert_80"`
	Alert95        bool            `json:"alert_95"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type LimitRepository interface {
	GetActiveLimit(date, currency string) (*DailyLimit, error)
	// DeactivateLimits clears the active flag on every limit for
	// (date, currency) so a replacement can be activated exclusively.
	DeactivateLimits(date, currency string) error
	CreateLimit(limit *DailyLimit) error
	// RegisterSale adds amount to sold, recomputes available and
	// utilization, and latches the 80/95 alert flags, all in one
	// conditional update that fails if the limit would be exceeded.
	RegisterSale(id uuid.UUID, amount decimal.Decimal) (*DailyLimit, error)
	// ReverseSale subtracts amount from sold and recomputes the
	// derived columns. Alert latches stay set.
	ReverseSale(id uuid.UUID, amount decimal.Decimal) (*DailyLimit, error)
}
