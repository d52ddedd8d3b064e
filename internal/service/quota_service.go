package service

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchange-core/internal/domain"
	"exchange-core/internal/errors"
	"exchange-core/internal/repository"
)

// QuotaService gates sales against the configured daily limit and the
// physical remittance pool. Admission and the subsequent balance
// mutations run inside the same database transaction, so a granted
// admission cannot be raced out from under the caller.
type QuotaService struct {
	store  *repository.Store
	logger *slog.Logger
}

func NewQuotaService(store *repository.Store, logger *slog.Logger) *QuotaService {
	return &QuotaService{
		store:  store,
		logger: logger,
	}
}

// Decision is the structured outcome of an admission check. Denials are
// expected business outcomes, not failures: Reason tells the client
// exactly which constraint stopped the sale.
type Decision struct {
	Allowed bool             `json:"allowed"`
	Code    errors.ErrorCode `json:"code,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Limit   *domain.DailyLimit
	Pool    *domain.RemittancePool
}

func deny(err *errors.AppError) *Decision {
	return &Decision{Allowed: false, Code: err.Code, Reason: err.Message}
}

// AdmitSale decides whether amount of currency may be sold on date,
// using the caller's transaction. Policy, in order: no configured limit
// means deny (an exchange house must not silently allow unlimited
// sales); the limit ceiling; the pool's physical availability, which a
// misconfigured limit can never override. On admission the limit's sold
// counter is incremented atomically, with the 80/95 alert flags latched
// the first time utilization crosses each threshold.
func (s *QuotaService) AdmitSale(st *repository.Store, date, currency string, amount decimal.Decimal) (*Decision, error) {
	currency = NormalizeCurrency(currency)
	if amount.IsNegative() || amount.IsZero() {
		return nil, errors.ErrInvalidAmount
	}

	limit, err := st.Limits().GetActiveLimit(date, currency)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.NoLimitConfigured {
			s.logger.Warn("Sale denied, no limit configured", "date", date, "currency", currency)
			return deny(errors.ErrNoLimitConfigured), nil
		}
		return nil, err
	}

	if limit.Sold.Add(amount).GreaterThan(limit.Limit) {
		s.logger.Info("Sale denied, limit exceeded",
			"date", date, "currency", currency, "amount", amount,
			"sold", limit.Sold, "limit", limit.Limit)
		return deny(errors.ErrLimitExceeded), nil
	}

	// Locked read: the availability checked here is guaranteed to still
	// hold when the sale's decrement runs later in this transaction, so
	// a racing sale is denied here instead of tripping the pool's
	// overdraw guard.
	pool, err := st.Pools().GetActivePoolForUpdate(date, currency)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.PoolNotFound {
			s.logger.Warn("Sale denied, no active pool", "date", date, "currency", currency)
			return deny(errors.ErrInsufficientPool), nil
		}
		return nil, err
	}
	if amount.GreaterThan(pool.Available) {
		s.logger.Info("Sale denied, insufficient pool",
			"date", date, "currency", currency, "amount", amount, "available", pool.Available)
		return deny(errors.ErrInsufficientPool), nil
	}

	updated, err := st.Limits().RegisterSale(limit.ID, amount)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.LimitExceeded {
			// Lost a race between the read and the conditional update.
			return deny(errors.ErrLimitExceeded), nil
		}
		return nil, err
	}

	if updated.Alert95 && !limit.Alert95 {
		s.logger.Warn("Daily limit utilization crossed 95%",
			"date", date, "currency", currency, "utilization_pct", updated.UtilizationPct)
	} else if updated.Alert80 && !limit.Alert80 {
		s.logger.Warn("Daily limit utilization crossed 80%",
			"date", date, "currency", currency, "utilization_pct", updated.UtilizationPct)
	}

	return &Decision{Allowed: true, Limit: updated, Pool: pool}, nil
}

// ReverseSale returns a reversed transaction's amount to the day's
// limit. Alert latches stay set for the rest of the day.
func (s *QuotaService) ReverseSale(st *repository.Store, date, currency string, amount decimal.Decimal) (*domain.DailyLimit, error) {
	limit, err := st.Limits().GetActiveLimit(date, NormalizeCurrency(currency))
	if err != nil {
		return nil, err
	}
	return st.Limits().ReverseSale(limit.ID, amount)
}

// ConfigureLimit activates a new daily limit for (date, currency),
// deactivating all siblings in the same transaction: quota checks must
// never find two active limits for one key.
func (s *QuotaService) ConfigureLimit(date, currency string, value decimal.Decimal) (*domain.DailyLimit, error) {
	currency = NormalizeCurrency(currency)
	if date == "" || currency == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "date and currency are required")
	}
	if value.IsNegative() {
		return nil, errors.NewAppError(errors.InvalidInput, "limit must not be negative")
	}

	limit := &domain.DailyLimit{
		ID:             uuid.New(),
		Date:           date,
		Currency:       currency,
		Limit:          value,
		Sold:           decimal.Zero,
		Available:      value,
		UtilizationPct: decimal.Zero,
		IsActive:       true,
	}

	err := s.store.WithTransaction(func(st *repository.Store) error {
		if err := st.Limits().DeactivateLimits(date, currency); err != nil {
			return err
		}
		return st.Limits().CreateLimit(limit)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Daily limit configured", "date", date, "currency", currency, "limit", value)
	return limit, nil
}

// GetActiveLimit exposes the current limit for reporting and the
// treasury UI.
func (s *QuotaService) GetActiveLimit(date, currency string) (*domain.DailyLimit, error) {
	return s.store.Limits().GetActiveLimit(date, NormalizeCurrency(currency))
}
