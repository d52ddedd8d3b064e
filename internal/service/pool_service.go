package service

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchange-core/internal/domain"
	"exchange-core/internal/errors"
	"exchange-core/internal/repository"
)

// PoolService is the remittance pool manager: it owns the per-day,
// per-currency stock of sellable currency and its append-only movement
// trail.
type PoolService struct {
	store  *repository.Store
	logger *slog.Logger
}

func NewPoolService(store *repository.Store, logger *slog.Logger) *PoolService {
	return &PoolService{
		store:  store,
		logger: logger,
	}
}

// Deposit registers a treasury deposit for (date, currency). A deposit
// arriving for a day that already has an active pool increments that
// pool; it never creates a second row.
func (s *PoolService) Deposit(date, currency string, amount decimal.Decimal, source string) (*domain.RemittancePool, error) {
	currency = NormalizeCurrency(currency)
	if currency == "" || date == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "date and currency are required")
	}
	if amount.IsNegative() || amount.IsZero() {
		return nil, errors.ErrInvalidAmount
	}

	var pool *domain.RemittancePool
	err := s.store.WithTransaction(func(st *repository.Store) error {
		before := decimal.Zero
		if existing, err := st.Pools().GetActivePool(date, currency); err == nil {
			before = existing.Available
		} else if appErr, ok := err.(*errors.AppError); !ok || appErr.Code != errors.PoolNotFound {
			return err
		}

		var err error
		pool, err = st.Pools().UpsertDeposit(date, currency, amount)
		if err != nil {
			return err
		}

		return st.Pools().AppendMovement(&domain.PoolMovement{
			ID:            uuid.New(),
			PoolID:        pool.ID,
			Type:          domain.MovementDeposit,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  pool.Available,
			Actor:         source,
		})
	})
	if err != nil {
		return nil, err
	}

	return pool, nil
}

// RecordSale depletes the pool for one completed sale and appends the
// movement, in the caller's transaction. A PoolOverdrawn from the
// repository means the quota gate was bypassed; it propagates as a
// fatal consistency violation and the caller rolls everything back.
func (s *PoolService) RecordSale(st *repository.Store, poolID uuid.UUID, amount decimal.Decimal, txID uuid.UUID, actor string) (*domain.RemittancePool, error) {
	before, err := st.Pools().GetPool(poolID)
	if err != nil {
		return nil, err
	}

	pool, err := st.Pools().RecordSale(poolID, amount)
	if err != nil {
		return nil, err
	}

	err = st.Pools().AppendMovement(&domain.PoolMovement{
		ID:            uuid.New(),
		PoolID:        pool.ID,
		TransactionID: &txID,
		Type:          domain.MovementSale,
		Amount:        amount,
		BalanceBefore: before.Available,
		BalanceAfter:  pool.Available,
		Actor:         actor,
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// ReverseSale puts a reversed sale's amount back into the pool and
// appends the compensating movement.
func (s *PoolService) ReverseSale(st *repository.Store, poolID uuid.UUID, amount decimal.Decimal, txID uuid.UUID, actor string) (*domain.RemittancePool, error) {
	before, err := st.Pools().GetPool(poolID)
	if err != nil {
		return nil, err
	}

	pool, err := st.Pools().ReverseSale(poolID, amount)
	if err != nil {
		return nil, err
	}

	err = st.Pools().AppendMovement(&domain.PoolMovement{
		ID:            uuid.New(),
		PoolID:        pool.ID,
		TransactionID: &txID,
		Type:          domain.MovementReversal,
		Amount:        amount,
		BalanceBefore: before.Available,
		BalanceAfter:  pool.Available,
		Actor:         actor,
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// GetActivePool returns the pool quota checks use for (date, currency),
// or PoolNotFound.
func (s *PoolService) GetActivePool(date, currency string) (*domain.RemittancePool, error) {
	return s.store.Pools().GetActivePool(date, NormalizeCurrency(currency))
}

// ListMovements returns the pool's full audit trail, oldest first.
func (s *PoolService) ListMovements(poolID uuid.UUID) ([]*domain.PoolMovement, error) {
	return s.store.Pools().ListMovements(poolID)
}
