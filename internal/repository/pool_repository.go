package repository

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchange-core/internal/domain"
	"exchange-core/internal/errors"
)

type poolRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewPoolRepository(db SQLExecutor, logger *slog.Logger) domain.PoolRepository {
	return &poolRepository{
		db:     db,
		logger: logger,
	}
}

const poolColumns = `id, pool_date::text, currency, received::text, sold::text, reserved::text, available::text, is_active, created_at, updated_at`

func (r *poolRepository) GetActivePool(date, currency string) (*domain.RemittancePool, error) {
	query := `SELECT ` + poolColumns + `
		FROM remittance_pools
		WHERE pool_date = $1::date AND currency = $2 AND is_active = true`
	return r.scanPool(r.db.QueryRow(query, date, currency))
}

// GetActivePoolForUpdate serializes concurrent sales on the pool row:
// once a transaction holds the lock, the availability it read cannot be
// consumed by a racing sale before its own decrement lands.
func (r *poolRepository) GetActivePoolForUpdate(date, currency string) (*domain.RemittancePool, error) {
	query := `SELECT ` + poolColumns + `
		FROM remittance_pools
		WHERE pool_date = $1::date AND currency = $2 AND is_active = true
		FOR UPDATE`
	return r.scanPool(r.db.QueryRow(query, date, currency))
}

func (r *poolRepository) GetPool(id uuid.UUID) (*domain.RemittancePool, error) {
	query := `SELECT ` + poolColumns + ` FROM remittance_pools WHERE id = $1`
	return r.scanPool(r.db.QueryRow(query, id))
}

// UpsertDeposit relies on the partial unique index over
// (pool_date, currency) WHERE is_active: a second same-day deposit
// lands on the existing row instead of creating a sibling that would
// double-count availability.
func (r *poolRepository) UpsertDeposit(date, currency string, amount decimal.Decimal) (*domain.RemittancePool, error) {
	query := `
		INSERT INTO remittance_pools
			(id, pool_date, currency, received, sold, reserved, available, is_active, created_at, updated_at)
		VALUES ($1, $2::date, $3, $4::numeric, 0, 0, $4::numeric, true, $5, $5)
		ON CONFLICT (pool_date, currency) WHERE is_active DO UPDATE SET
			received = remittance_pools.received + EXCLUDED.received,
			available = remittance_pools.available + EXCLUDED.received,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + poolColumns

	pool, err := r.scanPool(r.db.QueryRow(query, uuid.New(), date, currency, amount.String(), time.Now()))
	if err != nil {
		r.logger.Error("Failed to upsert pool deposit",
			"date", date, "currency", currency, "amount", amount, "error", err)
		return nil, err
	}

	r.logger.Info("Pool deposit recorded",
		"pool_id", pool.ID, "date", date, "currency", currency,
		"amount", amount, "received", pool.Received, "available", pool.Available)
	return pool, nil
}

// RecordSale is a single conditional update; two concurrent sales
// cannot both pass the availability check and overdraw the pool.
func (r *poolRepository) RecordSale(id uuid.UUID, amount decimal.Decimal) (*domain.RemittancePool, error) {
	query := `
		UPDATE remittance_pools
		SET sold = sold + $1::numeric, available = available - $1::numeric, updated_at = $2
		WHERE id = $3 AND is_active = true AND available >= $1::numeric
		RETURNING ` + poolColumns

	pool, err := r.scanPool(r.db.QueryRow(query, amount.String(), time.Now(), id))
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.PoolNotFound {
			if _, getErr := r.GetPool(id); getErr != nil {
				return nil, getErr
			}
			// Pool exists but available < amount: the quota gate was
			// bypassed or raced. Integrity alert, not a business denial.
			r.logger.Error("INTEGRITY: pool sale would overdraw available",
				"pool_id", id, "amount", amount)
			return nil, errors.ErrPoolOverdrawn
		}
		return nil, err
	}

	r.logger.Info("Pool sale recorded",
		"pool_id", id, "amount", amount, "sold", pool.Sold, "available", pool.Available)
	return pool, nil
}

func (r *poolRepository) ReverseSale(id uuid.UUID, amount decimal.Decimal) (*domain.RemittancePool, error) {
	query := `
		UPDATE remittance_pools
		SET sold = sold - $1::numeric, available = available + $1::numeric, updated_at = $2
		WHERE id = $3 AND sold >= $1::numeric
		RETURNING ` + poolColumns

	pool, err := r.scanPool(r.db.QueryRow(query, amount.String(), time.Now(), id))
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.PoolNotFound {
			r.logger.Error("INTEGRITY: pool reversal exceeds recorded sales",
				"pool_id", id, "amount", amount)
			return nil, errors.ErrPoolOverdrawn
		}
		return nil, err
	}

	r.logger.Info("Pool sale reversed",
		"pool_id", id, "amount", amount, "sold", pool.Sold, "available", pool.Available)
	return pool, nil
}

func (r *poolRepository) AppendMovement(movement *domain.PoolMovement) error {
	query := `
		INSERT INTO pool_movements
			(id, pool_id, transaction_id, type, amount, balance_before, balance_after, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var txID interface{}
	if movement.TransactionID != nil {
		txID = *movement.TransactionID
	}

	now := time.Now()
	_, err := r.db.Exec(
		query,
		movement.ID,
		movement.PoolID,
		txID,
		movement.Type,
		movement.Amount.String(),
		movement.BalanceBefore.String(),
		movement.BalanceAfter.String(),
		movement.Actor,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to append pool movement",
			"pool_id", movement.PoolID, "type", movement.Type, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to append pool movement").WithDetails(err.Error())
	}

	movement.CreatedAt = now
	return nil
}

func (r *poolRepository) ListMovements(poolID uuid.UUID) ([]*domain.PoolMovement, error) {
	query := `
		SELECT id, pool_id, transaction_id, type, amount::text, balance_before::text, balance_after::text, actor, created_at
		FROM pool_movements WHERE pool_id = $1 ORDER BY created_at
	`

	rows, err := r.db.Query(query, poolID)
	if err != nil {
		r.logger.Error("Failed to list pool movements", "pool_id", poolID, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list pool movements").WithDetails(err.Error())
	}
	defer rows.Close()

	var movements []*domain.PoolMovement
	for rows.Next() {
		var m domain.PoolMovement
		var txID sql.NullString
		var amountStr, beforeStr, afterStr string

		err := rows.Scan(&m.ID, &m.PoolID, &txID, &m.Type, &amountStr, &beforeStr, &afterStr, &m.Actor, &m.CreatedAt)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan pool movement").WithDetails(err.Error())
		}

		if m.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse movement amount").WithDetails(err.Error())
		}
		if m.BalanceBefore, err = decimal.NewFromString(beforeStr); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse movement balance").WithDetails(err.Error())
		}
		if m.BalanceAfter, err = decimal.NewFromString(afterStr); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse movement balance").WithDetails(err.Error())
		}
		if txID.Valid {
			id, err := uuid.Parse(txID.String)
			if err != nil {
				return nil, errors.NewAppError(errors.InternalError, "failed to parse movement transaction id").WithDetails(err.Error())
			}
			m.TransactionID = &id
		}

		movements = append(movements, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list pool movements").WithDetails(err.Error())
	}
	return movements, nil
}

func (r *poolRepository) scanPool(row *sql.Row) (*domain.RemittancePool, error) {
	var pool domain.RemittancePool
	var receivedStr, soldStr, reservedStr, availableStr string

	err := row.Scan(
		&pool.ID,
		&pool.Date,
		&pool.Currency,
		&receivedStr,
		&soldStr,
		&reservedStr,
		&availableStr,
		&pool.IsActive,
		&pool.CreatedAt,
		&pool.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrPoolNotFound
		}
		r.logger.Error("Failed to scan pool", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get pool").WithDetails(err.Error())
	}

	if pool.Received, err = decimal.NewFromString(receivedStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse pool received").WithDetails(err.Error())
	}
	if pool.Sold, err = decimal.NewFromString(soldStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse pool sold").WithDetails(err.Error())
	}
	if pool.Reserved, err = decimal.NewFromString(reservedStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse pool reserved").WithDetails(err.Error())
	}
	if pool.Available, err = decimal.NewFromString(availableStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse pool available").WithDetails(err.Error())
	}

	return &pool, nil
}
