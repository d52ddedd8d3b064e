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

type limitRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewLimitRepository(db SQLExecutor, logger *slog.Logger) domain.LimitRepository {
	return &limitRepository{
		db:     db,
		logger: logger,
	}
}

const limitColumns = `id, limit_date::text, currency, limit_amount::text, sold::text, available::text, utilization_pct::text, alert_80, alert_95, is_active, created_at, updated_at`

func (r *limitRepository) GetActiveLimit(date, currency string) (*domain.DailyLimit, error) {
	query := `SELECT ` + limitColumns + `
		FROM daily_limits
		WHERE limit_date = $1::date AND currency = $2 AND is_active = true`
	return r.scanLimit(r.db.QueryRow(query, date, currency))
}

func (r *limitRepository) getLimit(id uuid.UUID) (*domain.DailyLimit, error) {
	query := `SELECT ` + limitColumns + ` FROM daily_limits WHERE id = $1`
	return r.scanLimit(r.db.QueryRow(query, id))
}

func (r *limitRepository) DeactivateLimits(date, currency string) error {
	query := `
		UPDATE daily_limits SET is_active = false, updated_at = $1
		WHERE limit_date = $2::date AND currency = $3 AND is_active = true
	`

	_, err := r.db.Exec(query, time.Now(), date, currency)
	if err != nil {
		r.logger.Error("Failed to deactivate limits", "date", date, "currency", currency, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to deactivate limits").WithDetails(err.Error())
	}
	return nil
}

func (r *limitRepository) CreateLimit(limit *domain.DailyLimit) error {
	query := `
		INSERT INTO daily_limits
			(id, limit_date, currency, limit_amount, sold, available, utilization_pct, alert_80, alert_95, is_active, created_at, updated_at)
		VALUES ($1, $2::date, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $11)
	`

	now := time.Now()
	_, err := r.db.Exec(
		query,
		limit.ID,
		limit.Date,
		limit.Currency,
		limit.Limit.String(),
		limit.Sold.String(),
		limit.Available.String(),
		limit.UtilizationPct.String(),
		limit.Alert80,
		limit.Alert95,
		limit.IsActive,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create daily limit",
			"date", limit.Date, "currency", limit.Currency, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create daily limit").WithDetails(err.Error())
	}

	limit.CreatedAt = now
	limit.UpdatedAt = now
	r.logger.Info("Daily limit created",
		"limit_id", limit.ID, "date", limit.Date, "currency", limit.Currency, "limit", limit.Limit)
	return nil
}

// RegisterSale increments sold and recomputes every derived column in
// one conditional update, so concurrent admissions serialize on the row
// and sold can never pass the configured ceiling. The alert flags are
// one-way latches: OR keeps them set once crossed.
func (r *limitRepository) RegisterSale(id uuid.UUID, amount decimal.Decimal) (*domain.DailyLimit, error) {
	query := `
		UPDATE daily_limits
		SET sold = sold + $1::numeric,
		    available = limit_amount - (sold + $1::numeric),
		    utilization_pct = CASE WHEN limit_amount = 0 THEN 0
		        ELSE round((sold + $1::numeric) * 100 / limit_amount, 2) END,
		    alert_80 = alert_80 OR (sold + $1::numeric) * 100 >= limit_amount * 80,
		    alert_95 = alert_95 OR (sold + $1::numeric) * 100 >= limit_amount * 95,
		    updated_at = $2
		WHERE id = $3 AND is_active = true AND sold + $1::numeric <= limit_amount
		RETURNING ` + limitColumns

	limit, err := r.scanLimit(r.db.QueryRow(query, amount.String(), time.Now(), id))
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.NoLimitConfigured {
			if _, getErr := r.getLimit(id); getErr != nil {
				return nil, getErr
			}
			r.logger.Warn("Sale denied, daily limit exceeded", "limit_id", id, "amount", amount)
			return nil, errors.ErrLimitExceeded
		}
		return nil, err
	}

	r.logger.Info("Limit sale registered",
		"limit_id", id, "amount", amount, "sold", limit.Sold,
		"available", limit.Available, "utilization_pct", limit.UtilizationPct)
	return limit, nil
}

func (r *limitRepository) ReverseSale(id uuid.UUID, amount decimal.Decimal) (*domain.DailyLimit, error) {
	query := `
		UPDATE daily_limits
		SET sold = sold - $1::numeric,
		    available = limit_amount - (sold - $1::numeric),
		    utilization_pct = CASE WHEN limit_amount = 0 THEN 0
		        ELSE round((sold - $1::numeric) * 100 / limit_amount, 2) END,
		    updated_at = $2
		WHERE id = $3 AND sold >= $1::numeric
		RETURNING ` + limitColumns

	limit, err := r.scanLimit(r.db.QueryRow(query, amount.String(), time.Now(), id))
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.NoLimitConfigured {
			r.logger.Error("INTEGRITY: limit reversal exceeds recorded sales",
				"limit_id", id, "amount", amount)
			return nil, errors.ErrPoolOverdrawn
		}
		return nil, err
	}

	r.logger.Info("Limit sale reversed", "limit_id", id, "amount", amount, "sold", limit.Sold)
	return limit, nil
}

func (r *limitRepository) scanLimit(row *sql.Row) (*domain.DailyLimit, error) {
	var limit domain.DailyLimit
	var limitStr, soldStr, availableStr, utilizationStr string

	err := row.Scan(
		&limit.ID,
		&limit.Date,
		&limit.Currency,
		&limitStr,
		&soldStr,
		&availableStr,
		&utilizationStr,
		&limit.Alert80,
		&limit.Alert95,
		&limit.IsActive,
		&limit.CreatedAt,
		&limit.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrNoLimitConfigured
		}
		r.logger.Error("Failed to scan daily limit", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get daily limit").WithDetails(err.Error())
	}

	if limit.Limit, err = decimal.NewFromString(limitStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse limit").WithDetails(err.Error())
	}
	if limit.Sold, err = decimal.NewFromString(soldStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse limit sold").WithDetails(err.Error())
	}
	if limit.Available, err = decimal.NewFromString(availableStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse limit available").WithDetails(err.Error())
	}
	if limit.UtilizationPct, err = decimal.NewFromString(utilizationStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse limit utilization").WithDetails(err.Error())
	}

	return &limit, nil
}
