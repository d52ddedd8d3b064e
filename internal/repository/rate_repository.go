package repository

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"exchange-core/internal/domain"
	"exchange-core/internal/errors"
)

type rateRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewRateRepository(db SQLExecutor, logger *slog.Logger) domain.RateRepository {
	return &rateRepository{
		db:     db,
		logger: logger,
	}
}

func (r *rateRepository) DeactivatePair(pair string) error {
	query := `UPDATE rate_snapshots SET is_active = false WHERE pair = $1 AND is_active = true`

	_, err := r.db.Exec(query, pair)
	if err != nil {
		r.logger.Error("Failed to deactivate rate snapshots", "pair", pair, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to deactivate rate snapshots").WithDetails(err.Error())
	}
	return nil
}

func (r *rateRepository) CreateSnapshot(snapshot *domain.RateSnapshot) error {
	query := `
		INSERT INTO rate_snapshots (id, pair, rate, source, is_active, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	now := time.Now()
	_, err := r.db.Exec(
		query,
		snapshot.ID,
		snapshot.Pair,
		snapshot.Rate.String(),
		snapshot.Source,
		snapshot.IsActive,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to create rate snapshot", "pair", snapshot.Pair, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create rate snapshot").WithDetails(err.Error())
	}

	snapshot.CapturedAt = now
	r.logger.Info("Rate snapshot created",
		"snapshot_id", snapshot.ID, "pair", snapshot.Pair, "rate", snapshot.Rate)
	return nil
}

func (r *rateRepository) GetActiveSnapshot(pair string) (*domain.RateSnapshot, error) {
	query := `
		SELECT id, pair, rate::text, source, is_active, captured_at
		FROM rate_snapshots WHERE pair = $1 AND is_active = true
	`

	var snapshot domain.RateSnapshot
	var rateStr string

	err := r.db.QueryRow(query, pair).Scan(
		&snapshot.ID,
		&snapshot.Pair,
		&rateStr,
		&snapshot.Source,
		&snapshot.IsActive,
		&snapshot.CapturedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Warn("No active rate snapshot", "pair", pair)
			return nil, errors.ErrRateUnavailable
		}
		r.logger.Error("Failed to get rate snapshot", "pair", pair, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get rate snapshot").WithDetails(err.Error())
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse rate").WithDetails(err.Error())
	}
	snapshot.Rate = rate
	return &snapshot, nil
}
