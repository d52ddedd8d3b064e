package service

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchange-core/internal/domain"
	"exchange-core/internal/errors"
	"exchange-core/internal/repository"
)

// RateService is the exchange rate registry: it stores published
// snapshots and answers "the currently active rate" per pair. Freshness
// policy stays with the external rate-refresh scheduler.
type RateService struct {
	store  *repository.Store
	logger *slog.Logger
}

func NewRateService(store *repository.Store, logger *slog.Logger) *RateService {
	return &RateService{
		store:  store,
		logger: logger,
	}
}

// Publish activates a new snapshot for the pair, deactivating the
// previous one in the same database transaction so readers never see a
// pair with zero active snapshots once published.
func (s *RateService) Publish(base, quote string, rate decimal.Decimal, source string) (*domain.RateSnapshot, error) {
	if rate.IsNegative() || rate.IsZero() {
		return nil, errors.NewAppError(errors.InvalidInput, "rate must be positive")
	}
	base = NormalizeCurrency(base)
	quote = NormalizeCurrency(quote)
	if base == "" || quote == "" || base == quote {
		return nil, errors.NewAppError(errors.InvalidInput, "invalid currency pair")
	}

	snapshot := &domain.RateSnapshot{
		ID:       uuid.New(),
		Pair:     NormalizePair(base, quote),
		Rate:     rate,
		Source:   source,
		IsActive: true,
	}

	err := s.store.WithTransaction(func(st *repository.Store) error {
		if err := st.Rates().DeactivatePair(snapshot.Pair); err != nil {
			return err
		}
		return st.Rates().CreateSnapshot(snapshot)
	})
	if err != nil {
		s.logger.Error("Failed to publish rate", "pair", snapshot.Pair, "error", err)
		return nil, err
	}

	s.logger.Info("Rate published",
		"snapshot_id", snapshot.ID, "pair", snapshot.Pair, "rate", rate, "source", source)
	return snapshot, nil
}

// GetActiveRate returns the most recently activated snapshot for the
// pair, never an average or interpolation.
func (s *RateService) GetActiveRate(base, quote string) (*domain.RateSnapshot, error) {
	return s.store.Rates().GetActiveSnapshot(NormalizePair(base, quote))
}
