package repository

import (
	"database/sql"
	"log/slog"

	"exchange-core/internal/domain"
	"exchange-core/internal/errors"
)

// Store provides a unified interface for all repository operations with
// transaction support. Services that need the all-or-nothing unit
// (debit, credit, pool movement, transaction record) run it through
// WithTransaction.
type Store struct {
	executor SQLExecutor
	logger   *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		executor: db,
		logger:   logger,
	}
}

// Accounts returns an AccountRepository using the current executor
func (s *Store) Accounts() domain.AccountRepository {
	return NewAccountRepository(s.executor, s.logger)
}

// Rates returns a RateRepository using the current executor
func (s *Store) Rates() domain.RateRepository {
	return NewRateRepository(s.executor, s.logger)
}

// Pools returns a PoolRepository using the current executor
func (s *Store) Pools() domain.PoolRepository {
	return NewPoolRepository(s.executor, s.logger)
}

// Limits returns a LimitRepository using the current executor
func (s *Store) Limits() domain.LimitRepository {
	return NewLimitRepository(s.executor, s.logger)
}

// Transactions returns a TransactionRepository using the current executor
func (s *Store) Transactions() domain.TransactionRepository {
	return NewTransactionRepository(s.executor, s.logger)
}

// WithTransaction executes a function within a database transaction
func (s *Store) WithTransaction(fn func(*Store) error) error {
	// Only sql.DB can begin transactions
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}

	txStore := &Store{
		executor: &TxWrapper{Tx: tx},
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
