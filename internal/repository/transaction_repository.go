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

type transactionRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger) domain.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

// CreateTransaction inserts the record. A receipt-number collision is
// reported through DO NOTHING and a rows-affected check rather than a
// constraint error, so the enclosing database transaction stays usable
// and the caller can retry with a fresh receipt number.
func (r *transactionRepository) CreateTransaction(tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
			(id, client_id, operation, source_currency, dest_currency,
			 source_amount, dest_amount, rate_applied, commission,
			 receipt_number, status, source_account_id, dest_account_id,
			 reversal_of, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		ON CONFLICT ON CONSTRAINT ux_transactions_receipt_number DO NOTHING
	`

	now := time.Now()

	var reversalOf interface{}
	if tx.ReversalOf != nil {
		reversalOf = *tx.ReversalOf
	}

	result, err := r.db.Exec(
		query,
		tx.ID,
		tx.ClientID,
		tx.Operation,
		tx.SourceCurrency,
		tx.DestCurrency,
		tx.SourceAmount.String(),
		tx.DestAmount.String(),
		tx.RateApplied.String(),
		tx.Commission.String(),
		tx.ReceiptNumber,
		tx.Status,
		tx.SourceAccount,
		tx.DestAccount,
		reversalOf,
	)

	if err != nil {
		r.logger.Error("Failed to create transaction",
			"client_id", tx.ClientID,
			"operation", tx.Operation,
			"receipt_number", tx.ReceiptNumber,
			"error", err)
		return errors.NewAppError(errors.InternalError, "failed to create transaction").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Warn("Receipt number collision", "receipt_number", tx.ReceiptNumber)
		return errors.NewAppError(errors.ReceiptExhausted, "receipt number already issued")
	}

	tx.CreatedAt = now
	tx.UpdatedAt = now
	r.logger.Info("Transaction created",
		"transaction_id", tx.ID, "receipt_number", tx.ReceiptNumber, "status", tx.Status)
	return nil
}

const transactionColumns = `id, client_id, operation, source_currency, dest_currency,
	source_amount::text, dest_amount::text, rate_applied::text, commission::text,
	receipt_number, status, source_account_id, dest_account_id, reversal_of, created_at, updated_at`

func (r *transactionRepository) GetTransactionByID(id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.scanTransaction(query, id)
}

func (r *transactionRepository) GetTransactionByReceipt(receipt string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE receipt_number = $1`
	return r.scanTransaction(query, receipt)
}

func (r *transactionRepository) scanTransaction(query string, arg interface{}) (*domain.Transaction, error) {
	var tx domain.Transaction
	var sourceStr, destStr, rateStr, commissionStr string
	var reversalOf sql.NullString

	err := r.db.QueryRow(query, arg).Scan(
		&tx.ID,
		&tx.ClientID,
		&tx.Operation,
		&tx.SourceCurrency,
		&tx.DestCurrency,
		&sourceStr,
		&destStr,
		&rateStr,
		&commissionStr,
		&tx.ReceiptNumber,
		&tx.Status,
		&tx.SourceAccount,
		&tx.DestAccount,
		&reversalOf,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrTransactionNotFound
		}
		r.logger.Error("Failed to get transaction", "arg", arg, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get transaction").WithDetails(err.Error())
	}

	if tx.SourceAmount, err = decimal.NewFromString(sourceStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse source amount").WithDetails(err.Error())
	}
	if tx.DestAmount, err = decimal.NewFromString(destStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse dest amount").WithDetails(err.Error())
	}
	if tx.RateApplied, err = decimal.NewFromString(rateStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse rate").WithDetails(err.Error())
	}
	if tx.Commission, err = decimal.NewFromString(commissionStr); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse commission").WithDetails(err.Error())
	}
	if reversalOf.Valid {
		id, err := uuid.Parse(reversalOf.String)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse reversal reference").WithDetails(err.Error())
		}
		tx.ReversalOf = &id
	}

	return &tx, nil
}

// MarkReversed is conditional on the current status, so two concurrent
// reversals of the same transaction serialize on this row and exactly
// one proceeds; the loser sees zero rows and gets NotReversible.
func (r *transactionRepository) MarkReversed(id uuid.UUID) error {
	query := `
		UPDATE transactions SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.Exec(query, domain.TransactionReversed, time.Now(), id, domain.TransactionCompleted)
	if err != nil {
		r.logger.Error("Failed to mark transaction reversed", "transaction_id", id, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to mark transaction reversed").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Warn("Transaction not reversible", "transaction_id", id)
		return errors.ErrNotReversible
	}

	r.logger.Info("Transaction marked reversed", "transaction_id", id)
	return nil
}

// SummarizeDay aggregates one day across transactions, pools, and
// limits per currency. Read-only reporting; never feeds a mutation.
func (r *transactionRepository) SummarizeDay(date string) ([]*domain.DailySummary, error) {
	query := `
		WITH currencies AS (
			SELECT source_currency AS currency FROM transactions WHERE created_at::date = $1::date
			UNION
			SELECT dest_currency FROM transactions WHERE created_at::date = $1::date
			UNION
			SELECT currency FROM remittance_pools WHERE pool_date = $1::date AND is_active = true
			UNION
			SELECT currency FROM daily_limits WHERE limit_date = $1::date AND is_active = true
		)
		SELECT c.currency,
			COALESCE((SELECT sum(source_amount) FROM transactions t
				WHERE t.operation = 'sell' AND t.status = 'completed'
				  AND t.source_currency = c.currency AND t.created_at::date = $1::date), 0)::text,
			COALESCE((SELECT sum(dest_amount) FROM transactions t
				WHERE t.operation = 'buy' AND t.status = 'completed'
				  AND t.dest_currency = c.currency AND t.created_at::date = $1::date), 0)::text,
			(SELECT count(*) FROM transactions t
				WHERE (t.source_currency = c.currency OR t.dest_currency = c.currency)
				  AND t.created_at::date = $1::date),
			COALESCE((SELECT p.received FROM remittance_pools p
				WHERE p.pool_date = $1::date AND p.currency = c.currency AND p.is_active = true), 0)::text,
			COALESCE((SELECT p.available FROM remittance_pools p
				WHERE p.pool_date = $1::date AND p.currency = c.currency AND p.is_active = true), 0)::text,
			COALESCE((SELECT l.limit_amount FROM daily_limits l
				WHERE l.limit_date = $1::date AND l.currency = c.currency AND l.is_active = true), 0)::text,
			COALESCE((SELECT l.available FROM daily_limits l
				WHERE l.limit_date = $1::date AND l.currency = c.currency AND l.is_active = true), 0)::text
		FROM currencies c
		ORDER BY c.currency
	`

	rows, err := r.db.Query(query, date)
	if err != nil {
		r.logger.Error("Failed to summarize day", "date", date, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to summarize day").WithDetails(err.Error())
	}
	defer rows.Close()

	var summaries []*domain.DailySummary
	for rows.Next() {
		var s domain.DailySummary
		var soldStr, boughtStr, poolRecvStr, poolAvailStr, limitStr, limitAvailStr string

		err := rows.Scan(&s.Currency, &soldStr, &boughtStr, &s.Transactions,
			&poolRecvStr, &poolAvailStr, &limitStr, &limitAvailStr)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan daily summary").WithDetails(err.Error())
		}

		s.Date = date
		if s.SoldAmount, err = decimal.NewFromString(soldStr); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse summary").WithDetails(err.Error())
		}
		if s.BoughtAmount, err = decimal.NewFromString(boughtStr); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse summary").WithDetails(err.Error())
		}
		if s.PoolReceived, err = decimal.NewFromString(poolRecvStr); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse summary").WithDetails(err.Error())
		}
		if s.PoolAvailable, err = decimal.NewFromString(poolAvailStr); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse summary").WithDetails(err.Error())
		}
		if s.LimitValue, err = decimal.NewFromString(limitStr); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse summary").WithDetails(err.Error())
		}
		if s.LimitAvailable, err = decimal.NewFromString(limitAvailStr); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse summary").WithDetails(err.Error())
		}

		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to summarize day").WithDetails(err.Error())
	}
	return summaries, nil
}
