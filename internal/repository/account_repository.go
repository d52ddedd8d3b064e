package repository

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"exchange-core/internal/domain"
	"exchange-core/internal/errors"
)

type accountRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAccountRepository(db SQLExecutor, logger *slog.Logger) domain.AccountRepository {
	return &accountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *accountRepository) CreateAccount(account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, client_id, currency, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	now := time.Now()
	_, err := r.db.Exec(
		query,
		account.ID,
		account.ClientID,
		account.Currency,
		account.Balance.String(),
		account.Status,
		now,
		now,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" { // unique_violation on the active-account index
				r.logger.Warn("Duplicate active account creation attempt",
					"client_id", account.ClientID, "currency", account.Currency)
				return errors.ErrDuplicateActiveAccount
			}
		}
		r.logger.Error("Failed to create account",
			"client_id", account.ClientID, "currency", account.Currency, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create account").WithDetails(err.Error())
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	r.logger.Info("Account created",
		"account_id", account.ID, "client_id", account.ClientID, "currency", account.Currency)
	return nil
}

const accountColumns = `id, client_id, currency, balance::text, status, created_at, updated_at`

func (r *accountRepository) GetAccount(id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(r.db.QueryRow(query, id))
}

func (r *accountRepository) GetActiveAccount(clientID, currency string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts WHERE client_id = $1 AND currency = $2 AND status = 'active'`
	return r.scanAccount(r.db.QueryRow(query, clientID, currency))
}

func (r *accountRepository) ListAccounts(clientID string) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts WHERE client_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(query, clientID)
	if err != nil {
		r.logger.Error("Failed to list accounts", "client_id", clientID, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list accounts").WithDetails(err.Error())
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := r.scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list accounts").WithDetails(err.Error())
	}
	return accounts, nil
}

// Debit runs as one conditional update so two concurrent debits against
// the same account cannot both pass a pre-check and overdraw it.
func (r *accountRepository) Debit(id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE accounts
		SET balance = balance - $1::numeric, updated_at = $2
		WHERE id = $3 AND status = 'active' AND balance >= $1::numeric
		RETURNING balance::text
	`

	var balanceStr string
	err := r.db.QueryRow(query, amount.String(), time.Now(), id).Scan(&balanceStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, r.classifyDebitFailure(id, amount)
	}
	if err != nil {
		r.logger.Error("Failed to debit account", "account_id", id, "error", err)
		return decimal.Zero, errors.NewAppError(errors.InternalError, "failed to debit account").WithDetails(err.Error())
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, errors.NewAppError(errors.InternalError, "failed to parse balance").WithDetails(err.Error())
	}

	r.logger.Info("Account debited", "account_id", id, "amount", amount, "new_balance", balance)
	return balance, nil
}

// classifyDebitFailure tells apart the three reasons the conditional
// update can match no row.
func (r *accountRepository) classifyDebitFailure(id uuid.UUID, amount decimal.Decimal) error {
	account, err := r.GetAccount(id)
	if err != nil {
		return err
	}
	if account.Status != domain.AccountActive {
		r.logger.Warn("Debit on non-active account", "account_id", id, "status", account.Status)
		return errors.ErrAccountBlocked
	}
	r.logger.Warn("Debit denied, insufficient funds",
		"account_id", id, "amount", amount, "balance", account.Balance)
	return errors.ErrInsufficientFunds
}

func (r *accountRepository) Credit(id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $1::numeric, updated_at = $2
		WHERE id = $3 AND status = 'active'
		RETURNING balance::text
	`

	var balanceStr string
	err := r.db.QueryRow(query, amount.String(), time.Now(), id).Scan(&balanceStr)
	if err == sql.ErrNoRows {
		account, getErr := r.GetAccount(id)
		if getErr != nil {
			return decimal.Zero, getErr
		}
		r.logger.Warn("Credit on non-active account", "account_id", id, "status", account.Status)
		return decimal.Zero, errors.ErrAccountBlocked
	}
	if err != nil {
		r.logger.Error("Failed to credit account", "account_id", id, "error", err)
		return decimal.Zero, errors.NewAppError(errors.InternalError, "failed to credit account").WithDetails(err.Error())
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, errors.NewAppError(errors.InternalError, "failed to parse balance").WithDetails(err.Error())
	}

	r.logger.Info("Account credited", "account_id", id, "amount", amount, "new_balance", balance)
	return balance, nil
}

func (r *accountRepository) UpdateAccountStatus(id uuid.UUID, status domain.AccountStatus) error {
	query := `UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(query, status, time.Now(), id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// Reactivating would collide with another active account
			// for the same (client, currency).
			return errors.ErrDuplicateActiveAccount
		}
		r.logger.Error("Failed to update account status", "account_id", id, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update account status").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		r.logger.Warn("No account found to update", "account_id", id)
		return errors.ErrAccountNotFound
	}

	r.logger.Info("Account status updated", "account_id", id, "status", status)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *accountRepository) scanAccount(row *sql.Row) (*domain.Account, error) {
	account, err := r.scanAccountRow(row)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.AccountNotFound {
			return nil, errors.ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) scanAccountRow(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var balanceStr string

	err := row.Scan(
		&account.ID,
		&account.ClientID,
		&account.Currency,
		&balanceStr,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("Failed to scan account", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get account").WithDetails(err.Error())
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		r.logger.Error("Failed to parse balance", "account_id", account.ID, "balance_str", balanceStr, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to parse balance").WithDetails(err.Error())
	}

	account.Balance = balance
	return &account, nil
}
