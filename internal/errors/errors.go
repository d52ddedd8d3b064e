package errors

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidInput           ErrorCode = "invalid_input"
	InvalidAmount          ErrorCode = "invalid_amount"
	AccountNotFound        ErrorCode = "account_not_found"
	AccountNotOperable     ErrorCode = "account_not_operable"
	DuplicateActiveAccount ErrorCode = "duplicate_active_account"
	InsufficientFunds      ErrorCode = "insufficient_funds"
	InsufficientPool       ErrorCode = "insufficient_pool"
	LimitExceeded          ErrorCode = "limit_exceeded"
	NoLimitConfigured      ErrorCode = "no_limit_configured"
	RateUnavailable        ErrorCode = "rate_unavailable"
	PoolNotFound           ErrorCode = "pool_not_found"
	PoolOverdrawn          ErrorCode = "pool_overdrawn"
	ReceiptExhausted       ErrorCode = "receipt_generation_exhausted"
	TransactionNotFound    ErrorCode = "transaction_not_found"
	NotReversible          ErrorCode = "not_reversible"
	InternalError          ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Details: details}
}

// HTTPStatus maps an error code to the status the handler layer writes.
// Business denials are 422: expected outcomes the caller shows to the
// client, not server faults.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput, InvalidAmount:
		return http.StatusBadRequest
	case AccountNotFound, PoolNotFound, TransactionNotFound, RateUnavailable:
		return http.StatusNotFound
	case DuplicateActiveAccount:
		return http.StatusConflict
	case InsufficientFunds, InsufficientPool, LimitExceeded,
		NoLimitConfigured, AccountNotOperable, NotReversible:
		return http.StatusUnprocessableEntity
	case ReceiptExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Predefined errors for common cases. The denial messages are distinct
// on purpose: "not enough balance", "house has not enough currency
// today", and "today's limit is exhausted" are operationally different
// answers and must never collapse into one.
var (
	ErrAccountNotFound = NewAppError(AccountNotFound, "account not found")
	ErrAccountBlocked  = NewAppError(AccountNotOperable, "account is blocked or inactive")
	ErrDuplicateActiveAccount = NewAppError(DuplicateActiveAccount,
		"an active account already exists for this client and currency")
	ErrInsufficientFunds = NewAppError(InsufficientFunds,
		"you don't have enough balance in this currency")
	ErrInsufficientPool = NewAppError(InsufficientPool,
		"the house doesn't have enough of this currency to sell today")
	ErrLimitExceeded = NewAppError(LimitExceeded,
		"today's configured limit for this currency is exhausted")
	ErrNoLimitConfigured = NewAppError(NoLimitConfigured,
		"no daily limit configured for this currency; sales are not admitted")
	ErrRateUnavailable = NewAppError(RateUnavailable,
		"no active exchange rate for this currency pair")
	ErrPoolNotFound = NewAppError(PoolNotFound, "no active remittance pool for this day and currency")
	ErrPoolOverdrawn = NewAppError(PoolOverdrawn,
		"pool counters would go negative; quota gate was bypassed")
	ErrReceiptExhausted = NewAppError(ReceiptExhausted,
		"could not generate a unique receipt number")
	ErrTransactionNotFound = NewAppError(TransactionNotFound, "transaction not found")
	ErrNotReversible       = NewAppError(NotReversible, "only completed transactions can be reversed")
	ErrInvalidAmount       = NewAppError(InvalidAmount, "amount must be positive")
	ErrCannotBeginTransaction = NewAppError(InternalError,
		"cannot begin transaction from within a transaction")
)
