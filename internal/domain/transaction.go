package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Operation string

const (
	OperationBuy  Operation = "buy"
	OperationSell Operation = "sell"
)

type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionReversed  TransactionStatus = "reversed"
)

// Transaction is the immutable record of one completed exchange.
// Corrections are new reversing transactions, never edits.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	ClientID       string            `json:"client_id"`
	Operation      Operation         `json:"operation"`
	SourceCurrency string            `json:"source_currency"`
	DestCurrency   string            `json:"dest_currency"`
	SourceAmount   decimal.Decimal   `json:"source_amount"`
	DestAmount     decimal.Decimal   `json:"dest_amount"`
	RateApplied    decimal.Decimal   `json:"rate_applied"`
	Commission     decimal.Decimal   `json:"commission"`
	ReceiptNumber  string            `json:"receipt_number"`
	Status         TransactionStatus `json:"status"`
	SourceAccount  uuid.UUID         `json:"source_account_id"`
	DestAccount    uuid.UUID         `json:"dest_account_id"`
	// ReversalOf points at the transaction this one compensates.
	ReversalOf *uuid.UUID `json:"reversal_of,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DailySummary aggregates one day's activity in one currency for the
// reporting layer. Read-only: never an input to a mutation.
type DailySummary struct {
	Date           string          `json:"date"`
	Currency       string          `json:"currency"`
	SoldAmount     decimal.Decimal `json:"sold_amount"`
	BoughtAmount   decimal.Decimal `json:"bought_amount"`
	Transactions   int64           `json:"transactions"`
	PoolReceived   decimal.Decimal `json:"pool_received"`
	PoolAvailable  decimal.Decimal `json:"pool_available"`
	LimitValue     decimal.Decimal `json:"limit"`
	LimitAvailable decimal.Decimal `json:"limit_available"`
}

type TransactionRepository interface {
	CreateTransaction(tx *Transaction) error
	GetTransactionByID(id uuid.UUID) (*Transaction, error)
	GetTransactionByReceipt(receipt string) (*Transaction, error)
	// MarkReversed flips a completed transaction to reversed in one
	// conditional update. Returns NotReversible when the transaction is
	// in any other status, including when a concurrent reversal already
	// claimed it.
	MarkReversed(id uuid.UUID) error
	SummarizeDay(date string) ([]*DailySummary, error)
}
