package service

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchange-core/internal/domain"
	"exchange-core/internal/errors"
	"exchange-core/internal/repository"
)

const maxReceiptAttempts = 5

// ExchangeService orchestrates buy and sell conversions: rate lookup,
// quota admission (sells only), atomic debit and credit, pool movement,
// and the persisted transaction record. Everything from admission to
// the transaction insert is one database transaction; a failure at any
// step leaves balances and counters untouched.
type ExchangeService struct {
	store  *repository.Store
	ledger *LedgerService
	quota  *QuotaService
	pools  *PoolService
	rates  *RateService
	logger *slog.Logger

	buyCommission  decimal.Decimal
	sellCommission decimal.Decimal
}

func NewExchangeService(
	store *repository.Store,
	ledger *LedgerService,
	quota *QuotaService,
	pools *PoolService,
	rates *RateService,
	buyCommission, sellCommission decimal.Decimal,
	logger *slog.Logger,
) *ExchangeService {
	return &ExchangeService{
		store:          store,
		ledger:         ledger,
		quota:          quota,
		pools:          pools,
		rates:          rates,
		logger:         logger,
		buyCommission:  buyCommission,
		sellCommission: sellCommission,
	}
}

// ExchangeResult is what the UI layer prints on the receipt.
type ExchangeResult struct {
	TransactionID  uuid.UUID                `json:"transaction_id"`
	ReceiptNumber  string                   `json:"receipt_number"`
	Operation      domain.Operation         `json:"operation"`
	SourceCurrency string                   `json:"source_currency"`
	DestCurrency   string                   `json:"dest_currency"`
	SourceAmount   decimal.Decimal          `json:"source_amount"`
	DestAmount     decimal.Decimal          `json:"dest_amount"`
	RateApplied    decimal.Decimal          `json:"rate_applied"`
	Commission     decimal.Decimal          `json:"commission"`
	Status         domain.TransactionStatus `json:"status"`
}

// ProcessSell converts sourceAmount of the client's sourceCurrency into
// destCurrency at the active rate, gated by the day's quota on
// sourceCurrency.
func (s *ExchangeService) ProcessSell(clientID, sourceCurrency, destCurrency string, sourceAmount decimal.Decimal) (*ExchangeResult, error) {
	sourceCurrency = NormalizeCurrency(sourceCurrency)
	destCurrency = NormalizeCurrency(destCurrency)
	if err := validateExchange(clientID, sourceCurrency, destCurrency, sourceAmount); err != nil {
		return nil, err
	}

	snapshot, err := s.rates.GetActiveRate(sourceCurrency, destCurrency)
	if err != nil {
		return nil, err
	}

	gross := sourceAmount.Mul(snapshot.Rate)
	commission := RoundAmount(gross.Mul(s.sellCommission), destCurrency)
	destAmount := RoundAmount(gross, destCurrency).Sub(commission)
	if destAmount.IsNegative() || destAmount.IsZero() {
		return nil, errors.NewAppError(errors.InvalidAmount, "amount too small to convert")
	}

	today := time.Now().Format("2006-01-02")
	txn := &domain.Transaction{
		ID:             uuid.New(),
		ClientID:       clientID,
		Operation:      domain.OperationSell,
		SourceCurrency: sourceCurrency,
		DestCurrency:   destCurrency,
		SourceAmount:   sourceAmount,
		DestAmount:     destAmount,
		RateApplied:    snapshot.Rate,
		Commission:     commission,
		Status:         domain.TransactionCompleted,
	}

	err = s.store.WithTransaction(func(st *repository.Store) error {
		decision, err := s.quota.AdmitSale(st, today, sourceCurrency, sourceAmount)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return errors.NewAppError(decision.Code, decision.Reason)
		}

		sourceAccount, err := st.Accounts().GetActiveAccount(clientID, sourceCurrency)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Debit(st, sourceAccount.ID, sourceAmount); err != nil {
			return err
		}

		destAccount, err := s.ledger.GetOrCreateAccount(st, clientID, destCurrency)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Credit(st, destAccount.ID, destAmount); err != nil {
			return err
		}

		txn.SourceAccount = sourceAccount.ID
		txn.DestAccount = destAccount.ID

		if _, err := s.pools.RecordSale(st, decision.Pool.ID, sourceAmount, txn.ID, clientID); err != nil {
			return err
		}

		return s.persistWithReceipt(st, txn, sourceCurrency)
	})
	if err != nil {
		s.logger.Warn("Sell rejected",
			"client_id", clientID, "source", sourceCurrency, "dest", destCurrency,
			"amount", sourceAmount, "error", err)
		return nil, err
	}

	s.logger.Info("Sell completed",
		"transaction_id", txn.ID, "receipt_number", txn.ReceiptNumber,
		"client_id", clientID, "amount", sourceAmount, "dest_amount", destAmount)
	return resultFrom(txn), nil
}

// ProcessBuy converts the client's destCurrency purchase: amount is
// denominated in destCurrency, and the funding sourceCurrency is
// debited at the active rate for (destCurrency, sourceCurrency). Quotas
// gate what the house sells, not what it receives, so the buy path has
// no admission check and records no pool movement.
func (s *ExchangeService) ProcessBuy(clientID, sourceCurrency, destCurrency string, amount decimal.Decimal) (*ExchangeResult, error) {
	sourceCurrency = NormalizeCurrency(sourceCurrency)
	destCurrency = NormalizeCurrency(destCurrency)
	if err := validateExchange(clientID, sourceCurrency, destCurrency, amount); err != nil {
		return nil, err
	}

	snapshot, err := s.rates.GetActiveRate(destCurrency, sourceCurrency)
	if err != nil {
		return nil, err
	}

	destAmount := RoundAmount(amount, destCurrency)
	gross := destAmount.Mul(snapshot.Rate)
	commission := RoundAmount(gross.Mul(s.buyCommission), sourceCurrency)
	sourceAmount := RoundAmount(gross, sourceCurrency).Add(commission)
	if sourceAmount.IsNegative() || sourceAmount.IsZero() {
		return nil, errors.NewAppError(errors.InvalidAmount, "amount too small to convert")
	}

	txn := &domain.Transaction{
		ID:             uuid.New(),
		ClientID:       clientID,
		Operation:      domain.OperationBuy,
		SourceCurrency: sourceCurrency,
		DestCurrency:   destCurrency,
		SourceAmount:   sourceAmount,
		DestAmount:     destAmount,
		RateApplied:    snapshot.Rate,
		Commission:     commission,
		Status:         domain.TransactionCompleted,
	}

	err = s.store.WithTransaction(func(st *repository.Store) error {
		sourceAccount, err := st.Accounts().GetActiveAccount(clientID, sourceCurrency)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Debit(st, sourceAccount.ID, sourceAmount); err != nil {
			return err
		}

		destAccount, err := s.ledger.GetOrCreateAccount(st, clientID, destCurrency)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Credit(st, destAccount.ID, destAmount); err != nil {
			return err
		}

		txn.SourceAccount = sourceAccount.ID
		txn.DestAccount = destAccount.ID

		return s.persistWithReceipt(st, txn, destCurrency)
	})
	if err != nil {
		s.logger.Warn("Buy rejected",
			"client_id", clientID, "source", sourceCurrency, "dest", destCurrency,
			"amount", amount, "error", err)
		return nil, err
	}

	s.logger.Info("Buy completed",
		"transaction_id", txn.ID, "receipt_number", txn.ReceiptNumber,
		"client_id", clientID, "amount", destAmount, "source_amount", sourceAmount)
	return resultFrom(txn), nil
}

// Reverse compensates a completed transaction: funds flow back, the
// pool and limit counters are restored for sells, the original is
// marked reversed, and a new reversing record is written. The original
// row itself is never edited beyond its status.
func (s *ExchangeService) Reverse(receiptNumber, actor string) (*ExchangeResult, error) {
	original, err := s.store.Transactions().GetTransactionByReceipt(receiptNumber)
	if err != nil {
		return nil, err
	}
	if original.Status != domain.TransactionCompleted || original.ReversalOf != nil {
		return nil, errors.ErrNotReversible
	}

	reversal := &domain.Transaction{
		ID:             uuid.New(),
		ClientID:       original.ClientID,
		Operation:      original.Operation,
		SourceCurrency: original.DestCurrency,
		DestCurrency:   original.SourceCurrency,
		SourceAmount:   original.DestAmount,
		DestAmount:     original.SourceAmount,
		RateApplied:    original.RateApplied,
		Commission:     decimal.Zero,
		SourceAccount:  original.DestAccount,
		DestAccount:    original.SourceAccount,
		ReversalOf:     &original.ID,
		Status:         domain.TransactionCompleted,
	}

	tradeDate := original.CreatedAt.Format("2006-01-02")

	err = s.store.WithTransaction(func(st *repository.Store) error {
		// The conditional flip goes first: two concurrent reversals of
		// the same receipt serialize on this row, and the loser gets
		// NotReversible before any funds or counters move.
		if err := st.Transactions().MarkReversed(original.ID); err != nil {
			return err
		}

		if original.Operation == domain.OperationSell {
			pool, err := st.Pools().GetActivePoolForUpdate(tradeDate, original.SourceCurrency)
			if err != nil {
				return err
			}
			if _, err := s.pools.ReverseSale(st, pool.ID, original.SourceAmount, reversal.ID, actor); err != nil {
				return err
			}
			if _, err := s.quota.ReverseSale(st, tradeDate, original.SourceCurrency, original.SourceAmount); err != nil {
				return err
			}
		}

		if _, err := s.ledger.Debit(st, original.DestAccount, original.DestAmount); err != nil {
			return err
		}
		if _, err := s.ledger.Credit(st, original.SourceAccount, original.SourceAmount); err != nil {
			return err
		}

		return s.persistWithReceipt(st, reversal, reversal.DestCurrency)
	})
	if err != nil {
		s.logger.Warn("Reversal rejected", "receipt_number", receiptNumber, "error", err)
		return nil, err
	}

	s.logger.Info("Transaction reversed",
		"original_id", original.ID, "reversal_id", reversal.ID,
		"receipt_number", reversal.ReceiptNumber, "actor", actor)
	return resultFrom(reversal), nil
}

// GetByReceipt looks up a transaction for the UI layer.
func (s *ExchangeService) GetByReceipt(receiptNumber string) (*domain.Transaction, error) {
	return s.store.Transactions().GetTransactionByReceipt(receiptNumber)
}

// DailyReport returns the day's per-currency aggregates. Observational
// only.
func (s *ExchangeService) DailyReport(date string) ([]*domain.DailySummary, error) {
	return s.store.Transactions().SummarizeDay(date)
}

// persistWithReceipt draws receipt candidates in the currency's
// numbering scheme and attempts the insert until one lands, bounded so
// concurrent high-volume issuance cannot spin forever. Retrying the
// insert itself, not a pre-check, is what closes the check-to-insert
// race between two transactions drawing the same candidate.
func (s *ExchangeService) persistWithReceipt(st *repository.Store, txn *domain.Transaction, currency string) error {
	for attempt := 0; attempt < maxReceiptAttempts; attempt++ {
		candidate, err := newReceiptCandidate(currency, time.Now())
		if err != nil {
			return errors.NewAppError(errors.InternalError, "failed to generate receipt number").WithDetails(err.Error())
		}
		txn.ReceiptNumber = candidate

		err = st.Transactions().CreateTransaction(txn)
		if err == nil {
			return nil
		}
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.ReceiptExhausted {
			s.logger.Warn("Receipt candidate collision, retrying",
				"currency", currency, "attempt", attempt+1)
			continue
		}
		return err
	}
	return errors.ErrReceiptExhausted
}

func validateExchange(clientID, sourceCurrency, destCurrency string, amount decimal.Decimal) error {
	if clientID == "" {
		return errors.NewAppError(errors.InvalidInput, "client id is required")
	}
	if sourceCurrency == "" || destCurrency == "" {
		return errors.NewAppError(errors.InvalidInput, "source and destination currencies are required")
	}
	if sourceCurrency == destCurrency {
		return errors.NewAppError(errors.InvalidInput, "source and destination currencies must differ")
	}
	if amount.IsNegative() || amount.IsZero() {
		return errors.ErrInvalidAmount
	}
	return nil
}

func resultFrom(txn *domain.Transaction) *ExchangeResult {
	return &ExchangeResult{
		TransactionID:  txn.ID,
		ReceiptNumber:  txn.ReceiptNumber,
		Operation:      txn.Operation,
		SourceCurrency: txn.SourceCurrency,
		DestCurrency:   txn.DestCurrency,
		SourceAmount:   txn.SourceAmount,
		DestAmount:     txn.DestAmount,
		RateApplied:    txn.RateApplied,
		Commission:     txn.Commission,
		Status:         txn.Status,
	}
}
