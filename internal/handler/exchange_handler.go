package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"exchange-core/internal/errors"
	"exchange-core/internal/service"
)

type ExchangeHandler struct {
	exchangeService *service.ExchangeService
}

func NewExchangeHandler(exchangeService *service.ExchangeService) *ExchangeHandler {
	return &ExchangeHandler{
		exchangeService: exchangeService,
	}
}

// ExchangeRequest carries one buy or sell. ClientID comes from the
// identity layer upstream; this core trusts it as authenticated.
type ExchangeRequest struct {
	ClientID       string `json:"client_id"`
	SourceCurrency string `json:"source_currency"`
	DestCurrency   string `json:"dest_currency"`
	Amount         string `json:"amount"`
}

func (h *ExchangeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.exchangeService.ProcessBuy)
}

func (h *ExchangeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.exchangeService.ProcessSell)
}

func (h *ExchangeHandler) process(
	w http.ResponseWriter,
	r *http.Request,
	op func(clientID, sourceCurrency, destCurrency string, amount decimal.Decimal) (*service.ExchangeResult, error),
) {
	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error()))
		return
	}

	result, err := op(req.ClientID, req.SourceCurrency, req.DestCurrency, amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *ExchangeHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	receipt := mux.Vars(r)["receipt"]

	txn, err := h.exchangeService.GetByReceipt(receipt)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, txn)
}

type ReverseRequest struct {
	Actor string `json:"actor"`
}

func (h *ExchangeHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	receipt := mux.Vars(r)["receipt"]

	var req ReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}
	if req.Actor == "" {
		writeError(w, errors.NewAppError(errors.InvalidInput, "actor is required"))
		return
	}

	result, err := h.exchangeService.Reverse(receipt, req.Actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *ExchangeHandler) DailyReport(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]

	summaries, err := h.exchangeService.DailyReport(date)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}
