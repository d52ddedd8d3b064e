package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"exchange-core/internal/errors"
	"exchange-core/internal/service"
)

// TreasuryHandler is the back-office surface: deposits into remittance
// pools and daily limit configuration.
type TreasuryHandler struct {
	poolService  *service.PoolService
	quotaService *service.QuotaService
}

func NewTreasuryHandler(poolService *service.PoolService, quotaService *service.QuotaService) *TreasuryHandler {
	return &TreasuryHandler{
		poolService:  poolService,
		quotaService: quotaService,
	}
}

type DepositRequest struct {
	Date     string `json:"date"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	Source   string `json:"source"`
}

func (h *TreasuryHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error()))
		return
	}

	pool, err := h.poolService.Deposit(req.Date, req.Currency, amount, req.Source)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, pool)
}

func (h *TreasuryHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	pool, err := h.poolService.GetActivePool(vars["date"], vars["currency"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pool)
}

func (h *TreasuryHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	pool, err := h.poolService.GetActivePool(vars["date"], vars["currency"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	movements, err := h.poolService.ListMovements(pool.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, movements)
}

type ConfigureLimitRequest struct {
	Date     string `json:"date"`
	Currency string `json:"currency"`
	Limit    string `json:"limit"`
}

func (h *TreasuryHandler) ConfigureLimit(w http.ResponseWriter, r *http.Request) {
	var req ConfigureLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	value, err := decimal.NewFromString(req.Limit)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid limit format").WithDetails(err.Error()))
		return
	}

	limit, err := h.quotaService.ConfigureLimit(req.Date, req.Currency, value)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, limit)
}

func (h *TreasuryHandler) GetLimit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	limit, err := h.quotaService.GetActiveLimit(vars["date"], vars["currency"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, limit)
}
