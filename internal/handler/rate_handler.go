package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"exchange-core/internal/errors"
	"exchange-core/internal/service"
)

type RateHandler struct {
	rateService *service.RateService
}

func NewRateHandler(rateService *service.RateService) *RateHandler {
	return &RateHandler{
		rateService: rateService,
	}
}

type PublishRateRequest struct {
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Rate   string `json:"rate"`
	Source string `json:"source"`
}

// Publish is called by the rate-refresh scheduler on its own cadence.
func (h *RateHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid rate format").WithDetails(err.Error()))
		return
	}

	snapshot, err := h.rateService.Publish(req.Base, req.Quote, rate, req.Source)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snapshot)
}

// GetActive resolves the pair from a "USD-VES" path segment.
func (h *RateHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]

	parts := strings.SplitN(pair, "-", 2)
	if len(parts) != 2 {
		writeError(w, errors.NewAppError(errors.InvalidInput, "pair must look like USD-VES"))
		return
	}

	snapshot, err := h.rateService.GetActiveRate(parts[0], parts[1])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
