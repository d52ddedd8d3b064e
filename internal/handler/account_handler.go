package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"exchange-core/internal/domain"
	"exchange-core/internal/errors"
	"exchange-core/internal/service"
)

type AccountHandler struct {
	ledgerService *service.LedgerService
}

func NewAccountHandler(ledgerService *service.LedgerService) *AccountHandler {
	return &AccountHandler{
		ledgerService: ledgerService,
	}
}

func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	accounts, err := h.ledgerService.ListAccounts(clientID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accounts)
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

func (h *AccountHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid account id"))
		return
	}

	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error()))
		return
	}

	if err := h.ledgerService.SetAccountStatus(accountID, domain.AccountStatus(req.Status)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"account_id": accountID.String(),
		"status":     req.Status,
	})
}
