package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, ErrInsufficientFunds.HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, ErrInsufficientPool.HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, ErrLimitExceeded.HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, ErrNoLimitConfigured.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, ErrRateUnavailable.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, ErrAccountNotFound.HTTPStatus())
	assert.Equal(t, http.StatusConflict, ErrDuplicateActiveAccount.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, ErrPoolOverdrawn.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, ErrReceiptExhausted.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, ErrInvalidAmount.HTTPStatus())
}

func TestDenialReasonsAreDistinct(t *testing.T) {
	// A client must be able to tell "not enough balance" from "the
	// house can't sell that much today" from "the daily limit is
	// exhausted". The three must never collapse into one message.
	seen := map[string]bool{}
	for _, e := range []*AppError{ErrInsufficientFunds, ErrInsufficientPool, ErrLimitExceeded} {
		assert.NotEmpty(t, e.Message)
		assert.False(t, seen[e.Message], "duplicate denial message: %s", e.Message)
		seen[e.Message] = true
	}
}

func TestWithDetailsDoesNotMutatePredefined(t *testing.T) {
	detailed := ErrInsufficientFunds.WithDetails("account 42")
	assert.Equal(t, "account 42", detailed.Details)
	assert.Empty(t, ErrInsufficientFunds.Details)
	assert.Equal(t, ErrInsufficientFunds.Code, detailed.Code)
}

func TestErrorString(t *testing.T) {
	err := NewAppErrorf(LimitExceeded, "sold %d of %d", 220, 200)
	assert.Equal(t, "limit_exceeded: sold 220 of 200", err.Error())
}
