package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"agentvault/native/common"
	"agentvault/native/directory"
	"agentvault/native/wallet"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// statusFor maps ledger failures onto HTTP statuses by their error kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wallet.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrPermissionDenied),
		errors.Is(err, common.ErrRecipientNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, common.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrMigrationPrecondition):
		return http.StatusConflict
	case errors.Is(err, common.ErrInvalidConfiguration),
		errors.Is(err, directory.ErrUnknownIntegration),
		errors.Is(err, directory.ErrUnknownAsset),
		errors.Is(err, directory.ErrUnsupported):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
