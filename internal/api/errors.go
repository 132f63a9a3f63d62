package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dropDatabas3/nickel/internal/keys"
)

// HTTPError represents a standard API error.
type HTTPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Status  int    `json:"-"`
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

var (
	errInvalidJSON = &HTTPError{Code: "invalid_json", Message: "Invalid JSON format", Status: http.StatusBadRequest}
	errBadRequest  = &HTTPError{Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	errInternal    = &HTTPError{Code: "internal_error", Message: "Internal server error", Status: http.StatusInternalServerError}
)

// mapError traduce la taxonomía del key manager a errores HTTP.
func mapError(err error) *HTTPError {
	switch {
	case errors.Is(err, keys.ErrUnsupportedKeyType):
		return &HTTPError{Code: "unsupported_key_type", Message: "Unsupported key type", Detail: err.Error(), Status: http.StatusBadRequest}
	case errors.Is(err, keys.ErrKeyNotFound):
		return &HTTPError{Code: "key_not_found", Message: "Key not found", Detail: err.Error(), Status: http.StatusNotFound}
	case errors.Is(err, keys.ErrKeyAddressMismatch):
		return &HTTPError{Code: "key_address_mismatch", Message: "Key does not claim that address", Detail: err.Error(), Status: http.StatusUnprocessableEntity}
	case errors.Is(err, keys.ErrKeyNotValidUpgrade):
		return &HTTPError{Code: "key_not_valid_upgrade", Message: "Trust policy rejected the key", Detail: err.Error(), Status: http.StatusConflict}
	case errors.Is(err, keys.ErrInvalidSignature):
		return &HTTPError{Code: "invalid_signature", Message: "Signature did not verify", Detail: err.Error(), Status: http.StatusUnprocessableEntity}
	default:
		return errInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		httpErr = mapError(err)
	}
	writeJSON(w, httpErr.Status, httpErr)
}
