package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-blebridge/internal/bonds"
	"github.com/nerrad567/gray-logic-blebridge/internal/bridges/ble"
)

// Error is the JSON body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeBusy         = "busy"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeNotAllowed   = "not_allowed"
	ErrCodeInternal     = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps bridge and bond errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ble.ErrUnknownPeer), errors.Is(err, ble.ErrNotFound),
		errors.Is(err, bonds.ErrBondNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, bonds.ErrBondExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, bonds.ErrReadOnly):
		writeError(w, http.StatusMethodNotAllowed, ErrCodeNotAllowed, err.Error())
	case errors.Is(err, ble.ErrBusy), errors.Is(err, ble.ErrPoolExhausted),
		errors.Is(err, ble.ErrNoFreeSubscription):
		writeError(w, http.StatusServiceUnavailable, ErrCodeBusy, err.Error())
	case errors.Is(err, ble.ErrPayloadTooLarge), errors.Is(err, ble.ErrMalformedPayload),
		errors.Is(err, ble.ErrInvalidAddress):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
