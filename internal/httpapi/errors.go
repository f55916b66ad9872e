package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"governor/internal/idempotency"
	"governor/internal/pending"
	"governor/internal/policy"
	"governor/internal/store"
)

// errorBody is the stable error envelope spec.md §4.9 requires of every
// non-2xx response.
type errorBody struct {
	Error     errorDetail `json:"error"`
	RequestID string      `json:"request_id"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: encode response failed", "error", err)
	}
}

// writeError writes the stable error envelope, echoing requestID.
func writeError(w http.ResponseWriter, status int, requestID, code, message string, details any) {
	writeJSON(w, status, errorBody{
		Error:     errorDetail{Code: code, Message: message, Details: details},
		RequestID: requestID,
	})
}

// writeDomainError maps a domain error into the stable envelope and HTTP
// status per spec.md §7's error-kind taxonomy, falling back to 500 for
// anything unrecognized.
func writeDomainError(w http.ResponseWriter, requestID string, err error) {
	var lifecycleErr *pending.Error
	if errors.As(err, &lifecycleErr) {
		writeError(w, lifecycleErr.Status, requestID, lifecycleErr.Code, lifecycleErr.Message, nil)
		return
	}

	switch {
	case errors.Is(err, pending.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, requestID, "not_found", err.Error(), nil)
	case errors.Is(err, store.ErrDuplicateMaterialization):
		writeError(w, http.StatusConflict, requestID, "conflict", err.Error(), nil)
	case errors.Is(err, idempotency.ErrConflict):
		writeError(w, http.StatusConflict, requestID, "idempotency_conflict", err.Error(), nil)
	case errors.Is(err, policy.ErrETagMismatch):
		writeError(w, http.StatusPreconditionFailed, requestID, "etag_mismatch", err.Error(), nil)
	case errors.Is(err, policy.ErrInvalidDocument):
		writeError(w, http.StatusUnprocessableEntity, requestID, "invalid_document", err.Error(), nil)
	case policy.IsDenied(err):
		writeError(w, http.StatusForbidden, requestID, "forbidden", err.Error(), nil)
	default:
		slog.Error("httpapi: internal error", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, requestID, "internal", "internal error", nil)
	}
}
