package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// writeServiceError maps core errors to responses. Unknown keys and keys held
// by someone else share one response; the services already report capsules
// owned by someone else as not found.
func writeServiceError(w http.ResponseWriter, err error) {
	var dup common.DuplicateActiveError
	switch {
	case errors.As(err, &dup):
		WriteError(w, http.StatusForbidden, "DUPLICATE_ACTIVE",
			"an active burst key already exists for this accessor", map[string]string{"burstId": dup.BurstID})
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrorUnauthorized):
		WriteError(w, http.StatusForbidden, "ACCESS_DENIED", "access denied", nil)
	case errors.Is(err, common.ErrorNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.Is(err, common.ErrorInvalidInput):
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	case errors.Is(err, common.ErrAlreadyConsumed):
		WriteError(w, http.StatusConflict, "ALREADY_CONSUMED", "burst key already consumed", nil)
	case errors.Is(err, common.ErrTokenExpired):
		WriteError(w, http.StatusGone, "EXPIRED", "burst key expired", nil)
	case errors.Is(err, common.ErrStoreUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "store unavailable", nil)
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
