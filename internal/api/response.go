package api

import (
	"encoding/json"
	"net/http"

	"github.com/colmturner/sonos-fleet-go/internal/apperrors"
)

// ErrorResponse wraps an error body for the wire.
// Example: {"error": {"code": "PLAYER_NOT_FOUND", "message": "..."}}
type ErrorResponse struct {
	Error apperrors.ErrorBody `json:"error"`
}

// WriteJSON sends a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes any error into the standard error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, appErr.StatusCode, ErrorResponse{Error: appErr.ErrorBody()})
}
