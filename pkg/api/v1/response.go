package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/coordination"
	"github.com/labfleet/repair-engine/internal/inventory"
	"github.com/labfleet/repair-engine/internal/store"
)

// Response is the envelope of every API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, log *logrus.Logger, statusCode int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(Response{Success: true, Data: data, Message: message}); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, log *logrus.Logger, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(Response{Success: false, Error: errorMsg}); err != nil {
		log.WithError(err).Error("Failed to encode error response")
	}
}

// statusFor maps domain errors to HTTP status codes. Unknown errors are
// reported as 500 without leaking their text.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, inventory.ErrHostNotFound),
		errors.Is(err, coordination.ErrJobNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, coordination.ErrRunInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, coordination.ErrNoStrategy):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
