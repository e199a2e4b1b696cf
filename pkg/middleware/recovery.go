package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// PanicsTotal counts panics recovered in HTTP handlers
var PanicsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "repair_engine_http_panics_total",
		Help: "Total number of panics recovered in HTTP handlers",
	},
)

type panicResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Recovery creates a middleware that turns handler panics into 500 responses
func Recovery(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				PanicsTotal.Inc()
				requestID := RequestID(r.Context())
				if requestID == "" {
					requestID = r.Header.Get(RequestIDHeader)
				}

				log.WithFields(logrus.Fields{
					"error":      fmt.Sprintf("%v", rec),
					"stack":      string(debug.Stack()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"request_id": requestID,
				}).Error("Panic recovered in HTTP handler")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				if err := json.NewEncoder(w).Encode(panicResponse{
					Error:     "internal server error",
					RequestID: requestID,
				}); err != nil {
					log.WithError(err).Error("Failed to write panic recovery response")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
