package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestRequestLogger(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrappedHandler := RequestLogger(quietLogger())(handler)

	req := httptest.NewRequest("GET", "/test", http.NoBody)
	rr := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
	assert.Equal(t, rr.Header().Get(RequestIDHeader), seen)
}

func TestRequestLogger_WithRequestID(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	})

	req := httptest.NewRequest("GET", "/test", http.NoBody)
	req.Header.Set(RequestIDHeader, "test-request-id")
	rr := httptest.NewRecorder()
	RequestLogger(quietLogger())(handler).ServeHTTP(rr, req)

	assert.Equal(t, "test-request-id", rr.Header().Get(RequestIDHeader))
	assert.Equal(t, "test-request-id", seen)
}

func TestRequestLogger_StatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Accepted", http.StatusAccepted},
		{"NotFound", http.StatusNotFound},
		{"InternalError", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.WriteHeader(http.StatusTeapot)
			})

			rr := httptest.NewRecorder()
			RequestLogger(quietLogger())(handler).ServeHTTP(rr, httptest.NewRequest("GET", "/test", http.NoBody))

			assert.Equal(t, tt.statusCode, rr.Code)
		})
	}
}

func TestRequestLogger_RouteMetrics(t *testing.T) {
	router := mux.NewRouter()
	router.Use(RequestLogger(quietLogger()))
	router.HandleFunc("/api/v1/hosts/{hostname}/repair", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}).Methods("POST")

	counter := HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/hosts/{hostname}/repair", "202")
	before := testutil.ToFloat64(counter)

	for _, host := range []string{"labstation1", "labstation2"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/hosts/"+host+"/repair", http.NoBody))
		require.Equal(t, http.StatusAccepted, rr.Code)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestRecovery(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	chain := RequestLogger(quietLogger())(Recovery(quietLogger())(handler))

	before := testutil.ToFloat64(PanicsTotal)
	req := httptest.NewRequest("GET", "/test", http.NoBody)
	req.Header.Set(RequestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body["error"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, false, body["success"])
	assert.Equal(t, before+1, testutil.ToFloat64(PanicsTotal))
}

func TestRecovery_PassThrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	Recovery(quietLogger())(handler).ServeHTTP(rr, httptest.NewRequest("GET", "/test", http.NoBody))

	assert.Equal(t, http.StatusNoContent, rr.Code)
}
