package v1

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/coordination"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// RepairHandler handles repair job and diagnosis requests
type RepairHandler struct {
	coord *coordination.Coordinator
	log   *logrus.Logger
}

// NewRepairHandler creates a new repair handler
func NewRepairHandler(coord *coordination.Coordinator, log *logrus.Logger) *RepairHandler {
	return &RepairHandler{
		coord: coord,
		log:   log,
	}
}

// RegisterRoutes registers repair API routes
func (h *RepairHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/hosts/{hostname}/repair", h.TriggerRepair).Methods("POST")
	router.HandleFunc("/api/v1/hosts/{hostname}/diagnoses", h.ListHostDiagnoses).Methods("GET")
	router.HandleFunc("/api/v1/jobs", h.ListJobs).Methods("GET")
	router.HandleFunc("/api/v1/jobs/{id}", h.GetJob).Methods("GET")
	router.HandleFunc("/api/v1/diagnoses/{id}", h.GetDiagnosis).Methods("GET")

	h.log.Info("Repair API routes registered")
}

// TriggerRepair handles POST /api/v1/hosts/{hostname}/repair.
// The run continues in the background; poll the returned job.
func (h *RepairHandler) TriggerRepair(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]

	job, err := h.coord.StartRepair(r.Context(), hostname)
	if err != nil {
		status, msg := statusFor(err)
		h.log.WithError(err).WithFields(logrus.Fields{
			"host":   hostname,
			"status": status,
		}).Warn("Repair request rejected")
		respondError(w, h.log, status, msg)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	respondJSON(w, h.log, http.StatusAccepted, job, "Repair job accepted")
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *RepairHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.coord.GetJob(mux.Vars(r)["id"])
	if err != nil {
		status, msg := statusFor(err)
		respondError(w, h.log, status, msg)
		return
	}
	respondJSON(w, h.log, http.StatusOK, job, "")
}

// ListJobs handles GET /api/v1/jobs
func (h *RepairHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.log, http.StatusOK, h.coord.ListJobs(), "")
}

// GetDiagnosis handles GET /api/v1/diagnoses/{id}
func (h *RepairHandler) GetDiagnosis(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	diag, err := h.coord.Diagnosis(r.Context(), id)
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.WithError(err).WithField("diagnosis_id", id).Error("Failed to load diagnosis")
		}
		respondError(w, h.log, status, msg)
		return
	}
	respondJSON(w, h.log, http.StatusOK, diag, "")
}

// ListHostDiagnoses handles GET /api/v1/hosts/{hostname}/diagnoses?limit=N
func (h *RepairHandler) ListHostDiagnoses(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			respondError(w, h.log, http.StatusBadRequest, "limit must be an integer between 1 and "+strconv.Itoa(maxHistoryLimit))
			return
		}
		limit = n
	}

	history, err := h.coord.HostDiagnoses(r.Context(), hostname, limit)
	if err != nil {
		h.log.WithError(err).WithField("host", hostname).Error("Failed to list diagnoses")
		respondError(w, h.log, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, h.log, http.StatusOK, history, "")
}
