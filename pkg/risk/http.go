package risk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/common/models"
)

// History lists stored assessments.
type History interface {
	Recent(ctx context.Context, limit int) ([]models.RiskAssessment, error)
	ForPatient(ctx context.Context, patientID string, limit int) ([]models.RiskAssessment, error)
}

type HTTPHandler struct {
	service *Service
	history History
}

func NewHTTPHandler(service *Service, history History) *HTTPHandler {
	return &HTTPHandler{service: service, history: history}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/patients/{id}/prediction", h.handlePredict).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}/predictions", h.handlePatientHistory).Methods(http.MethodGet)
	router.HandleFunc("/predictions/recent", h.handleRecent).Methods(http.MethodGet)
	router.HandleFunc("/admin/artifacts/reload", h.handleReload).Methods(http.MethodPost)
}

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

func (h *HTTPHandler) handlePredict(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if r.URL.Query().Get("refresh") != "true" {
		cached, err := h.service.Latest(r.Context(), id)
		if err != nil {
			logger.Log.WithError(err).WithField("patient_id", id).Warn("assessment cache unavailable")
		}
		if cached != nil {
			w.Header().Set("X-Cache", "hit")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	assessment, err := h.service.Assess(r.Context(), id)
	if err != nil {
		state := Failed
		if errors.Is(err, ErrPipelineBusy) {
			state = h.service.State(id)
		}
		writeJSON(w, HTTPStatus(err), errorResponse{
			Error:  err.Error(),
			Kind:   Outcome(err),
			Status: state.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (h *HTTPHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "prediction history disabled", http.StatusNotFound)
		return
	}
	out, err := h.history.Recent(r.Context(), limitParam(r))
	if err != nil {
		logger.Log.WithError(err).Error("failed to list recent assessments")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) handlePatientHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "prediction history disabled", http.StatusNotFound)
		return
	}
	out, err := h.history.ForPatient(r.Context(), mux.Vars(r)["id"], limitParam(r))
	if err != nil {
		logger.Log.WithError(err).Error("failed to list patient assessments")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	h.service.Reload(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}
