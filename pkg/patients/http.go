package patients

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/common/models"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

// Register must run before handlers that add /patients/{id}/... routes so
// that /patients/search is matched first.
func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/patients", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/patients/search", h.handleSearch).Methods(http.MethodGet)
	router.HandleFunc("/patients/{id}", h.handleGet).Methods(http.MethodGet)
}

type listResponse struct {
	Patients []models.PatientSummary `json:"patients"`
	Pager    *models.Pager           `json:"pager,omitempty"`
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if err != nil || pageSize < 0 || pageSize > 500 {
		pageSize = 50
	}

	list, pager, err := h.service.List(r.Context(), page, pageSize)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list patients")
		http.Error(w, "failed to list patients", http.StatusBadGateway)
		return
	}
	writeJSON(w, listResponse{Patients: list, Pager: pager})
}

func (h *HTTPHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		logger.Log.WithError(err).Error("patient search failed")
		http.Error(w, "patient search failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, listResponse{Patients: found})
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch patient")
		http.Error(w, "failed to fetch patient", http.StatusBadGateway)
		return
	}
	writeJSON(w, d)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
