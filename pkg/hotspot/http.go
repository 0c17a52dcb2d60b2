package hotspot

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/predict-mdr/platform/pkg/common/logger"
)

type HTTPHandler struct {
	source    Source
	epsKm     float64
	minPoints int
}

func NewHTTPHandler(source Source, epsKm float64, minPoints int) *HTTPHandler {
	return &HTTPHandler{source: source, epsKm: epsKm, minPoints: minPoints}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/hotspots", h.handleHotspots).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleHotspots(w http.ResponseWriter, r *http.Request) {
	entities, err := h.source.ListCoordinates(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to load patient coordinates")
		http.Error(w, "failed to load patient coordinates", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Build(entities, h.epsKm, h.minPoints))
}
