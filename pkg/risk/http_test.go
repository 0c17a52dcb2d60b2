package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/predict-mdr/platform/pkg/common/kafka"
	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/predict-mdr/platform/pkg/dhis2"
	"github.com/predict-mdr/platform/pkg/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	items map[string]models.RiskAssessment
}

func (m *memoryCache) Latest(ctx context.Context, id string) (*models.RiskAssessment, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memoryCache) Store(ctx context.Context, a models.RiskAssessment) error {
	m.items[a.PatientID] = a
	return nil
}

func serve(h *HTTPHandler, method, path string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	h.Register(router)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestPredictionEndpointCachesResult(t *testing.T) {
	cache := &memoryCache{items: map[string]models.RiskAssessment{}}
	svc := newTestService(t,
		&fakeEntities{entity: entityWith(event("E1", map[string]string{"C1": "no", "N1": "8"}))},
		defaultArtifacts(), logisticModel(t, -2, 1, 1), WithCache(cache))
	h := NewHTTPHandler(svc, nil)

	rec := serve(h, http.MethodGet, "/patients/TE1/prediction")
	require.Equal(t, http.StatusOK, rec.Code)
	var a models.RiskAssessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, ClassNegative, a.Classification)
	assert.Empty(t, rec.Header().Get("X-Cache"))

	rec = serve(h, http.MethodGet, "/patients/TE1/prediction")
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))

	rec = serve(h, http.MethodGet, "/patients/TE1/prediction?refresh=true")
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestPredictionEndpointMapsErrors(t *testing.T) {
	arts := defaultArtifacts()
	arts.scaler = features.Scaler{}
	svc := newTestService(t, &fakeEntities{entity: entityWith(event("E1", nil))}, arts, logisticModel(t, 0, 1, 1))
	h := NewHTTPHandler(svc, nil)

	rec := serve(h, http.MethodGet, "/patients/TE1/prediction")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "schema_mismatch", body.Kind)
	assert.Equal(t, "failed", body.Status)

	rec = serve(h, http.MethodGet, "/predictions/recent")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictionEndpointUnknownPatientIs404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/dataElements" {
			_, _ = w.Write([]byte(`{"dataElements":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	client, err := dhis2.New(dhis2.Config{BaseURL: srv.URL + "/api", Timeout: time.Second, RetryAttempts: 3})
	require.NoError(t, err)

	svc := newTestService(t, client, defaultArtifacts(), logisticModel(t, 0, 1, 1))
	rec := serve(NewHTTPHandler(svc, nil), http.MethodGet, "/patients/nope/prediction")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Kind)
	assert.Equal(t, "failed", body.Status)

	err = svc.HandleEvent(context.Background(), models.Event{ID: "1", Type: EventRequested, Data: map[string]interface{}{"patient_id": "nope"}})
	assert.ErrorIs(t, err, kafka.ErrSkip)
}

func TestMetadataNotFoundStaysUpstream(t *testing.T) {
	err := classify("data_elements", fmt.Errorf("dataElements: %w", dhis2.ErrNotFound))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(err))
	assert.Equal(t, "upstream_error", Outcome(err))
}

func TestReloadRunsResetHooks(t *testing.T) {
	called := 0
	svc := newTestService(t, &fakeEntities{entity: &models.TrackedEntity{}}, defaultArtifacts(), logisticModel(t, 0, 1, 1),
		WithReset(func(ctx context.Context) { called++ }))
	rec := serve(NewHTTPHandler(svc, nil), http.MethodPost, "/admin/artifacts/reload")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, called)
}
