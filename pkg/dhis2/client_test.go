package dhis2

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	logger.Silence()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL:       srv.URL + "/api",
		Username:      "admin",
		Password:      "district",
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		Program:       "wfd9K4dQVDR",
		OrgUnit:       "akV6429SUqu",
	})
	require.NoError(t, err)
	return c
}

func TestGetTrackedEntityDecodesEventsAndAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "district" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/api/trackedEntityInstances/TE1", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("fields"), "enrollments")
		_, _ = w.Write([]byte(`{"trackedEntityInstance":"TE1","enrollments":[{"events":[
			{"event":"E1","dataValues":[{"dataElement":"A","value":"12.5"},{"dataElement":"B","value":null}]}]}]}`))
	})

	te, err := c.GetTrackedEntity(context.Background(), "TE1")
	require.NoError(t, err)
	require.Len(t, te.Enrollments, 1)
	dv := te.Enrollments[0].Events[0].DataValues
	assert.Equal(t, models.TextValue("12.5"), dv[0].Value)
	assert.True(t, dv[1].Value.IsAbsent())
}

func TestGetTrackedEntityNotFoundIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.GetTrackedEntity(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"dataElements":[{"id":"A","name":"a","displayName":"Alpha"}]}`))
	})
	des, err := c.ListDataElements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Alpha", des[0].DisplayName)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	_, err = c.ListDataElements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "data elements are memoised")
}

func TestSearchQueriesEachAttributeAndMerges(t *testing.T) {
	var mu sync.Mutex
	var filters []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "akV6429SUqu", q.Get("ou"))
		assert.Equal(t, "wfd9K4dQVDR", q.Get("program"))
		assert.Equal(t, "20", q.Get("pageSize"))
		f := q.Get("filter")
		mu.Lock()
		filters = append(filters, f)
		mu.Unlock()

		page := models.TrackedEntityPage{TrackedEntityInstances: []models.TrackedEntity{}}
		switch {
		case strings.HasPrefix(f, AttrFirstName), strings.HasPrefix(f, AttrPatientName):
			page.TrackedEntityInstances = append(page.TrackedEntityInstances, models.TrackedEntity{TrackedEntityInstance: "TE1"})
		case strings.HasPrefix(f, AttrNationalID):
			page.TrackedEntityInstances = append(page.TrackedEntityInstances, models.TrackedEntity{TrackedEntityInstance: "TE2"})
		}
		_ = json.NewEncoder(w).Encode(page)
	})

	found, err := c.SearchTrackedEntities(context.Background(), "  jo ")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "TE1", found[0].TrackedEntityInstance)
	assert.Equal(t, "TE2", found[1].TrackedEntityInstance)
	assert.Len(t, filters, 5)
	assert.Contains(t, filters, AttrTBNumber+":ilike:jo")
}

func TestSearchIgnoresShortTerms(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("short terms must not reach DHIS2")
	})
	found, err := c.SearchTrackedEntities(context.Background(), "j")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestListTrackedEntitiesPaging(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("paging") == "false" {
			_, _ = w.Write([]byte(`{"trackedEntityInstances":[]}`))
			return
		}
		assert.Equal(t, "2", q.Get("page"))
		_, _ = w.Write([]byte(`{"trackedEntityInstances":[{"trackedEntityInstance":"TE9"}],"pager":{"page":2,"pageSize":1,"pageCount":3,"total":3}}`))
	})
	page, err := c.ListTrackedEntities(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pager.Total)

	all, err := c.ListTrackedEntities(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, all.TrackedEntityInstances)
}

func TestOAuth2ClientCredentials(t *testing.T) {
	logger.Silence()
	mux := http.NewServeMux()
	mux.HandleFunc("/uaa/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/api/organisationUnits/OU1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"OU1","name":"Lusaka","geometry":{"type":"Point","coordinates":[28.3,-15.4]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/api", ClientID: "mdrtb", ClientSecret: "s3cret", Timeout: time.Second})
	require.NoError(t, err)
	ou, err := c.GetOrgUnit(context.Background(), "OU1")
	require.NoError(t, err)
	assert.Equal(t, "Lusaka", ou.Name)
	lng, lat, ok := ou.Geometry.Point()
	require.True(t, ok)
	assert.Equal(t, 28.3, lng)
	assert.Equal(t, -15.4, lat)
}
