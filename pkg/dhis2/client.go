// Package dhis2 is a small typed client for the DHIS2 tracker endpoints the
// risk pipeline and the patient views read from.
package dhis2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/predict-mdr/platform/pkg/common/config"
	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/predict-mdr/platform/pkg/gateway/httpclient"
	"github.com/predict-mdr/platform/pkg/observability/metrics"
)

// Tracked entity attributes of the MDR-TB program.
const (
	AttrFirstName   = "sB1IHYu2xQT"
	AttrLastName    = "ENRjVGxVL6l"
	AttrPatientName = "jWjSY7cktaQ"
	AttrTBNumber    = "ZkNZOxS24k7"
	AttrNationalID  = "Ewi7FUfcHAD"

	// MinSearchLength is the shortest term sent upstream.
	MinSearchLength = 2
	// SearchPageSize caps the results of one attribute search.
	SearchPageSize = 20
)

var searchAttributes = []string{AttrTBNumber, AttrLastName, AttrFirstName, AttrPatientName, AttrNationalID}

var (
	entityFields  = "trackedEntityInstance,orgUnit,orgUnitName,created,attributes,enrollments,events,coordinates,geometry"
	listFields    = "trackedEntityInstance,orgUnit,orgUnitName,created,attributes,enrollments,coordinates"
	hotspotFields = "trackedEntityInstance,geometry,attributes[attribute,displayName,value]"
)

// ErrNotFound is returned for unknown ids.
var ErrNotFound = errors.New("dhis2: not found")

type Config struct {
	BaseURL       string
	Username      string
	Password      string
	ClientID      string
	ClientSecret  string
	TokenURL      string
	Timeout       time.Duration
	RetryAttempts int
	Program       string
	OrgUnit       string
}

// ConfigFrom maps the process configuration onto the client.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BaseURL:       cfg.DHIS2BaseURL,
		Username:      cfg.DHIS2Username,
		Password:      cfg.DHIS2Password,
		ClientID:      cfg.DHIS2ClientID,
		ClientSecret:  cfg.DHIS2ClientSecret,
		TokenURL:      cfg.DHIS2TokenURL,
		Timeout:       cfg.DHIS2RequestTimeout,
		RetryAttempts: cfg.DHIS2RetryAttempts,
		Program:       cfg.DHIS2Program,
		OrgUnit:       cfg.DHIS2OrgUnit,
	}
}

type Client struct {
	cfg       Config
	http      *http.Client
	basicAuth bool

	namesMu sync.Mutex
	names   []models.DataElement
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("dhis2 base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("dhis2 base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	hc, basic, err := authorize(httpclient.New(cfg.Timeout), cfg)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, http: hc, basicAuth: basic}, nil
}

// GetTrackedEntity fetches one tracked entity with its enrollments and events.
func (c *Client) GetTrackedEntity(ctx context.Context, id string) (*models.TrackedEntity, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("tracked entity id is required")
	}
	var entity models.TrackedEntity
	q := url.Values{"fields": {entityFields}}
	if err := c.get(ctx, "tracked_entity", "trackedEntityInstances/"+url.PathEscape(id), q, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

// ListDataElements returns every data element id with its names. The result
// is memoised for the life of the client.
func (c *Client) ListDataElements(ctx context.Context) ([]models.DataElement, error) {
	c.namesMu.Lock()
	defer c.namesMu.Unlock()
	if c.names != nil {
		return c.names, nil
	}
	var out struct {
		DataElements []models.DataElement `json:"dataElements"`
	}
	q := url.Values{"fields": {"id,name,displayName"}, "paging": {"false"}}
	if err := c.get(ctx, "data_elements", "dataElements", q, &out); err != nil {
		return nil, err
	}
	if out.DataElements == nil {
		out.DataElements = []models.DataElement{}
	}
	c.names = out.DataElements
	return c.names, nil
}

// ListTrackedEntities pages through the program's patients. A pageSize of 0
// disables paging.
func (c *Client) ListTrackedEntities(ctx context.Context, page, pageSize int) (*models.TrackedEntityPage, error) {
	q := c.programScope()
	q.Set("fields", listFields)
	if pageSize <= 0 {
		q.Set("paging", "false")
	} else {
		if page <= 0 {
			page = 1
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(pageSize))
		q.Set("totalPages", "true")
	}
	var out models.TrackedEntityPage
	if err := c.get(ctx, "tracked_entities", "trackedEntityInstances", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchTrackedEntities matches term against the name, TB number and national
// id attributes. DHIS2 combines repeated filters with AND, so each attribute
// is queried separately and the results are merged in attribute order.
func (c *Client) SearchTrackedEntities(ctx context.Context, term string) ([]models.TrackedEntity, error) {
	term = strings.TrimSpace(term)
	if len([]rune(term)) < MinSearchLength {
		return []models.TrackedEntity{}, nil
	}

	results := make([][]models.TrackedEntity, len(searchAttributes))
	g, gctx := errgroup.WithContext(ctx)
	for i, attr := range searchAttributes {
		i, attr := i, attr
		g.Go(func() error {
			q := c.programScope()
			q.Set("fields", listFields)
			q.Set("pageSize", strconv.Itoa(SearchPageSize))
			q.Set("totalPages", "false")
			q.Set("filter", attr+":ilike:"+term)
			var out models.TrackedEntityPage
			if err := c.get(gctx, "search", "trackedEntityInstances", q, &out); err != nil {
				return err
			}
			results[i] = out.TrackedEntityInstances
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	merged := []models.TrackedEntity{}
	for _, batch := range results {
		for _, te := range batch {
			if seen[te.TrackedEntityInstance] {
				continue
			}
			seen[te.TrackedEntityInstance] = true
			merged = append(merged, te)
			if len(merged) == SearchPageSize {
				return merged, nil
			}
		}
	}
	return merged, nil
}

// GetOrgUnit returns the org unit's name and geometry.
func (c *Client) GetOrgUnit(ctx context.Context, id string) (*models.OrgUnit, error) {
	var ou models.OrgUnit
	q := url.Values{"fields": {"id,name,geometry"}}
	if err := c.get(ctx, "org_unit", "organisationUnits/"+url.PathEscape(id), q, &ou); err != nil {
		return nil, err
	}
	return &ou, nil
}

// ListCoordinates returns geometry and attributes of every patient, the input
// of the hotspot layer.
func (c *Client) ListCoordinates(ctx context.Context) ([]models.TrackedEntity, error) {
	q := c.programScope()
	q.Set("fields", hotspotFields)
	q.Set("skipPaging", "true")
	var out models.TrackedEntityPage
	if err := c.get(ctx, "coordinates", "trackedEntityInstances", q, &out); err != nil {
		return nil, err
	}
	if out.TrackedEntityInstances == nil {
		return []models.TrackedEntity{}, nil
	}
	return out.TrackedEntityInstances, nil
}

func (c *Client) programScope() url.Values {
	q := url.Values{}
	if c.cfg.OrgUnit != "" {
		q.Set("ou", c.cfg.OrgUnit)
		q.Set("ouMode", "DESCENDANTS")
	}
	if c.cfg.Program != "" {
		q.Set("program", c.cfg.Program)
	}
	return q
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out interface{}) error {
	target := c.cfg.BaseURL + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	return httpclient.Retry(ctx, c.cfg.RetryAttempts, 200*time.Millisecond, func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if c.basicAuth && c.cfg.Username != "" {
			req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			metrics.ObserveUpstream(endpoint, "error", time.Since(start))
			return err
		}
		defer resp.Body.Close()
		metrics.ObserveUpstream(endpoint, strconv.Itoa(resp.StatusCode/100)+"xx", time.Since(start))

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &httpclient.StatusError{URL: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}

		logger.Log.WithFields(map[string]interface{}{
			"endpoint":   endpoint,
			"latency_ms": time.Since(start).Milliseconds(),
		}).Debug("DHIS2 request completed")
		return nil
	})
}
