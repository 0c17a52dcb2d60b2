package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predict-mdr/platform/pkg/common/config"
	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/predict-mdr/platform/pkg/serving/predictor"
)

const entityJSON = `{"trackedEntityInstance":"TE1","orgUnitName":"Lusaka",
	"attributes":[{"attribute":"jWjSY7cktaQ","value":"Mary Banda"},{"attribute":"ZkNZOxS24k7","value":"TB-001"}],
	"enrollments":[{"events":[
		{"event":"E1","dataValues":[{"dataElement":"C1","value":"b"},{"dataElement":"N1","value":"2"}]},
		{"event":"E2","dataValues":[{"dataElement":"C1","value":"a"},{"dataElement":"N1","value":"0"}]}]}]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// setup points the CLI at a fake DHIS2 server and local artifacts.
func setup(t *testing.T) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/trackedEntityInstances/TE1":
			_, _ = w.Write([]byte(entityJSON))
		case "/api/trackedEntityInstances":
			_, _ = w.Write([]byte(`{"trackedEntityInstances":[` + entityJSON + `]}`))
		case "/api/dataElements":
			_, _ = w.Write([]byte(`{"dataElements":[{"id":"N1","name":"n1","displayName":"Weight at diagnosis"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := &config.Config{
		DHIS2BaseURL:         srv.URL + "/api",
		DHIS2Username:        "admin",
		DHIS2Password:        "district",
		DHIS2RequestTimeout:  2 * time.Second,
		DHIS2RetryAttempts:   1,
		DHIS2Program:         "wfd9K4dQVDR",
		DHIS2OrgUnit:         "akV6429SUqu",
		FeatureSchemaPath:    writeFile(t, dir, "schema.yaml", "categorical: [C1]\nnumeric: [N1]\n"),
		LabelEncoderURL:      writeFile(t, dir, "encoders.json", `{"C1":{"classes":["a","b"],"mapping":{"a":0,"b":1}}}`),
		ScalerURL:            writeFile(t, dir, "scalers.json", `{"N1":{"mean":0,"scale":1}}`),
		ModelURL:             writeFile(t, dir, "model.json", `{"format":"logistic","version":"test-1","weights":{"bias":-1,"coefficients":[1,1]}}`),
		ArtifactFetchTimeout: 2 * time.Second,
		PipelineTimeout:      5 * time.Second,
		ImportanceSeed:       42,
		ImportanceWorkers:    2,
		PositiveThreshold:    0.5,
		HotspotEpsKm:         1,
		HotspotMinPoints:     2,
	}

	prev := loadConfig
	loadConfig = func() *config.Config { return cfg }
	t.Cleanup(func() { loadConfig = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPredictJSON(t *testing.T) {
	setup(t)

	out, err := execute(t, "predict", "TE1", "--json")
	require.NoError(t, err)

	var a models.RiskAssessment
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, "TE1", a.PatientID)
	assert.Equal(t, "test-1", a.ModelVersion)
	require.Len(t, a.Events, 2)
	assert.Equal(t, "E1", a.Events[0].EventID)
	// sigmoid(1+2-1) and sigmoid(-1)
	assert.InDelta(t, 0.8808, a.Events[0].Probability, 1e-3)
	assert.InDelta(t, 0.2689, a.Events[1].Probability, 1e-3)
	assert.True(t, a.Positive)
	assert.Equal(t, "Yes", a.Classification)
}

func TestPredictText(t *testing.T) {
	setup(t)

	out, err := execute(t, "predict", "TE1")
	require.NoError(t, err)
	assert.Contains(t, out, "Model:    test-1")
	assert.Contains(t, out, "Events:   2")
	assert.Contains(t, out, "MDR-TB:   Yes")
	assert.Contains(t, out, "E2")
}

func TestPredictUnknownPatient(t *testing.T) {
	setup(t)

	_, err := execute(t, "predict", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")
}

func TestPredictRequiresID(t *testing.T) {
	setup(t)
	_, err := execute(t, "predict")
	assert.Error(t, err)
}

func TestSearchTable(t *testing.T) {
	setup(t)

	out, err := execute(t, "search", "banda")
	require.NoError(t, err)
	assert.Contains(t, out, "Mary Banda")
	assert.Contains(t, out, "TB-001")
}

func TestSearchShortTerm(t *testing.T) {
	setup(t)

	out, err := execute(t, "search", "b")
	require.NoError(t, err)
	assert.Contains(t, out, "No patients match")
}

func TestSchemaListsColumnsInOrder(t *testing.T) {
	setup(t)

	out, err := execute(t, "schema", "--json")
	require.NoError(t, err)
	var got struct {
		Categorical []string `json:"categorical"`
		Numeric     []string `json:"numeric"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"C1"}, got.Categorical)
	assert.Equal(t, []string{"N1"}, got.Numeric)

	out, err = execute(t, "schema")
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^\s+0\s+C1\s+categorical`, out)
	assert.Regexp(t, `(?m)^\s+1\s+N1\s+numeric`, out)
}

func TestHotspotsWithoutCoordinates(t *testing.T) {
	setup(t)

	out, err := execute(t, "hotspots")
	require.NoError(t, err)
	assert.Contains(t, out, "0 located patients, 0 clusters")
}

func TestTrainWritesLoadableArtifact(t *testing.T) {
	setup(t)
	dir := t.TempDir()
	set := writeFile(t, dir, "set.json", `{"samples":[[0,0],[0,1],[1,3],[1,4]],"labels":[0,0,1,1]}`)
	out := filepath.Join(dir, "model.json")

	_, err := execute(t, "train", set, "-o", out, "--epochs", "500", "--learning-rate", "0.5", "--version", "fit-1")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	model, err := predictor.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "fit-1", model.Version())
	assert.Equal(t, 2, model.Width())

	hi, err := model.Predict([]float64{1, 4})
	require.NoError(t, err)
	lo, err := model.Predict([]float64{0, 0})
	require.NoError(t, err)
	assert.Greater(t, hi, 0.5)
	assert.Less(t, lo, 0.5)
}

func TestTrainRejectsWrongWidth(t *testing.T) {
	setup(t)
	set := writeFile(t, t.TempDir(), "set.json", `{"samples":[[0,0,1]],"labels":[1]}`)

	_, err := execute(t, "train", set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 3 features, want 2")
}
