package features

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema([]string{"C1"}, []string{"N1"})
	require.NoError(t, err)
	return s
}

func exampleArtifacts() (LabelEncoder, Scaler) {
	enc := LabelEncoder{"C1": {Classes: []string{"no", "yes"}, Mapping: map[string]int{"yes": 1, "no": 0}}}
	sc := Scaler{"N1": {Mean: 10, Scale: 2}}
	return enc, sc
}

func entityFromJSON(t *testing.T, payload string) *models.TrackedEntity {
	t.Helper()
	var te models.TrackedEntity
	require.NoError(t, json.Unmarshal([]byte(payload), &te))
	return &te
}

func TestExampleEventBuildsExpectedVector(t *testing.T) {
	schema := exampleSchema(t)
	enc, sc := exampleArtifacts()

	raw := &RawEventRecord{EventID: "ev1", Values: map[string]models.Value{
		"C1": models.TextValue("yes"),
		"N1": models.TextValue("12"),
	}}
	processed := Normalize("", raw, schema)
	encoded := Encode(processed, schema, enc, nil)
	scaled, err := Scale(encoded, schema, sc, nil)
	require.NoError(t, err)
	vec, err := Assemble(scaled, schema)
	require.NoError(t, err)

	assert.Equal(t, FeatureVector{1, 1.0}, vec)
}

func TestEmptyEventBuildsZeroVector(t *testing.T) {
	schema := exampleSchema(t)
	enc, sc := exampleArtifacts()

	processed := Normalize("ev1", &RawEventRecord{EventID: "ev1", Values: map[string]models.Value{}}, schema)
	assert.Equal(t, models.NumberValue(0), processed.Values["C1"])
	assert.Equal(t, models.NumberValue(0), processed.Values["N1"])

	// "0" is not a key of the C1 mapping, so the unseen code applies.
	encoded := Encode(processed, schema, enc, nil)
	assert.Equal(t, 0, encoded.Codes["C1"])

	// (0-10)/2 is negative and floors at zero.
	scaled, err := Scale(encoded, schema, sc, nil)
	require.NoError(t, err)
	vec, err := Assemble(scaled, schema)
	require.NoError(t, err)
	assert.Equal(t, FeatureVector{0, 0}, vec)
}

func TestDefaultedCategoricalCollidesWithZeroKey(t *testing.T) {
	schema := exampleSchema(t)
	enc := LabelEncoder{"C1": {Mapping: map[string]int{"0": 3, "yes": 1}}}
	encoded := Encode(Normalize("ev", nil, schema), schema, enc, nil)
	assert.Equal(t, 3, encoded.Codes["C1"])
}

func TestNormalizeKeySetMatchesSchema(t *testing.T) {
	schema := DefaultSchema()
	sparse := []*RawEventRecord{
		nil,
		{EventID: "a", Values: map[string]models.Value{}},
		{EventID: "b", Values: map[string]models.Value{schema.Numeric[0]: models.NumberValue(4), "undeclared": models.TextValue("x")}},
		{EventID: "c", Values: map[string]models.Value{schema.Categorical[2]: {}}},
	}
	for _, raw := range sparse {
		processed := Normalize("", raw, schema)
		require.Len(t, processed.Values, schema.Width())
		for _, col := range schema.Columns() {
			_, ok := processed.Values[col]
			assert.True(t, ok, "missing %s", col)
		}
		_, leaked := processed.Values["undeclared"]
		assert.False(t, leaked)
	}
}

func TestEncodeUnseenCategoryDefaultsAndReports(t *testing.T) {
	schema, err := NewSchema([]string{"C1", "C2"}, nil)
	require.NoError(t, err)
	enc := LabelEncoder{"C1": {Mapping: map[string]int{"yes": 1}}}
	report := &Report{}

	rec := ProcessedEventRecord{EventID: "ev", Values: map[string]models.Value{
		"C1": models.TextValue("maybe"),
		"C2": models.TextValue("anything"),
	}}
	encoded := Encode(rec, schema, enc, report)
	assert.Equal(t, map[string]int{"C1": 0, "C2": 0}, encoded.Codes)
	assert.Len(t, report.UnseenCategories, 2)
}

func TestEncodeIsDeterministic(t *testing.T) {
	schema := exampleSchema(t)
	enc, _ := exampleArtifacts()
	rec := Normalize("ev", &RawEventRecord{Values: map[string]models.Value{"C1": models.TextValue("yes")}}, schema)
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1, Encode(rec, schema, enc, nil).Codes["C1"])
	}
}

func TestScaleFailsOnMissingColumn(t *testing.T) {
	schema, err := NewSchema(nil, []string{"N1", "N2"})
	require.NoError(t, err)
	_, err = Scale(EncodedEventRecord{Numeric: map[string]models.Value{}}, schema, Scaler{"N1": {Mean: 0, Scale: 1}}, nil)

	var missing *MissingScalerError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"N2"}, missing.Columns)
}

func TestScaleClampsAndParses(t *testing.T) {
	schema, err := NewSchema(nil, []string{"N1", "N2", "N3"})
	require.NoError(t, err)
	sc := Scaler{"N1": {Mean: 5, Scale: 1}, "N2": {Mean: 0, Scale: 4}, "N3": {Mean: 1, Scale: 1}}
	report := &Report{}
	rec := EncodedEventRecord{EventID: "ev", Numeric: map[string]models.Value{
		"N1": models.NumberValue(1),
		"N2": models.TextValue("8 mg"),
		"N3": models.TextValue("n/a"),
	}}
	scaled, err := Scale(rec, schema, sc, report)
	require.NoError(t, err)
	assert.Equal(t, 0.0, scaled.Numeric["N1"])
	assert.Equal(t, 2.0, scaled.Numeric["N2"])
	assert.Equal(t, 0.0, scaled.Numeric["N3"])
	assert.Len(t, report.ParseFailures, 1)
	for _, v := range scaled.Numeric {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestAssembleRejectsInfinity(t *testing.T) {
	schema := exampleSchema(t)
	enc, _ := exampleArtifacts()
	rec := Normalize("ev", &RawEventRecord{Values: map[string]models.Value{"N1": models.NumberValue(3)}}, schema)
	scaled, err := Scale(Encode(rec, schema, enc, nil), schema, Scaler{"N1": {Mean: 0, Scale: 0}}, nil)
	require.NoError(t, err)
	require.True(t, math.IsInf(scaled.Numeric["N1"], 1))

	_, err = Assemble(scaled, schema)
	var nonNumeric *NonNumericFeatureError
	require.ErrorAs(t, err, &nonNumeric)
	assert.Equal(t, "N1", nonNumeric.Column)
}

func TestExtractWalksEnrollmentsAndDropsUndeclared(t *testing.T) {
	schema := exampleSchema(t)
	te := entityFromJSON(t, `{
		"trackedEntityInstance": "tei1",
		"enrollments": [
			{"events": [
				{"event": "e1", "dataValues": [
					{"dataElement": "C1", "value": "yes"},
					{"dataElement": "N1", "value": "12.5kg"},
					{"dataElement": "OTHER", "value": "dropped"}
				]},
				{"event": "e2", "dataValues": [
					{"dataElement": "N1", "value": "abc"},
					{"dataElement": "C1", "value": null}
				]}
			]},
			{"events": [{"event": "e3", "dataValues": []}]}
		]
	}`)
	report := &Report{}
	ex := Extract(te, schema, report)
	require.Equal(t, 3, ex.Len())
	assert.Equal(t, []string{"e1", "e2", "e3"}, []string{ex.Events[0].EventID, ex.Events[1].EventID, ex.Events[2].EventID})

	e1, ok := ex.Get("e1")
	require.True(t, ok)
	assert.Equal(t, models.TextValue("yes"), e1.Values["C1"])
	assert.Equal(t, models.NumberValue(12.5), e1.Values["N1"])
	assert.NotContains(t, e1.Values, "OTHER")

	e2, _ := ex.Get("e2")
	assert.Equal(t, models.NumberValue(0), e2.Values["N1"])
	assert.True(t, e2.Values["C1"].IsAbsent())
	assert.Equal(t, []string{"e2/N1=abc"}, report.ParseFailures)
}

func TestExtractToleratesMissingEnrollments(t *testing.T) {
	schema := exampleSchema(t)
	assert.Equal(t, 0, Extract(nil, schema, nil).Len())
	assert.Equal(t, 0, Extract(&models.TrackedEntity{}, schema, nil).Len())
	assert.Equal(t, 0, Extract(entityFromJSON(t, `{"enrollments":[{"events":[]}]}`), schema, nil).Len())
}

func TestBuilderVectorWidthIsConstant(t *testing.T) {
	schema := DefaultSchema()
	require.Equal(t, 48, schema.Width())

	sc := Scaler{}
	for _, col := range schema.Numeric {
		sc[col] = ColumnScaler{Mean: 1, Scale: 2}
	}
	te := &models.TrackedEntity{Enrollments: []models.Enrollment{{Events: []models.TrackerEvent{
		{Event: "a", DataValues: []models.DataValue{{DataElement: schema.Numeric[0], Value: models.TextValue("40")}}},
		{Event: "b"},
	}}}}
	ids, vectors, err := Builder{Schema: schema, Encoder: LabelEncoder{}, Scaler: sc}.Vectors(Extract(te, schema, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	for _, v := range vectors {
		assert.Len(t, v, schema.Width())
	}
	assert.Equal(t, 19.5, vectors[0][len(schema.Categorical)])
}

func TestParseArtifacts(t *testing.T) {
	enc, err := ParseLabelEncoder([]byte(`{"C1":{"classes":["no","yes"],"mapping":{"no":0,"yes":1}},"C2":{"classes":["a","b","c"]}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, enc["C1"].Mapping["yes"])
	assert.Equal(t, 2, enc["C2"].Mapping["c"])

	_, err = ParseLabelEncoder([]byte(`{"C1":{"mapping":{"x":1.5}}}`))
	assert.Error(t, err)

	sc, err := ParseScaler([]byte(`{"N1":{"mean":10,"scale":2}}`))
	require.NoError(t, err)
	assert.Equal(t, ColumnScaler{Mean: 10, Scale: 2}, sc["N1"])

	_, err = ParseScaler([]byte(`{"N1":{"mean":10}}`))
	assert.Error(t, err)
}

func TestSchemaRejectsDuplicates(t *testing.T) {
	_, err := NewSchema([]string{"A"}, []string{"A"})
	assert.Error(t, err)
	_, err = NewSchema(nil, nil)
	assert.Error(t, err)
}

func TestParseLeadingFloat(t *testing.T) {
	cases := map[string]float64{"12": 12, " 3.5abc": 3.5, "-2e2x": -200, ".5": 0.5}
	for in, want := range cases {
		got, ok := ParseLeadingFloat(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseLeadingFloat("abc")
	assert.False(t, ok)
}
