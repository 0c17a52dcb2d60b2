package features

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed schema_default.yaml
var defaultSchemaYAML []byte

// Schema is the ordered column layout the model expects: categorical
// columns first, then numeric columns.
type Schema struct {
	Categorical []string `yaml:"categorical" json:"categorical"`
	Numeric     []string `yaml:"numeric" json:"numeric"`

	kinds map[string]columnKind
}

type columnKind int

const (
	kindNone columnKind = iota
	kindCategorical
	kindNumeric
)

var errEmptySchema = errors.New("feature schema has no columns")

func NewSchema(categorical, numeric []string) (*Schema, error) {
	s := &Schema{
		Categorical: append([]string(nil), categorical...),
		Numeric:     append([]string(nil), numeric...),
	}
	if err := s.index(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustSchema is NewSchema for static column lists.
func MustSchema(categorical, numeric []string) *Schema {
	s, err := NewSchema(categorical, numeric)
	if err != nil {
		panic(err)
	}
	return s
}

// DefaultSchema returns the bundled 48-column TB/MDR-TB schema.
func DefaultSchema() *Schema {
	s, err := parseSchema(defaultSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("bundled feature schema: %v", err))
	}
	return s
}

// LoadSchema reads a YAML schema; an empty path yields the default.
func LoadSchema(path string) (*Schema, error) {
	if path == "" {
		return DefaultSchema(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return parseSchema(content)
}

func parseSchema(content []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(content, &s); err != nil {
		return nil, err
	}
	if err := s.index(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) index() error {
	if len(s.Categorical)+len(s.Numeric) == 0 {
		return errEmptySchema
	}
	s.kinds = make(map[string]columnKind, len(s.Categorical)+len(s.Numeric))
	for _, group := range []struct {
		cols []string
		kind columnKind
	}{{s.Categorical, kindCategorical}, {s.Numeric, kindNumeric}} {
		for _, col := range group.cols {
			col = strings.TrimSpace(col)
			if col == "" {
				return errors.New("feature schema contains an empty column id")
			}
			if _, dup := s.kinds[col]; dup {
				return fmt.Errorf("feature schema lists column %s twice", col)
			}
			s.kinds[col] = group.kind
		}
	}
	return nil
}

// Width is the length of every feature vector built from this schema.
func (s *Schema) Width() int {
	return len(s.Categorical) + len(s.Numeric)
}

// Columns returns the vector layout: categorical then numeric.
func (s *Schema) Columns() []string {
	cols := make([]string, 0, s.Width())
	cols = append(cols, s.Categorical...)
	return append(cols, s.Numeric...)
}

func (s *Schema) IsCategorical(col string) bool { return s.kinds[col] == kindCategorical }
func (s *Schema) IsNumeric(col string) bool     { return s.kinds[col] == kindNumeric }
func (s *Schema) Declares(col string) bool      { return s.kinds[col] != kindNone }
