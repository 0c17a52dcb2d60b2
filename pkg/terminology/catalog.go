package terminology

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/predict-mdr/platform/pkg/common/models"
)

//go:embed display_names.yaml
var defaultNames []byte

// Catalog maps data element ids to human-readable feature names.
type Catalog struct {
	mu    sync.RWMutex
	names map[string]string
}

type catalogFile struct {
	Names map[string]string `yaml:"names"`
}

// Load reads a YAML catalog, or the bundled one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	return parse(content)
}

func parse(content []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, err
	}
	if len(file.Names) == 0 {
		return nil, fmt.Errorf("display name catalog empty")
	}
	names := make(map[string]string, len(file.Names))
	for id, name := range file.Names {
		names[id] = strings.TrimSpace(name)
	}
	return &Catalog{names: names}, nil
}

func DefaultCatalog() *Catalog {
	cat, err := parse(defaultNames)
	if err != nil {
		panic(fmt.Sprintf("bundled display names invalid: %v", err))
	}
	return cat
}

// Lookup returns the display name of id; ids are case sensitive.
func (c *Catalog) Lookup(id string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[id]
	return name, ok && name != ""
}

// DisplayName falls back to the raw id.
func (c *Catalog) DisplayName(id string) string {
	if name, ok := c.Lookup(id); ok {
		return name
	}
	return id
}

// Merge overlays data element names fetched from DHIS2. Display names take
// precedence over plain names; blanks are ignored.
func (c *Catalog) Merge(elements []models.DataElement) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := 0
	for _, de := range elements {
		name := strings.TrimSpace(de.DisplayName)
		if name == "" {
			name = strings.TrimSpace(de.Name)
		}
		if de.ID == "" || name == "" {
			continue
		}
		c.names[de.ID] = name
		merged++
	}
	return merged
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}
