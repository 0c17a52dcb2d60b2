package terminology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogResolvesBundledNames(t *testing.T) {
	cat := DefaultCatalog()
	assert.Equal(t, "Sex", cat.DisplayName("u8jzPde0Igx"))
	assert.Equal(t, "unknownId00", cat.DisplayName("unknownId00"))
}

func TestMergePrefersDHIS2Names(t *testing.T) {
	cat := DefaultCatalog()
	n := cat.Merge([]models.DataElement{
		{ID: "u8jzPde0Igx", Name: "TB - Sex", DisplayName: "Patient sex"},
		{ID: "newElement1", Name: "Weight at start"},
		{ID: "blankName01"},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, "Patient sex", cat.DisplayName("u8jzPde0Igx"))
	assert.Equal(t, "Weight at start", cat.DisplayName("newElement1"))
	assert.Equal(t, "blankName01", cat.DisplayName("blankName01"))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.yaml")
	require.NoError(t, os.WriteFile(path, []byte("names:\n  abc: \" Alpha \"\n"), 0o600))
	cat, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", cat.DisplayName("abc"))
	assert.Equal(t, 1, cat.Len())

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("names: {}\n"), 0o600))
	_, err = Load(empty)
	assert.Error(t, err)
}
