package artifacts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	if len(value) == 0 {
		delete(m.data, key)
		return nil
	}
	m.data[key] = value
	return nil
}

func TestHTTPArtifactsAreFetchedOnce(t *testing.T) {
	logger.Silence()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte(`{"A":{"classes":["x","y"],"mapping":{"x":1,"y":2}}}`))
	}))
	defer srv.Close()

	store := NewStore(Sources{LabelEncoders: srv.URL + "/le.json"}, time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc, err := store.LabelEncoder(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 2, enc["A"].Mapping["y"])
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFileArtifacts(t *testing.T) {
	logger.Silence()
	dir := t.TempDir()
	path := filepath.Join(dir, "scalers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"N":{"mean":2,"scale":4}}`), 0o600))

	store := NewStore(Sources{Scalers: "file://" + path}, time.Second)
	sc, err := store.Scaler(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.0, sc["N"].Scale)

	plain := NewStore(Sources{Scalers: path}, time.Second)
	_, err = plain.Scaler(context.Background())
	require.NoError(t, err)
}

func TestMalformedArtifactIsReportedAndNotMemoised(t *testing.T) {
	logger.Silence()
	path := filepath.Join(t.TempDir(), "scalers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"N":{"mean":2}}`), 0o600))
	store := NewStore(Sources{Scalers: path}, time.Second)

	_, err := store.Scaler(context.Background())
	var artErr *Error
	require.True(t, errors.As(err, &artErr))
	assert.Equal(t, Scalers, artErr.Artifact)

	require.NoError(t, os.WriteFile(path, []byte(`{"N":{"mean":2,"scale":1}}`), 0o600))
	_, err = store.Scaler(context.Background())
	assert.NoError(t, err)
}

func TestMissingSourceAndStatusErrors(t *testing.T) {
	logger.Silence()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	store := NewStore(Sources{Model: srv.URL + "/model.json"}, time.Second)
	_, err := store.ModelBytes(context.Background())
	assert.Error(t, err)

	_, err = store.LabelEncoder(context.Background())
	var artErr *Error
	assert.True(t, errors.As(err, &artErr))
}

func TestSharedCacheServesOtherReplicas(t *testing.T) {
	logger.Silence()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"format":"logistic","weights":{"bias":0,"coefficients":[1]}}`))
	}))
	defer srv.Close()

	cache := &memoryCache{}
	first := NewStore(Sources{Model: srv.URL}, time.Second, WithCache(cache, time.Hour))
	second := NewStore(Sources{Model: srv.URL}, time.Second, WithCache(cache, time.Hour))

	a, err := first.ModelBytes(context.Background())
	require.NoError(t, err)
	b, err := second.ModelBytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	second.Reset(context.Background(), true)
	_, err = second.ModelBytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
