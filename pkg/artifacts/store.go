// Package artifacts loads the label encoder, scaler and model artifacts the
// risk pipeline depends on.
package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/predict-mdr/platform/pkg/common/config"
	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/features"
	"github.com/predict-mdr/platform/pkg/gateway/httpclient"
	"github.com/predict-mdr/platform/pkg/observability/metrics"
)

const (
	LabelEncoders = "label_encoders"
	Scalers       = "scalers"
	Model         = "model"

	maxArtifactBytes = 64 << 20
)

// Error reports an artifact that could not be fetched or did not have the
// expected shape.
type Error struct {
	Artifact string
	Source   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("artifact %s from %s: %v", e.Artifact, e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ByteCache is a shared second-level cache of raw artifact bytes.
type ByteCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Sources struct {
	LabelEncoders string
	Scalers       string
	Model         string
}

// Store fetches each artifact at most once. Successful loads are memoised;
// failures are returned to every waiter of that flight and retried on the
// next call.
type Store struct {
	sources  Sources
	http     *http.Client
	cache    ByteCache
	cacheTTL time.Duration

	group singleflight.Group
	mu    sync.RWMutex
	raw   map[string][]byte

	encoder features.LabelEncoder
	scaler  features.Scaler
}

type Option func(*Store)

func WithCache(cache ByteCache, ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.http = c }
}

func NewStore(sources Sources, timeout time.Duration, opts ...Option) *Store {
	s := &Store{
		sources: sources,
		http:    httpclient.New(timeout),
		raw:     make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStoreFromConfig wires the configured URLs and, when a client is given,
// the Redis byte cache.
func NewStoreFromConfig(cfg *config.Config, rdb *redis.Client) *Store {
	opts := []Option{}
	if rdb != nil {
		opts = append(opts, WithCache(NewRedisCache(rdb, "artifacts:"), cfg.ArtifactCacheTTL))
	}
	return NewStore(Sources{
		LabelEncoders: cfg.LabelEncoderURL,
		Scalers:       cfg.ScalerURL,
		Model:         cfg.ModelURL,
	}, cfg.ArtifactFetchTimeout, opts...)
}

// LabelEncoder returns the parsed label encoder artifact.
func (s *Store) LabelEncoder(ctx context.Context) (features.LabelEncoder, error) {
	s.mu.RLock()
	enc := s.encoder
	s.mu.RUnlock()
	if enc != nil {
		return enc, nil
	}
	data, err := s.Bytes(ctx, LabelEncoders)
	if err != nil {
		return nil, err
	}
	enc, err = features.ParseLabelEncoder(data)
	if err != nil {
		s.forget(LabelEncoders)
		return nil, &Error{Artifact: LabelEncoders, Source: s.source(LabelEncoders), Err: err}
	}
	s.mu.Lock()
	s.encoder = enc
	s.mu.Unlock()
	return enc, nil
}

// Scaler returns the parsed scaler artifact.
func (s *Store) Scaler(ctx context.Context) (features.Scaler, error) {
	s.mu.RLock()
	sc := s.scaler
	s.mu.RUnlock()
	if sc != nil {
		return sc, nil
	}
	data, err := s.Bytes(ctx, Scalers)
	if err != nil {
		return nil, err
	}
	sc, err = features.ParseScaler(data)
	if err != nil {
		s.forget(Scalers)
		return nil, &Error{Artifact: Scalers, Source: s.source(Scalers), Err: err}
	}
	s.mu.Lock()
	s.scaler = sc
	s.mu.Unlock()
	return sc, nil
}

// ModelBytes is the loader of the inference engine.
func (s *Store) ModelBytes(ctx context.Context) ([]byte, error) {
	return s.Bytes(ctx, Model)
}

// Bytes returns the raw artifact, fetching it once across concurrent callers.
func (s *Store) Bytes(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.raw[name]
	s.mu.RUnlock()
	if ok {
		return data, nil
	}

	v, err, _ := s.group.Do(name, func() (interface{}, error) {
		s.mu.RLock()
		data, ok := s.raw[name]
		s.mu.RUnlock()
		if ok {
			return data, nil
		}
		data, err := s.load(ctx, name)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.raw[name] = data
		s.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Reset drops every memoised artifact. Cached bytes in Redis are kept
// unless purge is set.
func (s *Store) Reset(ctx context.Context, purge bool) {
	s.mu.Lock()
	s.raw = make(map[string][]byte)
	s.encoder = nil
	s.scaler = nil
	s.mu.Unlock()
	if purge && s.cache != nil {
		for _, name := range []string{LabelEncoders, Scalers, Model} {
			if err := s.cache.Set(ctx, s.cacheKey(name), nil, time.Millisecond); err != nil {
				logger.Log.WithError(err).WithField("artifact", name).Warn("Failed to purge cached artifact")
			}
		}
	}
}

func (s *Store) forget(name string) {
	s.mu.Lock()
	delete(s.raw, name)
	s.mu.Unlock()
}

func (s *Store) source(name string) string {
	switch name {
	case LabelEncoders:
		return s.sources.LabelEncoders
	case Scalers:
		return s.sources.Scalers
	case Model:
		return s.sources.Model
	}
	return ""
}

func (s *Store) cacheKey(name string) string {
	return name + ":" + s.source(name)
}

func (s *Store) load(ctx context.Context, name string) ([]byte, error) {
	src := s.source(name)
	if src == "" {
		return nil, &Error{Artifact: name, Source: "<unset>", Err: fmt.Errorf("no source configured")}
	}

	if s.cache != nil {
		data, hit, err := s.cache.Get(ctx, s.cacheKey(name))
		if err != nil {
			logger.Log.WithError(err).WithField("artifact", name).Warn("Artifact cache read failed")
		} else if hit && len(data) > 0 {
			metrics.ObserveArtifactLoad(name, "cache", nil)
			return data, nil
		}
	}

	start := time.Now()
	kind, data, err := s.fetch(ctx, src)
	metrics.ObserveArtifactLoad(name, kind, err)
	if err != nil {
		return nil, &Error{Artifact: name, Source: src, Err: err}
	}
	logger.Log.WithFields(map[string]interface{}{
		"artifact":   name,
		"source":     src,
		"bytes":      len(data),
		"latency_ms": time.Since(start).Milliseconds(),
	}).Info("Artifact loaded")

	if s.cache != nil {
		if err := s.cache.Set(ctx, s.cacheKey(name), data, s.cacheTTL); err != nil {
			logger.Log.WithError(err).WithField("artifact", name).Warn("Artifact cache write failed")
		}
	}
	return data, nil
}

func (s *Store) fetch(ctx context.Context, src string) (string, []byte, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "invalid", nil, err
	}
	switch u.Scheme {
	case "http", "https":
		data, err := s.fetchHTTP(ctx, src)
		return "http", data, err
	case "file":
		path := u.Path
		if u.Host != "" {
			// file://artifacts/x.json names a path relative to the working directory.
			path = u.Host + u.Path
		}
		data, err := readFile(path)
		return "file", data, err
	case "":
		data, err := readFile(src)
		return "file", data, err
	default:
		return "invalid", nil, fmt.Errorf("unsupported artifact scheme %q", u.Scheme)
	}
}

func (s *Store) fetchHTTP(ctx context.Context, src string) ([]byte, error) {
	var data []byte
	err := httpclient.Retry(ctx, 3, 200*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return err
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &httpclient.StatusError{URL: src, Code: resp.StatusCode}
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes))
		return err
	})
	return data, err
}

func readFile(path string) ([]byte, error) {
	path = filepath.Clean(strings.TrimSpace(path))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return data, nil
}
