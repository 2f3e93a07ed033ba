package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/voicekit-labs/cascade/internal/observe"
	"github.com/voicekit-labs/cascade/pkg/backend"
)

// Cache lazily constructs and retains one Transcriber per backend identity
// key. Construction is expensive (model weights, device handles), so
// concurrent first use of the same key is collapsed to a single construction
// via singleflight; every caller observes the same instance.
//
// Safe for concurrent use.
type Cache struct {
	registry *backend.Registry
	metrics  *observe.Metrics
	group    singleflight.Group

	mu       sync.RWMutex
	backends map[string]backend.Transcriber
}

// NewCache creates an empty Cache that constructs backends through registry.
// A nil metrics disables cache instrumentation.
func NewCache(registry *backend.Registry, metrics *observe.Metrics) *Cache {
	return &Cache{
		registry: registry,
		metrics:  metrics,
		backends: make(map[string]backend.Transcriber),
	}
}

// GetOrCreate returns the cached Transcriber for cfg's identity key,
// constructing it on first use. Construction failures are returned to exactly
// the callers waiting on that construction; nothing is cached on failure, so
// a later request retries.
func (c *Cache) GetOrCreate(cfg backend.Config) (backend.Transcriber, error) {
	key := cfg.Key()

	c.mu.RLock()
	tr, ok := c.backends[key]
	c.mu.RUnlock()
	if ok {
		return tr, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: another caller may have populated the
		// entry between our read and the Do call.
		c.mu.RLock()
		existing, ok := c.backends[key]
		c.mu.RUnlock()
		if ok {
			return existing, nil
		}

		created, err := c.registry.Create(cfg)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.backends[key] = created
		c.mu.Unlock()

		if c.metrics != nil {
			ctx := context.Background()
			c.metrics.Constructions.Add(ctx, 1,
				metric.WithAttributes(observe.Attr("key", key)))
			c.metrics.CachedBackends.Add(ctx, 1)
		}
		slog.Info("constructed transcription backend",
			"key", key, "backend", cfg.Name())
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(backend.Transcriber), nil
}

// Len returns the number of cached backends.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.backends)
}

// Clear releases every cached backend that implements [io.Closer] and empties
// the map. A failing release is logged and does not block clearing the
// remaining entries. Callers must quiesce in-flight inference first; Clear is
// not a concurrent-safe hot operation with respect to calls already holding a
// Transcriber.
func (c *Cache) Clear() {
	c.mu.Lock()
	backends := c.backends
	c.backends = make(map[string]backend.Transcriber)
	c.mu.Unlock()

	for key, tr := range backends {
		closer, ok := tr.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			slog.Warn("failed to release backend resources",
				"key", key, "error", err)
		}
	}
	if len(backends) > 0 {
		if c.metrics != nil {
			c.metrics.CachedBackends.Add(context.Background(), -int64(len(backends)))
		}
		slog.Info("backend cache cleared", "released", len(backends))
	}
}
