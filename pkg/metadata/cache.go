// Package metadata caches the per-index field descriptions ("extended
// configuration") published by the portal's arranger projects.
package metadata

import (
	"context"
	"fmt"
	"time"

	"clinical-report-be/internal/pkg/logger"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched configuration stays valid.
const DefaultTTL = 24 * time.Hour

// Field describes one document field of an index.
type Field struct {
	Field         string            `json:"field"`
	Type          string            `json:"type"`
	DisplayName   string            `json:"displayName"`
	Active        bool              `json:"active,omitempty"`
	IsArray       bool              `json:"isArray,omitempty"`
	Unit          string            `json:"unit,omitempty"`
	DisplayValues map[string]string `json:"displayValues,omitempty"`
}

// Fetcher loads the configuration of one (project, index) pair from its
// source of truth.
type Fetcher interface {
	Fetch(ctx context.Context, projectID, indexName string) ([]Field, error)
}

type FetcherFunc func(ctx context.Context, projectID, indexName string) ([]Field, error)

func (f FetcherFunc) Fetch(ctx context.Context, projectID, indexName string) ([]Field, error) {
	return f(ctx, projectID, indexName)
}

// SharedStore is an optional second tier shared between service instances.
type SharedStore interface {
	Load(ctx context.Context, key string) ([]Field, bool, error)
	Store(ctx context.Context, key string, fields []Field, ttl time.Duration) error
}

// Cache memoizes Fetcher results per (project, index). Concurrent misses on
// the same key share one fetch. Failed fetches are not remembered, so the
// next caller retries.
type Cache struct {
	entries *cache.Cache
	group   singleflight.Group
	fetcher Fetcher
	shared  SharedStore
	ttl     time.Duration
	logger  logger.ILogger
}

func NewCache(fetcher Fetcher, ttl time.Duration, logger logger.ILogger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	// no janitor: expired entries are dropped when looked up
	return &Cache{
		entries: cache.New(ttl, 0),
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger,
	}
}

// WithSharedStore attaches a shared tier consulted before the fetcher.
func (c *Cache) WithSharedStore(store SharedStore) *Cache {
	c.shared = store
	return c
}

func Key(projectID, indexName string) string {
	return projectID + " " + indexName
}

// Get returns the cached configuration, fetching it on a miss.
func (c *Cache) Get(ctx context.Context, projectID, indexName string) ([]Field, error) {
	key := Key(projectID, indexName)
	if v, found := c.entries.Get(key); found {
		return v.([]Field), nil
	}
	// go-cache keeps expired items until deleted; a miss is the eviction point
	c.entries.DeleteExpired()

	// the shared fetch outlives any single caller's cancellation
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.load(context.WithoutCancel(ctx), key, projectID, indexName)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Field), nil
	}
}

func (c *Cache) load(ctx context.Context, key, projectID, indexName string) ([]Field, error) {
	if v, found := c.entries.Get(key); found {
		return v.([]Field), nil
	}

	if c.shared != nil {
		fields, found, err := c.shared.Load(ctx, key)
		if err != nil {
			c.logger.Warn("METADATA", "Shared metadata store unavailable", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		} else if found {
			c.entries.Set(key, fields, cache.DefaultExpiration)
			return fields, nil
		}
	}

	start := time.Now()
	fields, err := c.fetcher.Fetch(ctx, projectID, indexName)
	if err != nil {
		c.entries.Delete(key)
		c.logger.Error("METADATA", "Failed to fetch extended configuration", map[string]interface{}{
			"project_id": projectID,
			"index":      indexName,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("extended configuration for %s/%s: %w", projectID, indexName, err)
	}

	c.entries.Set(key, fields, cache.DefaultExpiration)
	c.logger.Info("METADATA", "Extended configuration cached", map[string]interface{}{
		"project_id": projectID,
		"index":      indexName,
		"fields":     len(fields),
		"took_ms":    time.Since(start).Milliseconds(),
	})

	if c.shared != nil {
		if err := c.shared.Store(ctx, key, fields, c.ttl); err != nil {
			c.logger.Warn("METADATA", "Failed to share extended configuration", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
	return fields, nil
}

// Invalidate drops one entry from the local tier.
func (c *Cache) Invalidate(projectID, indexName string) {
	c.entries.Delete(Key(projectID, indexName))
}

// NestedFields returns the paths of fields of type "nested".
func NestedFields(fields []Field) []string {
	out := []string{}
	for _, f := range fields {
		if f.Type == "nested" {
			out = append(out, f.Field)
		}
	}
	return out
}

// ByField indexes fields by path.
func ByField(fields []Field) map[string]Field {
	out := make(map[string]Field, len(fields))
	for _, f := range fields {
		out[f.Field] = f
	}
	return out
}
