package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"dbspelunker/internal/introspect"
)

// Source is the read-only view of a database the analysis runs against.
// *Connection and *Cache implement it.
type Source interface {
	Engine() introspect.EngineKind
	Overview(ctx context.Context) (introspect.DatabaseOverview, error)
	Table(ctx context.Context, schema, table string) (introspect.Table, error)
	Relationships(ctx context.Context, schema string) ([]introspect.Relationship, error)
	Indexes(ctx context.Context, schema, table string) ([]introspect.Index, error)
	Triggers(ctx context.Context, schema, table string) ([]introspect.Trigger, error)
	Routines(ctx context.Context, schema string) ([]introspect.StoredRoutine, error)
	Query(ctx context.Context, query string) ([]map[string]any, error)
}

// Cache memoizes catalog lookups for the lifetime of one analysis run, so
// that roles asking for the same table share one round trip. Ad hoc queries
// are never cached. Close it when the run ends.
type Cache struct {
	src      Source
	entries  *ristretto.Cache[string, any]
	inflight singleflight.Group
}

// NewCache wraps src with a cache holding at most maxEntries lookups.
func NewCache(src Source, maxEntries int64) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	entries, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,

		// cost is an entry count, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating introspection cache: %w", err)
	}
	return &Cache{src: src, entries: entries}, nil
}

// cacheKey joins parts with NUL, which cannot occur in identifiers.
func cacheKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// cached looks key up, and on a miss runs load once across concurrent
// callers. The shared load keeps the first caller's deadline but not its
// cancellation; each caller stops waiting when its own ctx is done.
func cached[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.entries.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	ch := c.inflight.DoChan(key, func() (any, error) {
		lctx := context.WithoutCancel(ctx)
		if d, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			lctx, cancel = context.WithDeadline(lctx, d)
			defer cancel()
		}
		res, err := load(lctx)
		if err != nil {
			return nil, err
		}
		c.entries.Set(key, res, 1)
		c.entries.Wait()
		return res, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}

func (c *Cache) Engine() introspect.EngineKind { return c.src.Engine() }

func (c *Cache) Overview(ctx context.Context) (introspect.DatabaseOverview, error) {
	return cached(ctx, c, cacheKey("overview"), c.src.Overview)
}

func (c *Cache) Table(ctx context.Context, schema, table string) (introspect.Table, error) {
	return cached(ctx, c, cacheKey("table", schema, table), func(ctx context.Context) (introspect.Table, error) {
		return c.src.Table(ctx, schema, table)
	})
}

func (c *Cache) Relationships(ctx context.Context, schema string) ([]introspect.Relationship, error) {
	return cached(ctx, c, cacheKey("relationships", schema), func(ctx context.Context) ([]introspect.Relationship, error) {
		return c.src.Relationships(ctx, schema)
	})
}

func (c *Cache) Indexes(ctx context.Context, schema, table string) ([]introspect.Index, error) {
	return cached(ctx, c, cacheKey("indexes", schema, table), func(ctx context.Context) ([]introspect.Index, error) {
		return c.src.Indexes(ctx, schema, table)
	})
}

func (c *Cache) Triggers(ctx context.Context, schema, table string) ([]introspect.Trigger, error) {
	return cached(ctx, c, cacheKey("triggers", schema, table), func(ctx context.Context) ([]introspect.Trigger, error) {
		return c.src.Triggers(ctx, schema, table)
	})
}

func (c *Cache) Routines(ctx context.Context, schema string) ([]introspect.StoredRoutine, error) {
	return cached(ctx, c, cacheKey("routines", schema), func(ctx context.Context) ([]introspect.StoredRoutine, error) {
		return c.src.Routines(ctx, schema)
	})
}

func (c *Cache) Query(ctx context.Context, query string) ([]map[string]any, error) {
	return c.src.Query(ctx, query)
}

func (c *Cache) Close() {
	c.entries.Close()
}
