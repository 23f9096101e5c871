package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/roach88/flowgate/internal/ir"
)

// CacheConfig sizes a CachedStore.
type CacheConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

// DefaultCacheConfig holds roughly 10k records for up to a minute.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
		TTL:         time.Minute,
	}
}

// CachedStore serves Read from a ristretto cache in front of another
// DataStore. Writes through this store refresh the cached record.
// CompareAndUpdate is decided by the backing store, so a write based on a
// stale cached revision fails with ErrConflict and evicts the entry.
// Writes made by other processes become visible once the TTL expires.
type CachedStore struct {
	DataStore
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedStore wraps next with a read cache.
func NewCachedStore(next DataStore, cfg CacheConfig) (*CachedStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	return &CachedStore{DataStore: next, cache: cache, ttl: cfg.TTL}, nil
}

// Close releases the cache. The backing store is not closed.
func (c *CachedStore) Close() {
	c.cache.Close()
}

func (c *CachedStore) put(rec ir.Record) {
	c.cache.SetWithTTL(rec.ResourceRef.String(), cloneRecord(rec), 1, c.ttl)
	c.cache.Wait()
}

func cloneRecord(rec ir.Record) ir.Record {
	rec.Data = rec.Data.Clone()
	return rec
}

func (c *CachedStore) Read(ctx context.Context, ref ir.ResourceRef) (ir.Record, error) {
	if v, ok := c.cache.Get(ref.String()); ok {
		return cloneRecord(v.(ir.Record)), nil
	}
	rec, err := c.DataStore.Read(ctx, ref)
	if err != nil {
		return ir.Record{}, err
	}
	c.cache.SetWithTTL(ref.String(), cloneRecord(rec), 1, c.ttl)
	return rec, nil
}

func (c *CachedStore) Create(ctx context.Context, typ string, data ir.Object) (ir.Record, error) {
	rec, err := c.DataStore.Create(ctx, typ, data)
	if err != nil {
		return ir.Record{}, err
	}
	c.put(rec)
	return rec, nil
}

func (c *CachedStore) Update(ctx context.Context, ref ir.ResourceRef, patch ir.Object) (ir.Record, error) {
	rec, err := c.DataStore.Update(ctx, ref, patch)
	if err != nil {
		c.cache.Del(ref.String())
		return ir.Record{}, err
	}
	c.put(rec)
	return rec, nil
}

func (c *CachedStore) CompareAndUpdate(ctx context.Context, ref ir.ResourceRef, expectedRevision int64, patch ir.Object) (ir.Record, error) {
	rec, err := c.DataStore.CompareAndUpdate(ctx, ref, expectedRevision, patch)
	if err != nil {
		c.cache.Del(ref.String())
		return ir.Record{}, err
	}
	c.put(rec)
	return rec, nil
}

func (c *CachedStore) Delete(ctx context.Context, ref ir.ResourceRef) error {
	c.cache.Del(ref.String())
	return c.DataStore.Delete(ctx, ref)
}
