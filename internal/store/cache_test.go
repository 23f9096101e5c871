package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowgate/internal/ir"
)

func TestCachedStore_ServesCachedRead(t *testing.T) {
	ctx := context.Background()
	backing := NewMemory(WithIDGenerator(&SequentialGenerator{}))
	cached, err := NewCachedStore(backing, DefaultCacheConfig())
	require.NoError(t, err)
	defer cached.Close()

	rec, err := cached.Create(ctx, "Switch", ir.Object{"state": ir.String("off")})
	require.NoError(t, err)

	// A write that bypasses the cache is not seen until the entry is refreshed.
	_, err = backing.Update(ctx, rec.ResourceRef, ir.Object{"state": ir.String("on")})
	require.NoError(t, err)

	got, err := cached.Read(ctx, rec.ResourceRef)
	require.NoError(t, err)
	assert.Equal(t, ir.String("off"), got.Data["state"])
	assert.Equal(t, int64(1), got.Revision)

	// CompareAndUpdate checks the backing store, not the cached copy.
	_, err = cached.CompareAndUpdate(ctx, rec.ResourceRef, got.Revision, ir.Object{"state": ir.String("turbo")})
	assert.ErrorIs(t, err, ErrConflict)

	got, err = cached.Read(ctx, rec.ResourceRef)
	require.NoError(t, err)
	assert.Equal(t, ir.String("on"), got.Data["state"], "failed write evicts the entry")
	assert.Equal(t, int64(2), got.Revision)
}

func TestCachedStore_ReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	cached, err := NewCachedStore(NewMemory(), DefaultCacheConfig())
	require.NoError(t, err)
	defer cached.Close()

	rec, err := cached.Create(ctx, "Doc", ir.Object{"title": ir.String("a")})
	require.NoError(t, err)

	got, err := cached.Read(ctx, rec.ResourceRef)
	require.NoError(t, err)
	got.Data["title"] = ir.String("mutated")

	again, err := cached.Read(ctx, rec.ResourceRef)
	require.NoError(t, err)
	assert.Equal(t, ir.String("a"), again.Data["title"])
}
