package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowgate/internal/ir"
)

// implementations returns a fresh instance of every DataStore under test.
// Redis runs only when FLOWGATE_TEST_REDIS_ADDR is set.
func implementations(t *testing.T) map[string]DataStore {
	t.Helper()
	impls := map[string]DataStore{
		"memory": NewMemory(WithIDGenerator(&SequentialGenerator{})),
		"sqlite": createTestStore(t, WithIDGenerator(&SequentialGenerator{})),
	}

	cached, err := NewCachedStore(NewMemory(WithIDGenerator(&SequentialGenerator{})), DefaultCacheConfig())
	require.NoError(t, err)
	t.Cleanup(cached.Close)
	impls["cached"] = cached

	if addr := os.Getenv("FLOWGATE_TEST_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		prefix := "flowgate-test-" + time.Now().Format("150405.000000000")
		t.Cleanup(func() {
			ctx := context.Background()
			keys, _ := client.Keys(ctx, prefix+":*").Result()
			if len(keys) > 0 {
				client.Del(ctx, keys...)
			}
			client.Close()
		})
		impls["redis"] = NewRedisStore(client, prefix, WithIDGenerator(&SequentialGenerator{}))
	}
	return impls
}

func forEachStore(t *testing.T, fn func(t *testing.T, s DataStore)) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, s)
		})
	}
}

func TestDataStore_CreateRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		rec, err := s.Create(ctx, "Switch", ir.Object{"state": ir.String("off"), "maxVoltage": ir.Number(220)})
		require.NoError(t, err)
		assert.Equal(t, ir.ResourceRef{UID: "1", Type: "Switch"}, rec.ResourceRef)
		assert.Equal(t, int64(1), rec.Revision)

		got, err := s.Read(ctx, rec.ResourceRef)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Revision)
		assert.Equal(t, ir.String("off"), got.Data["state"])
		assert.Equal(t, ir.Number(220), got.Data["maxVoltage"])

		second, err := s.Create(ctx, "Switch", nil)
		require.NoError(t, err)
		assert.Equal(t, "2", second.UID)
	})
}

func TestDataStore_ReadMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s DataStore) {
		_, err := s.Read(context.Background(), ir.ResourceRef{UID: "nope", Type: "Switch"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDataStore_UpdateMerges(t *testing.T) {
	forEachStore(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		rec, err := s.Create(ctx, "Poll", ir.Object{"state": ir.String("open"), "question": ir.String("Lunch?")})
		require.NoError(t, err)

		updated, err := s.Update(ctx, rec.ResourceRef, ir.Object{"votes": ir.Number(3)})
		require.NoError(t, err)
		assert.Equal(t, ir.Object{"state": ir.String("open"), "question": ir.String("Lunch?"), "votes": ir.Number(3)}, updated.Data)
		assert.Equal(t, int64(2), updated.Revision)

		got, err := s.Read(ctx, rec.ResourceRef)
		require.NoError(t, err)
		assert.Equal(t, updated.Data, got.Data)
		assert.Equal(t, updated.Revision, got.Revision)

		docs, err := s.List(ctx, "Poll")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, int64(2), docs[0].Revision)

		_, err = s.Update(ctx, ir.ResourceRef{UID: "missing", Type: "Poll"}, ir.Object{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDataStore_CompareAndUpdate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		rec, err := s.Create(ctx, "Switch", ir.Object{"state": ir.String("off")})
		require.NoError(t, err)

		next, err := s.CompareAndUpdate(ctx, rec.ResourceRef, rec.Revision, ir.Object{"state": ir.String("on")})
		require.NoError(t, err)
		assert.Equal(t, ir.String("on"), next.Data["state"])
		assert.Equal(t, rec.Revision+1, next.Revision)

		_, err = s.CompareAndUpdate(ctx, rec.ResourceRef, rec.Revision, ir.Object{"state": ir.String("turbo")})
		assert.ErrorIs(t, err, ErrConflict)

		got, err := s.Read(ctx, rec.ResourceRef)
		require.NoError(t, err)
		assert.Equal(t, ir.String("on"), got.Data["state"], "rejected update must not be applied")
	})
}

func TestDataStore_CompareAndUpdateSeesStatePreservingWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		rec, err := s.Create(ctx, "Poll", ir.Object{"state": ir.String("open"), "votes": ir.Number(0)})
		require.NoError(t, err)

		// Another writer bumps votes without touching the state.
		_, err = s.Update(ctx, rec.ResourceRef, ir.Object{"votes": ir.Number(10)})
		require.NoError(t, err)

		_, err = s.CompareAndUpdate(ctx, rec.ResourceRef, rec.Revision, ir.Object{"votes": ir.Number(10)})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestDataStore_CompareAndUpdateSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		rec, err := s.Create(ctx, "Switch", ir.Object{"state": ir.String("off")})
		require.NoError(t, err)

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CompareAndUpdate(ctx, rec.ResourceRef, rec.Revision, ir.Object{"state": ir.String("on")})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, workers-1, conflicts)
	})
}

func TestDataStore_DeleteAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		a, err := s.Create(ctx, "Doc", ir.Object{"title": ir.String("a")})
		require.NoError(t, err)
		_, err = s.Create(ctx, "Other", ir.Object{})
		require.NoError(t, err)
		c, err := s.Create(ctx, "Doc", ir.Object{"title": ir.String("c")})
		require.NoError(t, err)

		docs, err := s.List(ctx, "Doc")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, a.ResourceRef, docs[0].ResourceRef)
		assert.Equal(t, c.ResourceRef, docs[1].ResourceRef)

		require.NoError(t, s.Delete(ctx, a.ResourceRef))
		assert.ErrorIs(t, s.Delete(ctx, a.ResourceRef), ErrNotFound)
		_, err = s.Read(ctx, a.ResourceRef)
		assert.ErrorIs(t, err, ErrNotFound)

		docs, err = s.List(ctx, "Doc")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, c.ResourceRef, docs[0].ResourceRef)

		empty, err := s.List(ctx, "Nothing")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestDataStore_History(t *testing.T) {
	forEachStore(t, func(t *testing.T, s DataStore) {
		ctx := context.Background()
		ref := ir.ResourceRef{UID: "7", Type: "Poll"}
		ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		first := ir.HistoryEvent{
			ID:        "ev-1",
			Timestamp: ts,
			Resource:  ref,
			Parent:    ref,
			Action:    "vote",
			User:      "u1",
			Changes: []ir.PropertyChange{
				{Property: "votes", Value: ir.Number(3), Previous: ir.Number(0)},
				{Property: "lastVoter", Value: ir.String("u1")},
			},
			Revision: 4,
		}
		second := first
		second.ID = "ev-2"
		second.Timestamp = ts.Add(time.Second)
		second.Changes = []ir.PropertyChange{{Property: "votes", Value: ir.Number(5), Previous: ir.Number(3)}}

		require.NoError(t, s.WriteHistory(ctx, first))
		require.NoError(t, s.WriteHistory(ctx, second))
		require.NoError(t, s.WriteHistory(ctx, first), "duplicate IDs are ignored")

		events, err := s.GetHistory(ctx, ref)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "ev-1", events[0].ID)
		assert.Equal(t, "ev-2", events[1].ID)
		assert.True(t, ts.Equal(events[0].Timestamp))
		assert.Equal(t, "vote", events[0].Action)
		assert.Equal(t, ref, events[0].Parent)
		assert.Equal(t, first.Changes, events[0].Changes)
		assert.Equal(t, int64(4), events[0].Revision)

		none, err := s.GetHistory(ctx, ir.ResourceRef{UID: "8", Type: "Poll"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
