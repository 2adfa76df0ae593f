package session

import (
	"context"
	"sync"
	"testing"

	"github.com/kokoroflow/kokoroflow/pkg/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) kvstore.Store {
	t.Helper()
	kv, err := kvstore.NewJSONFileStore(t.TempDir())
	require.NoError(t, err)
	return kv
}

func TestStoreGetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestKV(t), 50)

	s := store.GetOrCreate(ctx, "stream-1")
	require.NotNil(t, s)
	assert.Equal(t, "stream-1", s.StreamID)
	assert.NotNil(t, s.MentalLog)

	// second call returns the same instance
	again := store.GetOrCreate(ctx, "stream-1")
	assert.Same(t, s, again)
}

func TestStorePersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)

	store := NewStore(kv, 50)
	s := store.GetOrCreate(ctx, "stream-1")
	s.UserID = "user-1"
	s.AddUserMessage("你好", "小明", "user-1", 0)
	store.Save(ctx, s)

	// a fresh store over the same backend sees the persisted state
	reloaded := NewStore(kv, 50).GetOrCreate(ctx, "stream-1")
	assert.Equal(t, "user-1", reloaded.UserID)
	assert.Equal(t, 1, reloaded.MentalLog.Len())
}

func TestStoreLoadTruncatesLog(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)

	writer := NewStore(kv, 50)
	s := writer.GetOrCreate(ctx, "stream-1")
	for i := 0; i < 10; i++ {
		s.AddUserMessage("msg", "小明", "user-1", float64(i+1))
	}
	writer.Save(ctx, s)

	reloaded := NewStore(kv, 3).GetOrCreate(ctx, "stream-1")
	assert.Equal(t, 3, reloaded.MentalLog.Len())
}

func TestStoreGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestKV(t), 50)

	_, ok := store.Get(ctx, "missing")
	assert.False(t, ok)

	created := store.GetOrCreate(ctx, "stream-1")
	got, ok := store.Get(ctx, "stream-1")
	require.True(t, ok)
	assert.Same(t, created, got)
}

func TestStoreCorruptDocumentStartsFresh(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	require.NoError(t, kv.Save(ctx, "stream-1", []byte("not json")))

	store := NewStore(kv, 50)
	s := store.GetOrCreate(ctx, "stream-1")
	require.NotNil(t, s)
	assert.Zero(t, s.MentalLog.Len())
}

func TestStoreAllCached(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestKV(t), 50)

	store.GetOrCreate(ctx, "stream-1")
	store.GetOrCreate(ctx, "stream-2")

	cached := store.AllCached()
	assert.Len(t, cached, 2)
	assert.Contains(t, cached, "stream-1")
	assert.Contains(t, cached, "stream-2")
}

func TestStoreListIDs(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestKV(t), 50)

	s := store.GetOrCreate(ctx, "stream-1")
	store.Save(ctx, s)

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stream-1"}, ids)
}

func TestWithLockSerializesMutations(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newTestKV(t), 50)
	s := store.GetOrCreate(ctx, "stream-1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.WithLock("stream-1", func() {
				s.TotalInteractions++
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.TotalInteractions)
}
