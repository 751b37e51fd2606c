package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"flowbuilder/application/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentStore_GetMissing(t *testing.T) {
	store := NewDocumentStore()

	doc, found, err := store.GetDocument(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, doc)
}

func TestDocumentStore_UpsertNotifiesByFilter(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore()

	var all, inserts, updates [][]byte
	_, err := store.Subscribe(ctx, "bot-1", ports.EventAll, func(d []byte) { all = append(all, d) })
	require.NoError(t, err)
	_, err = store.Subscribe(ctx, "bot-1", ports.EventInsert, func(d []byte) { inserts = append(inserts, d) })
	require.NoError(t, err)
	_, err = store.Subscribe(ctx, "bot-1", ports.EventUpdate, func(d []byte) { updates = append(updates, d) })
	require.NoError(t, err)

	require.NoError(t, store.UpsertDocument(ctx, "bot-1", []byte(`{"v":1}`)))
	require.NoError(t, store.UpsertDocument(ctx, "bot-1", []byte(`{"v":2}`)))
	require.NoError(t, store.UpsertDocument(ctx, "bot-2", []byte(`{"v":3}`)))

	assert.Len(t, all, 2)
	assert.Equal(t, [][]byte{[]byte(`{"v":1}`)}, inserts)
	assert.Equal(t, [][]byte{[]byte(`{"v":2}`)}, updates)
	assert.Equal(t, 3, store.Upserts())

	doc, found, err := store.GetDocument(ctx, "bot-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"v":2}`, string(doc))
}

func TestDocumentStore_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore()

	calls := 0
	sub, err := store.Subscribe(ctx, "bot-1", ports.EventAll, func([]byte) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, store.Subscribers("bot-1"))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, store.Subscribers("bot-1"))

	require.NoError(t, store.UpsertDocument(ctx, "bot-1", []byte(`{}`)))
	assert.Equal(t, 0, calls)
}

func TestDocumentStore_CancelledContext(t *testing.T) {
	store := NewDocumentStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.UpsertDocument(ctx, "bot-1", []byte(`{}`)), context.Canceled)
	assert.Equal(t, 0, store.Upserts())
}

func TestDocumentStore_ConcurrentWritersNotifyInWriteOrder(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore()

	var mu sync.Mutex
	var last []byte
	_, err := store.Subscribe(ctx, "bot-1", ports.EventAll, func(d []byte) {
		mu.Lock()
		last = d
		mu.Unlock()
	})
	require.NoError(t, err)

	for round := 0; round < 200; round++ {
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				doc := []byte(fmt.Sprintf(`{"round":%d,"writer":%d}`, round, w))
				assert.NoError(t, store.UpsertDocument(ctx, "bot-1", doc))
			}(w)
		}
		wg.Wait()

		stored, found, err := store.GetDocument(ctx, "bot-1")
		require.NoError(t, err)
		require.True(t, found)
		mu.Lock()
		seen := last
		mu.Unlock()
		require.Equal(t, string(stored), string(seen), "round %d", round)
	}
}
