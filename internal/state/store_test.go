package state

import (
	"context"
	"errors"
	"testing"

	"github.com/findosh/eshotry/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Count   int    `json:"count"`
	Scratch string `json:"scratch,omitempty"`
}

func TestStore_UpdateNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	store := New(counter{}, nil, nil)

	var seen []int
	unsubscribe := store.Subscribe(func(c counter) { seen = append(seen, c.Count) })

	store.Update(ctx, func(c counter) counter { c.Count++; return c })
	store.Update(ctx, func(c counter) counter { c.Count++; return c })
	unsubscribe()
	store.Update(ctx, func(c counter) counter { c.Count++; return c })

	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, 3, store.Get().Count)
}

func TestStore_PersistsPartializedValue(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	persist := NewJSONPersistence(kv, "counter", func(c counter) counter {
		return counter{Count: c.Count}
	})

	store := New(counter{}, persist, nil)
	store.Update(ctx, func(c counter) counter { return counter{Count: 7, Scratch: "transient"} })

	raw, err := kv.Get(ctx, "counter")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":7}`, string(raw))

	restored := New(counter{Scratch: "fresh"}, persist, nil)
	require.NoError(t, restored.Hydrate(ctx, func(current, loaded counter) counter {
		current.Count = loaded.Count
		return current
	}))
	assert.Equal(t, counter{Count: 7, Scratch: "fresh"}, restored.Get())
}

func TestStore_HydrateWithoutStoredValue(t *testing.T) {
	ctx := context.Background()
	persist := NewJSONPersistence[counter](storage.NewMemoryStore(), "counter", nil)
	store := New(counter{Count: 1}, persist, nil)

	called := false
	require.NoError(t, store.Hydrate(ctx, func(current, loaded counter) counter {
		called = true
		return loaded
	}))

	assert.False(t, called)
	assert.Equal(t, 1, store.Get().Count)
}

func TestStore_HydrateCorruptValue(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Put(ctx, "counter", []byte("{not json")))

	store := New(counter{}, NewJSONPersistence[counter](kv, "counter", nil), nil)
	err := store.Hydrate(ctx, func(_, loaded counter) counter { return loaded })

	assert.Error(t, err)
}

type failingKV struct{ storage.KeyValue }

func (failingKV) Put(context.Context, string, []byte) error { return errors.New("disk full") }

func TestStore_SaveFailureKeepsInMemoryChange(t *testing.T) {
	ctx := context.Background()
	persist := NewJSONPersistence[counter](failingKV{storage.NewMemoryStore()}, "counter", nil)
	store := New(counter{}, persist, nil)

	store.Update(ctx, func(c counter) counter { c.Count = 3; return c })

	assert.Equal(t, 3, store.Get().Count)
}
