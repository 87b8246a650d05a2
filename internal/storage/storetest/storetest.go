// Package storetest holds behavior tests shared by every watchlist store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

// Store is the combined surface every backend implements.
type Store interface {
	watchlist.ItemStore
	watchlist.RoutineStore
}

// Factory returns an empty store using idGen for item IDs.
type Factory func(t *testing.T, idGen watchlist.IDGenerator) Store

// SequentialIDs hands out item-1, item-2 and so on.
type SequentialIDs struct {
	mu   sync.Mutex
	next int
}

// NewID returns the next sequential ID.
func (s *SequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("item-%d", s.next), nil
}

// Run exercises the item and routine contracts against fresh stores.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("insert and get", func(t *testing.T) {
		store := newStore(t, &SequentialIDs{})
		ctx := context.Background()

		id, err := store.Insert(ctx, "Widget", "https://shop.example/a")
		require.NoError(t, err)
		require.Equal(t, "item-1", id)

		item, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, watchlist.Item{
			ID:             id,
			Description:    "Widget",
			URL:            "https://shop.example/a",
			KeepMonitoring: true,
		}, item)
	})

	t.Run("duplicate url", func(t *testing.T) {
		store := newStore(t, &SequentialIDs{})
		ctx := context.Background()

		_, err := store.Insert(ctx, "Widget", "https://shop.example/a")
		require.NoError(t, err)
		_, err = store.Insert(ctx, "Widget again", "https://shop.example/a")
		require.ErrorIs(t, err, watchlist.ErrDuplicateURL)

		items, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
	})

	t.Run("list preserves insertion order", func(t *testing.T) {
		store := newStore(t, &SequentialIDs{})
		ctx := context.Background()

		for _, u := range []string{"https://a.example/1", "https://b.example/2", "https://c.example/3"} {
			_, err := store.Insert(ctx, u, u)
			require.NoError(t, err)
		}
		items, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, items, 3)
		require.Equal(t, "https://a.example/1", items[0].URL)
		require.Equal(t, "https://c.example/3", items[2].URL)
	})

	t.Run("missing item", func(t *testing.T) {
		store := newStore(t, &SequentialIDs{})
		ctx := context.Background()

		_, err := store.Get(ctx, "nope")
		require.ErrorIs(t, err, watchlist.ErrNotFound)
		err = store.UpdatePartial(ctx, "nope", watchlist.MonitoringUpdate(false))
		require.ErrorIs(t, err, watchlist.ErrNotFound)
	})

	t.Run("partial updates leave other fields alone", func(t *testing.T) {
		store := newStore(t, &SequentialIDs{})
		ctx := context.Background()

		id, err := store.Insert(ctx, "Widget", "https://shop.example/a")
		require.NoError(t, err)

		date := "2026-10-15"
		require.NoError(t, store.UpdatePartial(ctx, id, watchlist.PriceUpdate(watchlist.Item{
			DateUpdated:  &date,
			LowestPrice:  watchlist.Cents(1999),
			CurrentPrice: watchlist.Cents(1999),
		})))
		require.NoError(t, store.UpdatePartial(ctx, id, watchlist.MonitoringUpdate(false)))

		item, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.False(t, item.KeepMonitoring)
		require.Equal(t, &date, item.DateUpdated)
		require.Equal(t, watchlist.Cents(1999), item.LowestPrice)
		require.Equal(t, watchlist.Cents(1999), item.CurrentPrice)
		require.Nil(t, item.CurrentDiscount)
		require.Equal(t, "Widget", item.Description)
	})

	t.Run("invalid update", func(t *testing.T) {
		store := newStore(t, &SequentialIDs{})
		ctx := context.Background()

		id, err := store.Insert(ctx, "Widget", "https://shop.example/a")
		require.NoError(t, err)
		err = store.UpdatePartial(ctx, id, watchlist.Update{"description": "x"})
		require.ErrorIs(t, err, watchlist.ErrInvalidInput)
		err = store.UpdatePartial(ctx, id, watchlist.Update{})
		require.ErrorIs(t, err, watchlist.ErrInvalidInput)
	})

	t.Run("routines", func(t *testing.T) {
		store := newStore(t, &SequentialIDs{})
		ctx := context.Background()

		_, err := store.Routine(ctx, "shop.example")
		require.ErrorIs(t, err, watchlist.ErrNotFound)

		created, err := store.EnsureDefault(ctx, "shop.example")
		require.NoError(t, err)
		require.True(t, created)
		source, err := store.Routine(ctx, "shop.example")
		require.NoError(t, err)
		require.Equal(t, watchlist.DefaultRoutine, source)

		require.NoError(t, store.Upsert(ctx, "shop.example", "return { price: 1, discount: null };"))
		created, err = store.EnsureDefault(ctx, "shop.example")
		require.NoError(t, err)
		require.False(t, created)

		source, err = store.Routine(ctx, "shop.example")
		require.NoError(t, err)
		require.Equal(t, "return { price: 1, discount: null };", source)
	})
}
