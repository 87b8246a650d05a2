package memory

import (
	"testing"

	"github.com/JakeFAU/pricewatch/internal/storage/storetest"
	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

func TestStoreContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T, idGen watchlist.IDGenerator) storetest.Store {
		t.Helper()
		return NewStore(idGen)
	})
}
