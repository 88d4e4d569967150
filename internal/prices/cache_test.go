package prices

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/anypay/eventhub/internal/storage"
)

func TestCacheRefreshAndGet(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SeedPrice(price("BTC", "USD", "40000"))
	store.SeedPrice(price("ETH", "USD", "2500"))

	cache := NewCache(store)
	if _, ok := cache.Get("USD", "BTC"); ok {
		t.Fatal("Get() before refresh should miss")
	}

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}

	p, ok := cache.Get("USD", "BTC")
	if !ok {
		t.Fatal("Get(USD, BTC) missing after refresh")
	}
	if !p.Value.Equal(decimal.NewFromInt(40000)) {
		t.Errorf("value = %s, want 40000", p.Value)
	}

	if _, ok := cache.Get("BTC", "USD"); ok {
		t.Error("Get(BTC, USD) should miss, pairs are directional")
	}
}

func TestCacheRefreshReplacesRate(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SeedPrice(price("BTC", "USD", "40000"))

	cache := NewCache(store)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	store.SeedPrice(price("BTC", "USD", "42000"))
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	p, _ := cache.Get("USD", "BTC")
	if !p.Value.Equal(decimal.NewFromInt(42000)) {
		t.Errorf("value after refresh = %s, want 42000", p.Value)
	}
}

// failingPriceStore wraps the memory store, failing ListPrices on demand.
type failingPriceStore struct {
	*storage.MemoryStore
	fail bool
}

func (f *failingPriceStore) ListPrices(ctx context.Context) ([]storage.Price, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	return f.MemoryStore.ListPrices(ctx)
}

func TestCacheStaleOnFailedRefresh(t *testing.T) {
	store := &failingPriceStore{MemoryStore: storage.NewMemoryStore()}
	store.SeedPrice(price("BTC", "USD", "40000"))

	cache := NewCache(store)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	store.fail = true
	if err := cache.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() expected error from failing store")
	}

	// readers keep the last good rates
	if p, ok := cache.Get("USD", "BTC"); !ok || !p.Value.Equal(decimal.NewFromInt(40000)) {
		t.Errorf("Get() after failed refresh = %v %v, want cached 40000", p.Value, ok)
	}
}
