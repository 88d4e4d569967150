package prices

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/anypay/eventhub/internal/storage"
)

// Cache is the process-wide FX rate cache. Reads are concurrent; Refresh
// replaces entries but never deletes, so a failed refresh leaves readers on
// the last good rates instead of tearing the table out from under them.
type Cache struct {
	mu      sync.RWMutex
	entries map[pairKey]storage.Price
	store   storage.Store
}

type pairKey struct {
	base     string // base_currency of the row
	currency string // currency being priced
}

// NewCache constructs an empty cache backed by the given store.
func NewCache(store storage.Store) *Cache {
	return &Cache{
		entries: make(map[pairKey]storage.Price),
		store:   store,
	}
}

// Refresh loads all prices from the store and merges them into the cache.
func (c *Cache) Refresh(ctx context.Context) error {
	rows, err := c.store.ListPrices(ctx)
	if err != nil {
		log.Error().Err(err).Msg("prices.refresh_failed")
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range rows {
		c.entries[pairKey{base: p.BaseCurrency, currency: p.Currency}] = p
	}
	log.Debug().Int("count", len(rows)).Msg("prices.refreshed")
	return nil
}

// Get returns the price row where base_currency == base and currency ==
// currency, if cached.
func (c *Cache) Get(base, currency string) (storage.Price, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.entries[pairKey{base: base, currency: currency}]
	return p, ok
}

// List returns a snapshot of every cached price.
func (c *Cache) List() []storage.Price {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]storage.Price, 0, len(c.entries))
	for _, p := range c.entries {
		out = append(out, p)
	}
	return out
}

// Len reports the number of cached pairs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
