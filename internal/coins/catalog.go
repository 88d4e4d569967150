package coins

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/anypay/eventhub/internal/storage"
)

// Catalog is the process-wide coin table, loaded lazily on first access and
// kept until Refresh. Keys are "CURRENCY:CHAIN".
type Catalog struct {
	mu     sync.RWMutex
	coins  map[string]storage.CoinInfo
	loaded bool
	store  storage.Store
}

// NewCatalog constructs an unloaded catalog backed by the given store.
func NewCatalog(store storage.Store) *Catalog {
	return &Catalog{store: store}
}

// Get returns the CoinInfo for (currency, chain), loading the table on first
// call.
func (c *Catalog) Get(ctx context.Context, currency, chain string) (storage.CoinInfo, bool, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return storage.CoinInfo{}, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	coin, ok := c.coins[currency+":"+chain]
	return coin, ok, nil
}

// Refresh drops the cached table and reloads it.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.loaded = false
	c.coins = nil
	c.mu.Unlock()

	return c.ensureLoaded(ctx)
}

// ensureLoaded populates the table once, with a re-check under the write lock
// so concurrent first readers trigger a single load.
func (c *Catalog) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	rows, err := c.store.ListCoins(ctx)
	if err != nil {
		return err
	}

	c.coins = make(map[string]storage.CoinInfo, len(rows))
	for _, coin := range rows {
		c.coins[coin.Key()] = coin
	}
	c.loaded = true
	log.Debug().Int("count", len(rows)).Msg("coins.loaded")
	return nil
}

// Precision returns the coin's precision, falling back to a per-chain default
// when the row carries none.
func (c *Catalog) Precision(ctx context.Context, currency, chain string) (int32, error) {
	coin, ok, err := c.Get(ctx, currency, chain)
	if err != nil {
		return 0, err
	}
	if ok && coin.Precision != nil {
		return *coin.Precision, nil
	}
	return DefaultPrecision(currency, chain), nil
}

// DefaultPrecision maps a (currency, chain) pair to the smallest-unit scale
// used when the coin row does not specify one: 8 for the UTXO family, 18 for
// EVM chains, 6 for stablecoins and XRP, 9 for SOL.
func DefaultPrecision(currency, chain string) int32 {
	switch currency {
	case "USDC", "USDT", "RLUSD", "XRP":
		return 6
	case "SOL":
		return 9
	}
	switch chain {
	case "BTC", "BSV", "DOGE", "FB", "BCH", "LTC", "DASH", "ZEC":
		return 8
	case "ETH", "MATIC", "AVAX", "BNB", "BASE", "ARB", "OP":
		return 18
	case "XRP":
		return 6
	case "SOL":
		return 9
	default:
		return 8
	}
}
