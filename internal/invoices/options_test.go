package invoices

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anypay/eventhub/internal/coins"
	"github.com/anypay/eventhub/internal/prices"
	"github.com/anypay/eventhub/internal/storage"
)

const testBaseURL = "https://api.anypayx.com"

func int32p(v int32) *int32       { return &v }
func float64p(v float64) *float64 { return &v }

// newTestEngine wires an engine over a seeded memory store. The cache is
// returned so tests can re-refresh after moving rates.
func newTestEngine(t *testing.T, store *storage.MemoryStore) (*OptionEngine, *prices.Cache) {
	t.Helper()
	cache := prices.NewCache(store)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	catalog := coins.NewCatalog(store)
	book := coins.NewAddressBook(store, catalog)
	engine := NewOptionEngine(store, prices.NewConverter(cache), catalog, book,
		testBaseURL, 15*time.Minute, "USD")
	return engine, cache
}

func seedTwoChainAccount(store *storage.MemoryStore) {
	store.SeedAccount(storage.Account{ID: 7})
	store.SeedAddress(storage.Address{AccountID: 7, Chain: "BTC", Currency: "BTC", Value: "1abc"})
	store.SeedAddress(storage.Address{AccountID: 7, Chain: "ETH", Currency: "ETH", Value: "0xdef"})
	store.SeedCoin(storage.CoinInfo{Currency: "BTC", Chain: "BTC", Precision: int32p(8)})
	store.SeedCoin(storage.CoinInfo{Currency: "ETH", Chain: "ETH", Precision: int32p(18)})
	store.SeedPrice(storage.Price{Currency: "BTC", BaseCurrency: "USD", Value: decimal.NewFromInt(40000)})
	store.SeedPrice(storage.Price{Currency: "ETH", BaseCurrency: "USD", Value: decimal.NewFromInt(2500)})
}

func TestBuildTwoOptions(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTwoChainAccount(store)
	engine, _ := newTestEngine(t, store)

	inv := storage.Invoice{UID: "inv_test", AccountID: 7, Amount: 10000, Currency: "USD"}
	opts, err := engine.Build(context.Background(), inv, storage.Account{ID: 7})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("Build() = %d options, want 2", len(opts))
	}

	byCurrency := make(map[string]storage.PaymentOption)
	for _, opt := range opts {
		byCurrency[opt.Currency] = opt
	}

	btc := byCurrency["BTC"]
	if btc.Amount != 25_000_000 {
		t.Errorf("BTC amount = %d, want 25000000", btc.Amount)
	}
	if btc.Fee != 2500 {
		t.Errorf("BTC fee = %d, want 2500", btc.Fee)
	}
	if btc.URI != "bitcoin:?r="+testBaseURL+"/r/inv_test" {
		t.Errorf("BTC uri = %q", btc.URI)
	}

	eth := byCurrency["ETH"]
	if eth.Amount != 4_000_000_000_000_000_000 {
		t.Errorf("ETH amount = %d, want 4000000000000000000", eth.Amount)
	}
	if eth.Fee != 4_000_000_000_000_000 {
		t.Errorf("ETH fee = %d, want 4000000000000000", eth.Fee)
	}

	for _, opt := range opts {
		if len(opt.Outputs) != 1 {
			t.Fatalf("%s outputs = %d, want 1", opt.Currency, len(opt.Outputs))
		}
		if opt.Outputs[0].Amount != opt.Amount {
			t.Errorf("%s output sum = %d, want %d", opt.Currency, opt.Outputs[0].Amount, opt.Amount)
		}
		if opt.Expires.IsZero() || !opt.Expires.After(time.Now()) {
			t.Errorf("%s expires = %v, want in the future", opt.Currency, opt.Expires)
		}
		if opt.ID == 0 {
			t.Errorf("%s option not persisted", opt.Currency)
		}
	}

	// persisted set matches the returned set
	stored, err := store.ListPaymentOptions(context.Background(), "inv_test")
	if err != nil {
		t.Fatalf("ListPaymentOptions() error = %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("persisted options = %d, want 2", len(stored))
	}
}

func TestBuildSkipsMissingRate(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTwoChainAccount(store)
	// a coin plus address with no price row in either direction
	store.SeedAddress(storage.Address{AccountID: 7, Chain: "DOGE", Currency: "DOGE", Value: "Dabc"})
	store.SeedCoin(storage.CoinInfo{Currency: "DOGE", Chain: "DOGE", Precision: int32p(8)})
	engine, _ := newTestEngine(t, store)

	inv := storage.Invoice{UID: "inv_test", AccountID: 7, Amount: 10000, Currency: "USD"}
	opts, err := engine.Build(context.Background(), inv, storage.Account{ID: 7})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("Build() = %d options, want 2 (DOGE skipped)", len(opts))
	}
	for _, opt := range opts {
		if opt.Currency == "DOGE" {
			t.Error("DOGE option built without a rate")
		}
	}
}

func TestBuildDeduplicatesChainCurrency(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTwoChainAccount(store)
	store.SeedAddress(storage.Address{AccountID: 7, Chain: "BTC", Currency: "BTC", Value: "1second"})
	engine, _ := newTestEngine(t, store)

	inv := storage.Invoice{UID: "inv_test", AccountID: 7, Amount: 10000, Currency: "USD"}
	opts, err := engine.Build(context.Background(), inv, storage.Account{ID: 7})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("Build() = %d options, want 2", len(opts))
	}
	for _, opt := range opts {
		if opt.Currency == "BTC" && opt.Address != "1abc" {
			t.Errorf("BTC address = %q, want first registered address", opt.Address)
		}
	}
}

func TestBuildNoAddresses(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SeedAccount(storage.Account{ID: 9})
	engine, _ := newTestEngine(t, store)

	inv := storage.Invoice{UID: "inv_empty", AccountID: 9, Amount: 100, Currency: "USD"}
	opts, err := engine.Build(context.Background(), inv, storage.Account{ID: 9})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(opts) != 0 {
		t.Errorf("Build() = %d options, want 0", len(opts))
	}
}

func TestFeeRates(t *testing.T) {
	tests := []struct {
		name    string
		chain   string
		coin    storage.CoinInfo
		amount  int64
		wantFee int64
	}{
		{
			name:  "utxo default rate",
			chain: "BTC",
			coin:  storage.CoinInfo{Currency: "BTC", Chain: "BTC", Precision: int32p(8)},
			// 10000 USD at 40000 -> 25,000,000 sats, 0.01%
			amount:  10000,
			wantFee: 2500,
		},
		{
			name:    "account chain default rate",
			chain:   "ETH",
			coin:    storage.CoinInfo{Currency: "ETH", Chain: "ETH", Precision: int32p(18)},
			amount:  10000,
			wantFee: 4_000_000_000_000_000,
		},
		{
			name:    "coin override wins",
			chain:   "BTC",
			coin:    storage.CoinInfo{Currency: "BTC", Chain: "BTC", Precision: int32p(8), RequiredFeeRate: float64p(0.002)},
			amount:  10000,
			wantFee: 50000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			store.SeedAccount(storage.Account{ID: 7})
			store.SeedAddress(storage.Address{AccountID: 7, Chain: tt.chain, Currency: tt.coin.Currency, Value: "addr"})
			store.SeedCoin(tt.coin)
			store.SeedPrice(storage.Price{Currency: "BTC", BaseCurrency: "USD", Value: decimal.NewFromInt(40000)})
			store.SeedPrice(storage.Price{Currency: "ETH", BaseCurrency: "USD", Value: decimal.NewFromInt(2500)})
			engine, _ := newTestEngine(t, store)

			inv := storage.Invoice{UID: "inv_fee", AccountID: 7, Amount: tt.amount, Currency: "USD"}
			opts, err := engine.Build(context.Background(), inv, storage.Account{ID: 7})
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if len(opts) != 1 {
				t.Fatalf("Build() = %d options, want 1", len(opts))
			}
			if opts[0].Fee != tt.wantFee {
				t.Errorf("fee = %d, want %d", opts[0].Fee, tt.wantFee)
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"future", now.Add(time.Minute), false},
		{"past", now.Add(-time.Minute), true},
		{"zero", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(storage.PaymentOption{Expires: tt.expires}, now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateExpiredOptions(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTwoChainAccount(store)
	engine, cache := newTestEngine(t, store)

	inv := storage.Invoice{UID: "inv_test", AccountID: 7, Amount: 10000, Currency: "USD"}
	account := storage.Account{ID: 7}
	opts, err := engine.Build(context.Background(), inv, account)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// rate moves, BTC option lapses
	store.SeedPrice(storage.Price{Currency: "BTC", BaseCurrency: "USD", Value: decimal.NewFromInt(50000)})
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var btcCreated time.Time
	for i := range opts {
		if opts[i].Currency == "BTC" {
			btcCreated = opts[i].CreatedAt
			opts[i].Expires = time.Now().Add(-time.Minute)
		}
	}

	updated, err := engine.UpdateExpiredOptions(context.Background(), inv, opts, account)
	if err != nil {
		t.Fatalf("UpdateExpiredOptions() error = %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("UpdateExpiredOptions() = %d options, want 2", len(updated))
	}

	for _, opt := range updated {
		switch opt.Currency {
		case "BTC":
			if opt.Amount != 20_000_000 {
				t.Errorf("refreshed BTC amount = %d, want 20000000", opt.Amount)
			}
			if !opt.CreatedAt.Equal(btcCreated) {
				t.Errorf("refreshed BTC created_at = %v, want %v", opt.CreatedAt, btcCreated)
			}
			if !opt.Expires.After(time.Now()) {
				t.Errorf("refreshed BTC expires = %v, want in the future", opt.Expires)
			}
		case "ETH":
			if opt.Amount != 4_000_000_000_000_000_000 {
				t.Errorf("unexpired ETH amount = %d, changed without cause", opt.Amount)
			}
		}
	}
}
