package invoices

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/anypay/eventhub/internal/coins"
	"github.com/anypay/eventhub/internal/errors"
	"github.com/anypay/eventhub/internal/prices"
	"github.com/anypay/eventhub/internal/storage"
)

// Per-family fee-rate defaults, applied when the coin row carries no
// required_fee_rate: 0.01% on UTXO chains, 0.1% everywhere else.
var (
	utxoFeeRate    = decimal.NewFromFloat(0.0001)
	defaultFeeRate = decimal.NewFromFloat(0.001)
)

func isUTXOChain(chain string) bool {
	switch chain {
	case "BTC", "BSV", "FB", "DOGE":
		return true
	}
	return false
}

// OptionEngine derives concrete per-chain payment options from an invoice:
// amount conversion, smallest-unit scaling, fee derivation, URI formatting,
// and expiry policy.
type OptionEngine struct {
	store        storage.Store
	converter    *prices.Converter
	catalog      *coins.Catalog
	addresses    *coins.AddressBook
	baseURL      string
	optionTTL    time.Duration
	defaultDenom string
}

// NewOptionEngine constructs the engine.
func NewOptionEngine(store storage.Store, converter *prices.Converter, catalog *coins.Catalog,
	addresses *coins.AddressBook, baseURL string, optionTTL time.Duration, defaultDenom string) *OptionEngine {
	return &OptionEngine{
		store:        store,
		converter:    converter,
		catalog:      catalog,
		addresses:    addresses,
		baseURL:      baseURL,
		optionTTL:    optionTTL,
		defaultDenom: defaultDenom,
	}
}

// Build computes one option per available address in parallel, persists the
// batch, and returns the persisted options. Addresses without a coin row or
// without a resolvable rate are skipped; the build still succeeds with the
// options that remain.
func (e *OptionEngine) Build(ctx context.Context, invoice storage.Invoice, account storage.Account) ([]storage.PaymentOption, error) {
	addrs, err := e.addresses.ListAvailable(ctx, account)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, nil
	}

	results := make([]*storage.PaymentOption, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			opt, err := e.buildOption(gctx, invoice, account, addr)
			if err != nil {
				return err
			}
			results[i] = opt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// First address wins when two share (chain, currency); the upsert key
	// would otherwise let the later one overwrite it.
	seen := make(map[string]bool, len(results))
	var batch []storage.PaymentOption
	for _, opt := range results {
		if opt == nil {
			continue
		}
		key := opt.Currency + ":" + opt.Chain
		if seen[key] {
			continue
		}
		seen[key] = true
		batch = append(batch, *opt)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	return e.store.UpsertPaymentOptions(ctx, batch)
}

// buildOption computes a single option, or nil when the address cannot be
// offered.
func (e *OptionEngine) buildOption(ctx context.Context, invoice storage.Invoice, account storage.Account, addr storage.Address) (*storage.PaymentOption, error) {
	coin, ok, err := e.catalog.Get(ctx, addr.Currency, addr.Chain)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	amount, fee, err := e.computeAmount(ctx, invoice, account, addr, coin)
	if err != nil {
		if errors.Is(err, errors.KindNoRate) {
			log.Debug().
				Str("invoice", invoice.UID).
				Str("currency", addr.Currency).
				Str("chain", addr.Chain).
				Msg("options.no_rate_skip")
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	return &storage.PaymentOption{
		InvoiceUID: invoice.UID,
		Chain:      addr.Chain,
		Currency:   addr.Currency,
		Address:    addr.Value,
		Amount:     amount,
		Fee:        fee,
		Outputs:    []storage.Output{{Address: addr.Value, Amount: amount}},
		URI:        ComputeURI(e.baseURL, addr.Currency, invoice.UID),
		CreatedAt:  now,
		UpdatedAt:  now,
		Expires:    now.Add(e.optionTTL),
	}, nil
}

// computeAmount converts the invoice amount into the address currency,
// scales it to smallest units (truncating toward zero), and derives the
// informational fee.
func (e *OptionEngine) computeAmount(ctx context.Context, invoice storage.Invoice, account storage.Account, addr storage.Address, coin storage.CoinInfo) (amount, fee int64, err error) {
	// Quote currency: the invoice's own, falling back to the account
	// denomination, falling back to the hub default.
	denom := invoice.Currency
	if denom == "" {
		if account.Denomination != nil && *account.Denomination != "" {
			denom = *account.Denomination
		} else {
			denom = e.defaultDenom
		}
	}

	conv, err := e.converter.Convert(prices.ConversionRequest{
		QuoteCurrency: denom,
		BaseCurrency:  addr.Currency,
		QuoteValue:    decimal.NewFromInt(invoice.Amount),
	})
	if err != nil {
		return 0, 0, err
	}

	precision := coins.DefaultPrecision(addr.Currency, addr.Chain)
	if coin.Precision != nil {
		precision = *coin.Precision
	}
	amount = conv.BaseValue.Shift(precision).IntPart()

	rate := defaultFeeRate
	if isUTXOChain(addr.Chain) {
		rate = utxoFeeRate
	}
	if coin.RequiredFeeRate != nil && *coin.RequiredFeeRate > 0 {
		rate = decimal.NewFromFloat(*coin.RequiredFeeRate)
	}
	fee = decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
	return amount, fee, nil
}

// Refresh recomputes an option's amount, fee, and outputs at current rates
// and advances updated_at/expires. The address and created_at are preserved.
func (e *OptionEngine) Refresh(ctx context.Context, opt storage.PaymentOption, invoice storage.Invoice, account storage.Account) (storage.PaymentOption, error) {
	coin, ok, err := e.catalog.Get(ctx, opt.Currency, opt.Chain)
	if err != nil {
		return storage.PaymentOption{}, err
	}
	if !ok {
		return storage.PaymentOption{}, errors.Newf(errors.KindNotFound, "Coin not found: %s on %s", opt.Currency, opt.Chain)
	}

	addr := storage.Address{
		AccountID: account.ID,
		Chain:     opt.Chain,
		Currency:  opt.Currency,
		Value:     opt.Address,
	}
	amount, fee, err := e.computeAmount(ctx, invoice, account, addr, coin)
	if err != nil {
		return storage.PaymentOption{}, err
	}

	now := time.Now().UTC()
	opt.Amount = amount
	opt.Fee = fee
	opt.Outputs = []storage.Output{{Address: opt.Address, Amount: amount}}
	opt.UpdatedAt = now
	opt.Expires = now.Add(e.optionTTL)
	return opt, nil
}

// IsExpired reports whether the option's expiry has passed. A zero expiry
// counts as expired.
func IsExpired(opt storage.PaymentOption, now time.Time) bool {
	return opt.Expires.IsZero() || opt.Expires.Before(now)
}

// UpdateExpiredOptions refreshes every expired option in the list and
// persists the refreshed batch. Unexpired options pass through unchanged.
func (e *OptionEngine) UpdateExpiredOptions(ctx context.Context, invoice storage.Invoice, opts []storage.PaymentOption, account storage.Account) ([]storage.PaymentOption, error) {
	now := time.Now().UTC()

	var refreshed []storage.PaymentOption
	out := make([]storage.PaymentOption, len(opts))
	refreshedIdx := make([]int, 0, len(opts))

	for i, opt := range opts {
		if !IsExpired(opt, now) {
			out[i] = opt
			continue
		}
		next, err := e.Refresh(ctx, opt, invoice, account)
		if err != nil {
			return nil, err
		}
		refreshed = append(refreshed, next)
		refreshedIdx = append(refreshedIdx, i)
	}

	if len(refreshed) == 0 {
		return opts, nil
	}

	persisted, err := e.store.UpsertPaymentOptions(ctx, refreshed)
	if err != nil {
		return nil, err
	}
	for j, i := range refreshedIdx {
		out[i] = persisted[j]
	}
	return out, nil
}
