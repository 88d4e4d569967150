package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// I/O budgets applied inside the Postgres store. Exceeding one surfaces as a
// context deadline error on the failing call.
const (
	ReadTimeout  = 10 * time.Second
	WriteTimeout = 15 * time.Second
)

// Store captures the persistence operations the hub core uses. Everything
// else about the schema belongs to the wider platform.
type Store interface {
	// Invoices
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	GetInvoice(ctx context.Context, uid string) (Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, uid string, status InvoiceStatus) error

	// Payment options. UpsertPaymentOptions writes a batch keyed on
	// (invoice_uid, currency, chain); a second write for the same key
	// refreshes the row in place, so option refresh is idempotent.
	UpsertPaymentOptions(ctx context.Context, opts []PaymentOption) ([]PaymentOption, error)
	ListPaymentOptions(ctx context.Context, invoiceUID string) ([]PaymentOption, error)

	// Accounts and addresses (read-only from the hub's point of view)
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAddresses(ctx context.Context, accountID int64) ([]Address, error)

	// Reference data
	ListCoins(ctx context.Context) ([]CoinInfo, error)
	ListPrices(ctx context.Context) ([]Price, error)
	FindPrice(ctx context.Context, baseCurrency, currency string) (Price, error)

	// Payments. ConfirmPayment is a conditional update guarded on a null
	// confirmation_hash; it reports whether this call won the update.
	GetUnconfirmedPaymentByTxid(ctx context.Context, txid string) (Payment, error)
	ConfirmPayment(ctx context.Context, paymentID int64, conf Confirmation) (bool, error)

	// Auth
	GetAccountIDByToken(ctx context.Context, tokenUID string) (int64, error)

	Close() error
}

// MemoryStore is an in-memory Store implementation suitable for tests and
// local development. Seed* methods populate the read-only reference tables.
type MemoryStore struct {
	mu             sync.RWMutex
	invoices       map[string]Invoice       // uid -> invoice
	paymentOptions map[string]PaymentOption // invoice_uid|currency|chain -> option
	accounts       map[int64]Account
	addresses      map[int64][]Address
	coins          []CoinInfo
	prices         []Price
	payments       map[int64]Payment // id -> payment
	accessTokens   map[string]int64  // token uid -> account id
	nextID         int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices:       make(map[string]Invoice),
		paymentOptions: make(map[string]PaymentOption),
		accounts:       make(map[int64]Account),
		addresses:      make(map[int64][]Address),
		payments:       make(map[int64]Payment),
		accessTokens:   make(map[string]int64),
	}
}

func optionKey(invoiceUID, currency, chain string) string {
	return invoiceUID + "|" + currency + "|" + chain
}

// InsertInvoice persists a new invoice and assigns its row id.
func (m *MemoryStore) InsertInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	inv.ID = m.nextID
	m.invoices[inv.UID] = inv
	return inv, nil
}

// GetInvoice retrieves an invoice by uid.
func (m *MemoryStore) GetInvoice(_ context.Context, uid string) (Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[uid]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}

// UpdateInvoiceStatus writes the status and advances updated_at.
func (m *MemoryStore) UpdateInvoiceStatus(_ context.Context, uid string, status InvoiceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[uid]
	if !ok {
		return ErrNotFound
	}
	inv.Status = status
	inv.UpdatedAt = time.Now().UTC()
	m.invoices[uid] = inv
	return nil
}

// UpsertPaymentOptions writes a batch of options keyed on
// (invoice_uid, currency, chain). Existing rows keep their id and created_at.
func (m *MemoryStore) UpsertPaymentOptions(_ context.Context, opts []PaymentOption) ([]PaymentOption, error) {
	if len(opts) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PaymentOption, 0, len(opts))
	for _, opt := range opts {
		key := optionKey(opt.InvoiceUID, opt.Currency, opt.Chain)
		if existing, ok := m.paymentOptions[key]; ok {
			opt.ID = existing.ID
			opt.CreatedAt = existing.CreatedAt
		} else {
			m.nextID++
			opt.ID = m.nextID
		}
		m.paymentOptions[key] = opt
		out = append(out, opt)
	}
	return out, nil
}

// ListPaymentOptions returns the options for an invoice in insertion order.
func (m *MemoryStore) ListPaymentOptions(_ context.Context, invoiceUID string) ([]PaymentOption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PaymentOption
	for _, opt := range m.paymentOptions {
		if opt.InvoiceUID == invoiceUID {
			out = append(out, opt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAccount retrieves an account by id.
func (m *MemoryStore) GetAccount(_ context.Context, id int64) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

// ListAddresses returns all addresses registered for an account.
func (m *MemoryStore) ListAddresses(_ context.Context, accountID int64) ([]Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Address(nil), m.addresses[accountID]...), nil
}

// ListCoins returns every coin row.
func (m *MemoryStore) ListCoins(_ context.Context) ([]CoinInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]CoinInfo(nil), m.coins...), nil
}

// ListPrices returns every price row.
func (m *MemoryStore) ListPrices(_ context.Context) ([]Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Price(nil), m.prices...), nil
}

// FindPrice returns the row where base_currency and currency match exactly.
func (m *MemoryStore) FindPrice(_ context.Context, baseCurrency, currency string) (Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.prices {
		if p.BaseCurrency == baseCurrency && p.Currency == currency {
			return p, nil
		}
	}
	return Price{}, ErrNotFound
}

// GetUnconfirmedPaymentByTxid returns the payment with the given txid that has
// no confirmation hash yet.
func (m *MemoryStore) GetUnconfirmedPaymentByTxid(_ context.Context, txid string) (Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.Txid == txid && !p.Confirmed() {
			return p, nil
		}
	}
	return Payment{}, ErrNotFound
}

// ConfirmPayment applies the confirmation iff the payment has none yet.
// Reports whether this call performed the update.
func (m *MemoryStore) ConfirmPayment(_ context.Context, paymentID int64, conf Confirmation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[paymentID]
	if !ok {
		return false, ErrNotFound
	}
	if p.Confirmed() {
		return false, nil
	}
	hash := conf.Hash
	height := conf.Height
	date := conf.Date
	confs := conf.Confirmations
	p.ConfirmationHash = &hash
	p.ConfirmationHeight = &height
	p.ConfirmationDate = &date
	p.Confirmations = &confs
	p.Status = "confirmed"
	m.payments[paymentID] = p
	return true, nil
}

// GetAccountIDByToken resolves an access token to its account.
func (m *MemoryStore) GetAccountIDByToken(_ context.Context, tokenUID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.accessTokens[tokenUID]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

// Close implements the Store interface.
func (m *MemoryStore) Close() error { return nil }

// GetPayment retrieves a payment by id, confirmed or not. Test helper.
func (m *MemoryStore) GetPayment(id int64) (Payment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	return p, ok
}

// SeedAccount registers an account row.
func (m *MemoryStore) SeedAccount(acct Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.ID] = acct
}

// SeedAddress registers an address row.
func (m *MemoryStore) SeedAddress(addr Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[addr.AccountID] = append(m.addresses[addr.AccountID], addr)
}

// SeedCoin registers a coin row.
func (m *MemoryStore) SeedCoin(coin CoinInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coins = append(m.coins, coin)
}

// SeedPrice registers or replaces a price row for its pair.
func (m *MemoryStore) SeedPrice(price Price) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.prices {
		if p.BaseCurrency == price.BaseCurrency && p.Currency == price.Currency {
			m.prices[i] = price
			return
		}
	}
	m.prices = append(m.prices, price)
}

// SeedPayment registers a payment row.
func (m *MemoryStore) SeedPayment(p Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		m.nextID++
		p.ID = m.nextID
	}
	m.payments[p.ID] = p
}

// SeedAccessToken registers a token -> account binding.
func (m *MemoryStore) SeedAccessToken(tokenUID string, accountID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessTokens[tokenUID] = accountID
}
