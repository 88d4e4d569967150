package coins

import (
	"context"

	"github.com/anypay/eventhub/internal/storage"
)

// AddressBook resolves the receiving addresses an account can actually be
// paid on: registered addresses whose (currency, chain) maps to an available
// coin.
type AddressBook struct {
	store   storage.Store
	catalog *Catalog
}

// NewAddressBook constructs an address book over the store and catalog.
func NewAddressBook(store storage.Store, catalog *Catalog) *AddressBook {
	return &AddressBook{store: store, catalog: catalog}
}

// ListAvailable returns the account's addresses filtered by coin
// availability. Addresses with no coin row are dropped, not errored.
func (b *AddressBook) ListAvailable(ctx context.Context, account storage.Account) ([]storage.Address, error) {
	addrs, err := b.store.ListAddresses(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	available := make([]storage.Address, 0, len(addrs))
	for _, addr := range addrs {
		coin, ok, err := b.catalog.Get(ctx, addr.Currency, addr.Chain)
		if err != nil {
			return nil, err
		}
		if ok && !coin.Unavailable {
			available = append(available, addr)
		}
	}
	return available, nil
}
