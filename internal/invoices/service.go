package invoices

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anypay/eventhub/internal/errors"
	"github.com/anypay/eventhub/internal/storage"
)

// InvoiceWithOptions pairs an invoice with its payment options, the shape
// returned to WS clients.
type InvoiceWithOptions struct {
	Invoice        storage.Invoice         `json:"invoice"`
	PaymentOptions []storage.PaymentOption `json:"payment_options"`
}

// Service creates and reads invoices and enforces ownership on cancel.
type Service struct {
	store   storage.Store
	engine  *OptionEngine
	baseURL string
}

// NewService constructs an invoice service.
func NewService(store storage.Store, engine *OptionEngine, baseURL string) *Service {
	return &Service{store: store, engine: engine, baseURL: baseURL}
}

// CreateParams carries the optional invoice fields.
type CreateParams struct {
	WebhookURL  *string
	RedirectURL *string
	Memo        *string
}

// Create allocates a uid, persists the invoice, and builds its payment
// options. An account with no available addresses still gets its invoice,
// with an empty option list.
func (s *Service) Create(ctx context.Context, accountID, amount int64, currency string, params CreateParams) (InvoiceWithOptions, error) {
	uid, err := NewUID()
	if err != nil {
		return InvoiceWithOptions{}, err
	}

	now := time.Now().UTC()
	inv := storage.Invoice{
		UID:         uid,
		AccountID:   accountID,
		Amount:      amount,
		Currency:    currency,
		Status:      storage.InvoiceUnpaid,
		URI:         InvoiceURL(s.baseURL, uid),
		WebhookURL:  params.WebhookURL,
		RedirectURL: params.RedirectURL,
		Memo:        params.Memo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inv, err = s.store.InsertInvoice(ctx, inv)
	if err != nil {
		return InvoiceWithOptions{}, errors.Wrap(errors.KindStoreError, "Failed to create invoice", err)
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return InvoiceWithOptions{}, errors.Wrap(errors.KindStoreError, "Failed to create invoice", err)
	}

	opts, err := s.engine.Build(ctx, inv, account)
	if err != nil {
		return InvoiceWithOptions{}, errors.Wrap(errors.KindStoreError, "Failed to create invoice", err)
	}

	log.Info().
		Str("uid", uid).
		Int64("account_id", accountID).
		Int64("amount", amount).
		Str("currency", currency).
		Int("options", len(opts)).
		Msg("invoices.created")

	if opts == nil {
		opts = []storage.PaymentOption{}
	}
	return InvoiceWithOptions{Invoice: inv, PaymentOptions: opts}, nil
}

// Get reads an invoice and its options, refreshing expired options on the
// way out. Refresh is best effort: on failure the unrefreshed set is
// returned rather than the read failing.
func (s *Service) Get(ctx context.Context, uid string) (InvoiceWithOptions, error) {
	inv, err := s.store.GetInvoice(ctx, uid)
	if err != nil {
		if err == storage.ErrNotFound {
			return InvoiceWithOptions{}, errors.New(errors.KindNotFound, "Invoice not found")
		}
		return InvoiceWithOptions{}, errors.Wrap(errors.KindStoreError, "Error fetching invoice", err)
	}

	opts, err := s.store.ListPaymentOptions(ctx, uid)
	if err != nil {
		return InvoiceWithOptions{}, errors.Wrap(errors.KindStoreError, "Error fetching invoice", err)
	}

	if s.anyExpired(opts) {
		if refreshed, err := s.refreshExpired(ctx, inv, opts); err != nil {
			log.Warn().Err(err).Str("uid", uid).Msg("invoices.option_refresh_failed")
		} else {
			opts = refreshed
		}
	}

	if opts == nil {
		opts = []storage.PaymentOption{}
	}
	return InvoiceWithOptions{Invoice: inv, PaymentOptions: opts}, nil
}

func (s *Service) anyExpired(opts []storage.PaymentOption) bool {
	now := time.Now().UTC()
	for _, opt := range opts {
		if IsExpired(opt, now) {
			return true
		}
	}
	return false
}

func (s *Service) refreshExpired(ctx context.Context, inv storage.Invoice, opts []storage.PaymentOption) ([]storage.PaymentOption, error) {
	account, err := s.store.GetAccount(ctx, inv.AccountID)
	if err != nil {
		return nil, err
	}
	return s.engine.UpdateExpiredOptions(ctx, inv, opts, account)
}

// UpdateStatus writes the invoice status through to the store.
func (s *Service) UpdateStatus(ctx context.Context, uid string, status storage.InvoiceStatus) error {
	if err := s.store.UpdateInvoiceStatus(ctx, uid, status); err != nil {
		if err == storage.ErrNotFound {
			return errors.New(errors.KindNotFound, "Invoice not found")
		}
		return errors.Wrap(errors.KindStoreError, "Failed to update invoice", err)
	}
	return nil
}

// Cancel transitions an invoice to cancelled, but only for its owner.
func (s *Service) Cancel(ctx context.Context, uid string, requestingAccountID int64) error {
	inv, err := s.store.GetInvoice(ctx, uid)
	if err != nil {
		if err == storage.ErrNotFound {
			return errors.New(errors.KindNotFound, "Invoice not found")
		}
		return errors.Wrap(errors.KindStoreError, "Failed to cancel invoice", err)
	}

	if inv.AccountID != requestingAccountID {
		return errors.New(errors.KindUnauthorized, "Unauthorized to cancel this invoice")
	}

	return s.UpdateStatus(ctx, uid, storage.InvoiceCancelled)
}
