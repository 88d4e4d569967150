package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates the invoice lifecycle. Transitions are one-way:
// unpaid -> paid (confirmation pipeline) or unpaid -> cancelled (owner request).
type InvoiceStatus string

const (
	InvoiceUnpaid    InvoiceStatus = "unpaid"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Invoice is a request for payment denominated in a fiat quote currency.
// Amount is in whole units of Currency.
type Invoice struct {
	ID          int64         `json:"id"`
	UID         string        `json:"uid"`
	AccountID   int64         `json:"account_id"`
	Amount      int64         `json:"amount"`
	Currency    string        `json:"currency"`
	Status      InvoiceStatus `json:"status"`
	URI         string        `json:"uri"`
	WebhookURL  *string       `json:"webhook_url,omitempty"`
	RedirectURL *string       `json:"redirect_url,omitempty"`
	Memo        *string       `json:"memo,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Output is a single destination of a payment option. The sum of a payment
// option's outputs always equals its amount.
type Output struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// PaymentOption is one concrete way to pay an invoice: a target address and
// amount in one cryptocurrency on one chain. Options are unique per
// (invoice_uid, currency, chain) and expire; expired options are refreshed in
// place on read.
type PaymentOption struct {
	ID         int64     `json:"id,omitempty"`
	InvoiceUID string    `json:"invoice_uid"`
	Chain      string    `json:"chain"`
	Currency   string    `json:"currency"`
	Address    string    `json:"address"`
	Amount     int64     `json:"amount"`
	Fee        int64     `json:"fee"`
	Outputs    []Output  `json:"outputs"`
	URI        string    `json:"uri"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Expires    time.Time `json:"expires"`
}

// CoinInfo describes a supported (currency, chain) pair.
type CoinInfo struct {
	Currency        string   `json:"currency"`
	Chain           string   `json:"chain"`
	Precision       *int32   `json:"precision,omitempty"`
	Unavailable     bool     `json:"unavailable"`
	RequiredFeeRate *float64 `json:"required_fee_rate,omitempty"`
	Color           string   `json:"color,omitempty"`
	URITemplate     string   `json:"uri_template,omitempty"`
}

// Key returns the catalog key, "CURRENCY:CHAIN".
func (c CoinInfo) Key() string {
	return c.Currency + ":" + c.Chain
}

// Price is one FX rate row: 1 Currency = Value BaseCurrency.
// A row {currency: BTC, base_currency: USD, value: 40000} means one bitcoin
// costs forty thousand dollars.
type Price struct {
	ID           int64           `json:"id,omitempty"`
	Currency     string          `json:"currency"`
	BaseCurrency string          `json:"base_currency"`
	Value        decimal.Decimal `json:"value"`
	Source       string          `json:"source,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Account owns invoices and addresses. Denomination, when set, overrides the
// hub's default quote currency for payment-option conversion.
type Account struct {
	ID           int64   `json:"id"`
	Denomination *string `json:"denomination,omitempty"`
}

// Address is a receiving address an account has registered for one
// (chain, currency) pair.
type Address struct {
	AccountID int64  `json:"account_id"`
	Chain     string `json:"chain"`
	Currency  string `json:"currency"`
	Value     string `json:"value"`
}

// Payment is an on-chain payment attempt created upstream. It is confirmed by
// the pipeline exactly once; a payment with a confirmation hash is terminal.
type Payment struct {
	ID                 int64      `json:"id"`
	Txid               string     `json:"txid"`
	Chain              string     `json:"chain"`
	Currency           string     `json:"currency"`
	InvoiceUID         string     `json:"invoice_uid"`
	Status             string     `json:"status"`
	ConfirmationHash   *string    `json:"confirmation_hash,omitempty"`
	ConfirmationHeight *int64     `json:"confirmation_height,omitempty"`
	ConfirmationDate   *time.Time `json:"confirmation_date,omitempty"`
	Confirmations      *int32     `json:"confirmations,omitempty"`
}

// Confirmed reports whether the payment has reached its terminal state.
func (p Payment) Confirmed() bool {
	return p.ConfirmationHash != nil && *p.ConfirmationHash != ""
}

// Confirmation carries the block-inclusion facts applied to a payment.
type Confirmation struct {
	Hash          string    `json:"hash"`
	Height        int64     `json:"height"`
	Date          time.Time `json:"date"`
	Confirmations int32     `json:"confirmations"`
}
