package ws

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Command actions recognized on inbound frames.
const (
	ActionSubscribe     = "subscribe"
	ActionUnsubscribe   = "unsubscribe"
	ActionFetchInvoice  = "fetch_invoice"
	ActionCreateInvoice = "create_invoice"
	ActionListPrices    = "list_prices"
	ActionConvertPrice  = "convert_price"
	ActionCancelInvoice = "cancel_invoice"
	ActionPing          = "ping"
)

// Command is the union of all inbound frame shapes, discriminated by Action.
// QuoteValue rides on decimal.Decimal, whose decoder accepts JSON numbers and
// numeric strings alike.
type Command struct {
	Action string `json:"action"`

	// subscribe / unsubscribe / fetch_invoice
	Type string `json:"type"`
	ID   string `json:"id"`

	// create_invoice / cancel_invoice
	UID         string  `json:"uid"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	WebhookURL  *string `json:"webhook_url"`
	RedirectURL *string `json:"redirect_url"`
	Memo        *string `json:"memo"`

	// convert_price
	QuoteCurrency string          `json:"quote_currency"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteValue    decimal.Decimal `json:"quote_value"`
}

// Envelope is the command response frame.
type Envelope struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Pong is the reply to a ping command.
type Pong struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Success renders a success envelope.
func Success(data interface{}) []byte {
	return mustMarshal(Envelope{Status: "success", Data: data})
}

// Failure renders an error envelope.
func Failure(message string) []byte {
	return mustMarshal(Envelope{Status: "error", Message: message})
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Envelope and Pong marshal unconditionally; reaching this means a
		// handler returned an unmarshalable data payload.
		return []byte(`{"status":"error","message":"Internal error"}`)
	}
	return b
}
