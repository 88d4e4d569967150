package events

import "encoding/json"

// Topic names an event stream on the bus. Topics double as AMQP routing
// keys.
type Topic string

const (
	// TopicPaymentConfirmed fires once per payment when its on-chain
	// confirmation lands.
	TopicPaymentConfirmed Topic = "payment.confirmed"
)

// Event is a published message: a topic plus a JSON-encodable payload.
type Event struct {
	Topic   Topic       `json:"topic"`
	Payload interface{} `json:"payload"`
}

// PaymentConfirmed is the payload carried on TopicPaymentConfirmed.
type PaymentConfirmed struct {
	AccountID *string            `json:"account_id"`
	AppID     *string            `json:"app_id"`
	Payment   PaymentDetail      `json:"payment"`
	Invoice   InvoiceDetail      `json:"invoice"`
	Confirm   ConfirmationDetail `json:"confirmation"`
}

// PaymentDetail identifies the confirmed payment.
type PaymentDetail struct {
	Chain    string `json:"chain"`
	Currency string `json:"currency"`
	Txid     string `json:"txid"`
	Status   string `json:"status"`
}

// InvoiceDetail identifies the invoice the payment settles.
type InvoiceDetail struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

// ConfirmationDetail carries the block the payment confirmed in.
type ConfirmationDetail struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
}

// MarshalPayload renders the event payload as JSON.
func (e Event) MarshalPayload() ([]byte, error) {
	return json.Marshal(e.Payload)
}
