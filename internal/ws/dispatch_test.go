package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/anypay/eventhub/internal/coins"
	"github.com/anypay/eventhub/internal/invoices"
	"github.com/anypay/eventhub/internal/prices"
	"github.com/anypay/eventhub/internal/storage"
)

func int32p(v int32) *int32 { return &v }

func newTestDispatcher(t *testing.T) (*Dispatcher, *storage.MemoryStore) {
	t.Helper()

	store := storage.NewMemoryStore()
	store.SeedAccount(storage.Account{ID: 7})
	store.SeedAccount(storage.Account{ID: 9})
	store.SeedAddress(storage.Address{AccountID: 7, Chain: "BTC", Currency: "BTC", Value: "1abc"})
	store.SeedAddress(storage.Address{AccountID: 9, Chain: "BTC", Currency: "BTC", Value: "1other"})
	store.SeedCoin(storage.CoinInfo{Currency: "BTC", Chain: "BTC", Precision: int32p(8)})
	store.SeedPrice(storage.Price{Currency: "BTC", BaseCurrency: "USD", Value: decimal.NewFromInt(40000)})

	cache := prices.NewCache(store)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	converter := prices.NewConverter(cache)
	catalog := coins.NewCatalog(store)
	book := coins.NewAddressBook(store, catalog)
	engine := invoices.NewOptionEngine(store, converter, catalog, book,
		"https://api.anypayx.com", 15*time.Minute, "USD")
	svc := invoices.NewService(store, engine, "https://api.anypayx.com")

	return NewDispatcher(svc, converter, cache, NewSubscriptionRegistry(), nil), store
}

func anonymousSession() *Session {
	return NewSession(nil, nil, 16)
}

func accountSession(id int64) *Session {
	return NewSession(nil, &id, 16)
}

func dispatch(t *testing.T, d *Dispatcher, sess *Session, frame string) Envelope {
	t.Helper()
	raw := d.Dispatch(context.Background(), sess, []byte(frame))
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("response not an envelope: %v (%s)", err, raw)
	}
	return env
}

func TestDispatchErrorEnvelopes(t *testing.T) {
	tests := []struct {
		name    string
		session *Session
		frame   string
		wantMsg string
	}{
		{"malformed json", anonymousSession(), `{"action":`, "Invalid message format"},
		{"unknown action", anonymousSession(), `{"action":"bogus"}`, "Invalid message format"},
		{"create without auth", anonymousSession(), `{"action":"create_invoice","amount":100,"currency":"USD"}`, "Unauthorized: API key required"},
		{"cancel without auth", anonymousSession(), `{"action":"cancel_invoice","uid":"inv_x"}`, "Unauthorized: API key required"},
		{"fetch missing invoice", anonymousSession(), `{"action":"fetch_invoice","id":"inv_missing"}`, "Invoice not found"},
		{"convert without rate", anonymousSession(), `{"action":"convert_price","quote_currency":"USD","base_currency":"XYZ","quote_value":1}`, "No price for USD to XYZ"},
	}

	d, _ := newTestDispatcher(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := dispatch(t, d, tt.session, tt.frame)
			if env.Status != "error" {
				t.Fatalf("status = %q, want error", env.Status)
			}
			if env.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", env.Message, tt.wantMsg)
			}
		})
	}
}

func TestDispatchPing(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := d.Dispatch(context.Background(), anonymousSession(), []byte(`{"action":"ping"}`))

	var pong Pong
	if err := json.Unmarshal(raw, &pong); err != nil {
		t.Fatalf("unmarshal pong: %v", err)
	}
	if pong.Type != "pong" || pong.Status != "success" {
		t.Errorf("pong = %+v", pong)
	}
	if delta := time.Now().Unix() - pong.Timestamp; delta < 0 || delta > 5 {
		t.Errorf("timestamp = %d, not recent", pong.Timestamp)
	}
}

func TestDispatchSubscribeUnsubscribe(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sess := anonymousSession()

	env := dispatch(t, d, sess, `{"action":"subscribe","type":"invoice","id":"inv_abc"}`)
	if env.Status != "success" {
		t.Fatalf("subscribe status = %q", env.Status)
	}
	if got := d.registry.SubscribersOf(Subscription{Type: "invoice", ID: "inv_abc"}); len(got) != 1 {
		t.Fatalf("subscribers = %d, want 1", len(got))
	}

	env = dispatch(t, d, sess, `{"action":"unsubscribe","type":"invoice","id":"inv_abc"}`)
	if env.Status != "success" {
		t.Fatalf("unsubscribe status = %q", env.Status)
	}
	if got := d.registry.SubscribersOf(Subscription{Type: "invoice", ID: "inv_abc"}); len(got) != 0 {
		t.Errorf("subscribers = %d, want 0", len(got))
	}
}

func TestDispatchCreateAndFetchInvoice(t *testing.T) {
	d, store := newTestDispatcher(t)
	sess := accountSession(7)

	env := dispatch(t, d, sess, `{"action":"create_invoice","amount":10000,"currency":"USD"}`)
	if env.Status != "success" {
		t.Fatalf("create status = %q, message = %q", env.Status, env.Message)
	}

	data, _ := json.Marshal(env.Data)
	var created invoices.InvoiceWithOptions
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode create data: %v", err)
	}
	if created.Invoice.AccountID != 7 {
		t.Errorf("account_id = %d, want 7", created.Invoice.AccountID)
	}
	if len(created.PaymentOptions) != 1 {
		t.Fatalf("options = %d, want 1", len(created.PaymentOptions))
	}
	if created.PaymentOptions[0].Amount != 25_000_000 {
		t.Errorf("BTC amount = %d, want 25000000", created.PaymentOptions[0].Amount)
	}

	if _, err := store.GetInvoice(context.Background(), created.Invoice.UID); err != nil {
		t.Fatalf("invoice not persisted: %v", err)
	}

	env = dispatch(t, d, sess, `{"action":"fetch_invoice","id":"`+created.Invoice.UID+`"}`)
	if env.Status != "success" {
		t.Fatalf("fetch status = %q, message = %q", env.Status, env.Message)
	}
}

func TestDispatchUnauthorizedCreateLeavesNoInvoice(t *testing.T) {
	d, store := newTestDispatcher(t)

	env := dispatch(t, d, anonymousSession(), `{"action":"create_invoice","amount":100,"currency":"USD"}`)
	if env.Status != "error" {
		t.Fatalf("status = %q, want error", env.Status)
	}

	// nothing was written
	opts, _ := store.ListPaymentOptions(context.Background(), "")
	if len(opts) != 0 {
		t.Errorf("options persisted on rejected create")
	}
}

func TestDispatchCancelOwnership(t *testing.T) {
	d, store := newTestDispatcher(t)

	env := dispatch(t, d, accountSession(9), `{"action":"create_invoice","amount":100,"currency":"USD"}`)
	if env.Status != "success" {
		t.Fatalf("create status = %q", env.Status)
	}
	data, _ := json.Marshal(env.Data)
	var created invoices.InvoiceWithOptions
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	uid := created.Invoice.UID

	env = dispatch(t, d, accountSession(7), `{"action":"cancel_invoice","uid":"`+uid+`"}`)
	if env.Status != "error" || env.Message != "Unauthorized to cancel this invoice" {
		t.Fatalf("cancel by non-owner = %+v", env)
	}
	inv, _ := store.GetInvoice(context.Background(), uid)
	if inv.Status != storage.InvoiceUnpaid {
		t.Errorf("status = %q, want unpaid", inv.Status)
	}

	env = dispatch(t, d, accountSession(9), `{"action":"cancel_invoice","uid":"`+uid+`"}`)
	if env.Status != "success" {
		t.Fatalf("cancel by owner = %+v", env)
	}
	inv, _ = store.GetInvoice(context.Background(), uid)
	if inv.Status != storage.InvoiceCancelled {
		t.Errorf("status = %q, want cancelled", inv.Status)
	}
}

func TestDispatchListPrices(t *testing.T) {
	d, _ := newTestDispatcher(t)
	env := dispatch(t, d, anonymousSession(), `{"action":"list_prices"}`)
	if env.Status != "success" {
		t.Fatalf("status = %q", env.Status)
	}
	data, _ := json.Marshal(env.Data)
	var rows []storage.Price
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("decode prices: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("prices = %d, want 1", len(rows))
	}
}

func TestDispatchConvertPrice(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"numeric value", `{"action":"convert_price","quote_currency":"USD","base_currency":"BTC","quote_value":10000}`},
		{"string value", `{"action":"convert_price","quote_currency":"USD","base_currency":"BTC","quote_value":"10000"}`},
	}

	d, _ := newTestDispatcher(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := dispatch(t, d, anonymousSession(), tt.frame)
			if env.Status != "success" {
				t.Fatalf("status = %q, message = %q", env.Status, env.Message)
			}
			data, _ := json.Marshal(env.Data)
			var result prices.ConversionResult
			if err := json.Unmarshal(data, &result); err != nil {
				t.Fatalf("decode result: %v", err)
			}
			if !result.BaseValue.Equal(decimal.RequireFromString("0.25")) {
				t.Errorf("base_value = %s, want 0.25", result.BaseValue)
			}
		})
	}
}
