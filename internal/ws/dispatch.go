package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anypay/eventhub/internal/errors"
	"github.com/anypay/eventhub/internal/invoices"
	"github.com/anypay/eventhub/internal/metrics"
	"github.com/anypay/eventhub/internal/prices"
)

// Dispatcher routes inbound command frames to their handlers. Dispatch is
// sequential per session; ordering of a session's own commands is preserved.
type Dispatcher struct {
	invoices  *invoices.Service
	converter *prices.Converter
	cache     *prices.Cache
	registry  *SubscriptionRegistry
	metrics   *metrics.Metrics // optional
}

// NewDispatcher constructs a dispatcher. metrics may be nil.
func NewDispatcher(svc *invoices.Service, converter *prices.Converter, cache *prices.Cache,
	registry *SubscriptionRegistry, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		invoices:  svc,
		converter: converter,
		cache:     cache,
		registry:  registry,
		metrics:   m,
	}
}

// Dispatch parses one frame and returns the response frame. A malformed
// frame or unknown action yields the invalid-message envelope; the
// connection stays up either way.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, raw []byte) []byte {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		d.count("unknown", "error")
		return Failure("Invalid message format")
	}

	resp, err := d.handle(ctx, sess, cmd)
	if err != nil {
		d.count(cmd.Action, "error")
		log.Debug().
			Err(err).
			Str("action", cmd.Action).
			Str("session", sess.ID.String()).
			Msg("ws.command_failed")
		return Failure(errors.MessageOf(err))
	}
	d.count(cmd.Action, "success")
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, sess *Session, cmd Command) ([]byte, error) {
	switch cmd.Action {
	case ActionSubscribe:
		d.registry.Subscribe(sess.ID, Subscription{Type: cmd.Type, ID: cmd.ID})
		return Success(map[string]bool{"subscribed": true}), nil

	case ActionUnsubscribe:
		d.registry.Unsubscribe(sess.ID, Subscription{Type: cmd.Type, ID: cmd.ID})
		return Success(map[string]bool{"subscribed": false}), nil

	case ActionFetchInvoice:
		result, err := d.invoices.Get(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		return Success(result), nil

	case ActionCreateInvoice:
		if !sess.Authenticated() {
			return nil, errors.New(errors.KindUnauthorized, "Unauthorized: API key required")
		}
		result, err := d.invoices.Create(ctx, *sess.AccountID, cmd.Amount, cmd.Currency, invoices.CreateParams{
			WebhookURL:  cmd.WebhookURL,
			RedirectURL: cmd.RedirectURL,
			Memo:        cmd.Memo,
		})
		if err != nil {
			return nil, err
		}
		if d.metrics != nil {
			d.metrics.InvoicesCreated.Inc()
			d.metrics.OptionsBuilt.Add(float64(len(result.PaymentOptions)))
		}
		return Success(result), nil

	case ActionListPrices:
		return Success(d.cache.List()), nil

	case ActionConvertPrice:
		result, err := d.converter.Convert(prices.ConversionRequest{
			QuoteCurrency: cmd.QuoteCurrency,
			BaseCurrency:  cmd.BaseCurrency,
			QuoteValue:    cmd.QuoteValue,
		})
		if err != nil {
			return nil, err
		}
		return Success(result), nil

	case ActionCancelInvoice:
		if !sess.Authenticated() {
			return nil, errors.New(errors.KindUnauthorized, "Unauthorized: API key required")
		}
		if err := d.invoices.Cancel(ctx, cmd.UID, *sess.AccountID); err != nil {
			return nil, err
		}
		return Success(map[string]string{"uid": cmd.UID, "status": "cancelled"}), nil

	case ActionPing:
		return mustMarshal(Pong{Type: "pong", Status: "success", Timestamp: time.Now().Unix()}), nil

	default:
		return nil, errors.New(errors.KindInvalidMessage, "Invalid message format")
	}
}

func (d *Dispatcher) count(action, status string) {
	if d.metrics != nil {
		d.metrics.CommandsTotal.WithLabelValues(action, status).Inc()
	}
}
