package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/anypay/eventhub/internal/config"
	"github.com/anypay/eventhub/internal/events"
	"github.com/anypay/eventhub/internal/storage"
)

// Notifier POSTs confirmed-payment events to the merchant webhook URL
// registered on the invoice. Delivery is fire and forget with bounded
// retry; a merchant endpoint being down never blocks confirmation
// processing.
type Notifier struct {
	store       storage.Store
	client      *http.Client
	maxAttempts int
	initial     time.Duration
	maxInterval time.Duration
}

// NewNotifier constructs a notifier with the configured retry policy.
func NewNotifier(store storage.Store, cfg config.WebhooksConfig) *Notifier {
	return &Notifier{
		store:       store,
		client:      &http.Client{Timeout: cfg.Timeout.Duration},
		maxAttempts: cfg.MaxAttempts,
		initial:     cfg.InitialInterval.Duration,
		maxInterval: cfg.MaxInterval.Duration,
	}
}

// Deliver implements events.Sink. Only payment confirmations are routed;
// other topics are ignored.
func (n *Notifier) Deliver(ctx context.Context, ev events.Event) error {
	if ev.Topic != events.TopicPaymentConfirmed {
		return nil
	}
	payload, ok := ev.Payload.(events.PaymentConfirmed)
	if !ok {
		return fmt.Errorf("unexpected payload type for %s", ev.Topic)
	}

	inv, err := n.store.GetInvoice(ctx, payload.Invoice.UID)
	if err != nil {
		return err
	}
	if inv.WebhookURL == nil || *inv.WebhookURL == "" {
		return nil
	}

	go n.post(*inv.WebhookURL, payload)
	return nil
}

// post delivers one webhook with exponential backoff between attempts.
func (n *Notifier) post(url string, payload events.PaymentConfirmed) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("webhooks.marshal_failed")
		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.initial
	policy.MaxInterval = n.maxInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		if err := n.attempt(url, body); err != nil {
			if attempt >= n.maxAttempts {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		log.Warn().Err(err).Str("url", url).Int("attempts", attempt).Msg("webhooks.delivery_failed")
		return
	}
	log.Info().Str("url", url).Str("invoice", payload.Invoice.UID).Msg("webhooks.delivered")
}

func (n *Notifier) attempt(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
