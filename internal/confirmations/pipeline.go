package confirmations

import (
	"context"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/anypay/eventhub/internal/config"
	"github.com/anypay/eventhub/internal/events"
	"github.com/anypay/eventhub/internal/logger"
	"github.com/anypay/eventhub/internal/metrics"
	"github.com/anypay/eventhub/internal/storage"
)

// BlockSource is the provider surface the pipeline consumes.
type BlockSource interface {
	Subscribe(ctx context.Context, blocks chan<- BlockNotification) error
	FetchBlock(ctx context.Context, hash string) (BlockDetail, error)
}

// Pipeline correlates announced blocks with unconfirmed payments, applies
// confirmations, marks invoices paid, and publishes the confirmation event.
type Pipeline struct {
	source  BlockSource
	store   storage.Store
	bus     *events.Bus
	metrics *metrics.Metrics // optional

	reconnectBase time.Duration
	reconnectCap  time.Duration
}

// NewPipeline constructs a pipeline. metrics may be nil.
func NewPipeline(source BlockSource, store storage.Store, bus *events.Bus, m *metrics.Metrics, cfg config.BlockbookConfig) *Pipeline {
	return &Pipeline{
		source:        source,
		store:         store,
		bus:           bus,
		metrics:       m,
		reconnectBase: cfg.ReconnectBase.Duration,
		reconnectCap:  cfg.ReconnectCap.Duration,
	}
}

// Run consumes block notifications until ctx is cancelled, reconnecting on
// stream failure with jittered exponential backoff.
func (p *Pipeline) Run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.reconnectBase
	policy.MaxInterval = p.reconnectCap
	policy.RandomizationFactor = 1
	policy.MaxElapsedTime = 0

	for {
		if err := p.consume(ctx); err != nil && ctx.Err() == nil {
			wait := policy.NextBackOff()
			log.Warn().Err(err).Dur("retry_in", wait).Msg("confirmations.stream_failed")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		if ctx.Err() != nil {
			log.Info().Msg("confirmations.stopped")
			return
		}
		policy.Reset()
	}
}

func (p *Pipeline) consume(ctx context.Context) error {
	blocks := make(chan BlockNotification)
	errs := make(chan error, 1)
	go func() {
		errs <- p.source.Subscribe(ctx, blocks)
	}()

	for {
		select {
		case block := <-blocks:
			p.ProcessBlock(ctx, block)
		case err := <-errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ProcessBlock fetches the block's transactions and confirms any that match
// an unconfirmed payment. A failed fetch skips the block; its txids come
// back with the next block that includes them.
func (p *Pipeline) ProcessBlock(ctx context.Context, block BlockNotification) {
	detail, err := p.source.FetchBlock(ctx, block.Hash)
	if err != nil {
		log.Warn().Err(err).Str("hash", block.Hash).Int64("height", block.Height).Msg("confirmations.block_fetch_failed")
		return
	}

	date := time.Now().UTC()
	if detail.Time != nil {
		date = time.Unix(*detail.Time, 0).UTC()
	} else if block.Timestamp != nil {
		date = time.Unix(*block.Timestamp, 0).UTC()
	}

	confirmed := 0
	for _, tx := range detail.Txs {
		payment, err := p.store.GetUnconfirmedPaymentByTxid(ctx, tx.Txid)
		if err != nil {
			if err != storage.ErrNotFound {
				log.Error().Err(err).Str("txid", logger.TruncateID(tx.Txid)).Msg("confirmations.payment_lookup_failed")
			}
			continue
		}
		if err := p.confirm(ctx, payment, block, date); err != nil {
			log.Error().Err(err).Str("txid", logger.TruncateID(tx.Txid)).Msg("confirmations.confirm_failed")
			continue
		}
		confirmed++
	}

	if p.metrics != nil {
		p.metrics.BlocksProcessed.Inc()
	}
	log.Info().
		Str("hash", block.Hash).
		Int64("height", block.Height).
		Int("txs", len(detail.Txs)).
		Int("confirmed", confirmed).
		Msg("confirmations.block_processed")
}

// confirm applies the block facts to one payment. The store-side null guard
// makes this idempotent; only the call that wins the update marks the
// invoice paid and publishes the event.
func (p *Pipeline) confirm(ctx context.Context, payment storage.Payment, block BlockNotification, date time.Time) error {
	won, err := p.store.ConfirmPayment(ctx, payment.ID, storage.Confirmation{
		Hash:          block.Hash,
		Height:        block.Height,
		Date:          date,
		Confirmations: 1,
	})
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	inv, err := p.store.GetInvoice(ctx, payment.InvoiceUID)
	if err != nil {
		return err
	}
	if err := p.store.UpdateInvoiceStatus(ctx, inv.UID, storage.InvoicePaid); err != nil {
		return err
	}

	accountID := strconv.FormatInt(inv.AccountID, 10)
	p.bus.Publish(ctx, events.Event{
		Topic: events.TopicPaymentConfirmed,
		Payload: events.PaymentConfirmed{
			AccountID: &accountID,
			Payment: events.PaymentDetail{
				Chain:    payment.Chain,
				Currency: payment.Currency,
				Txid:     payment.Txid,
				Status:   "confirmed",
			},
			Invoice: events.InvoiceDetail{
				UID:    inv.UID,
				Status: string(storage.InvoicePaid),
			},
			Confirm: events.ConfirmationDetail{
				Hash:   block.Hash,
				Height: block.Height,
			},
		},
	})

	if p.metrics != nil {
		p.metrics.PaymentsConfirmed.Inc()
	}
	log.Info().
		Str("txid", logger.TruncateID(payment.Txid)).
		Str("invoice", inv.UID).
		Int64("height", block.Height).
		Msg("confirmations.payment_confirmed")
	return nil
}
