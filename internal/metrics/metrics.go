package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the hub's Prometheus collectors.
type Metrics struct {
	SessionsActive    prometheus.Gauge
	CommandsTotal     *prometheus.CounterVec
	EventsFanout      prometheus.Counter
	SlowConsumerDrops prometheus.Counter
	InvoicesCreated   prometheus.Counter
	OptionsBuilt      prometheus.Counter
	BlocksProcessed   prometheus.Counter
	PaymentsConfirmed prometheus.Counter
	PriceRefreshes    *prometheus.CounterVec
}

// New registers the hub collectors on the given registerer and returns them.
// Tests pass a fresh registry so repeated construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventhub_sessions_active",
			Help: "Currently connected WebSocket sessions.",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventhub_commands_total",
			Help: "WebSocket commands processed, by action and outcome.",
		}, []string{"action", "status"}),
		EventsFanout: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_events_fanout_total",
			Help: "Event messages fanned out to subscribed sessions.",
		}),
		SlowConsumerDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_slow_consumer_drops_total",
			Help: "Outbound messages dropped on full session queues.",
		}),
		InvoicesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_invoices_created_total",
			Help: "Invoices created over WebSocket.",
		}),
		OptionsBuilt: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_payment_options_built_total",
			Help: "Payment options computed and persisted.",
		}),
		BlocksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_blocks_processed_total",
			Help: "Blocks fetched and scanned for payments.",
		}),
		PaymentsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventhub_payments_confirmed_total",
			Help: "Payments transitioned to confirmed.",
		}),
		PriceRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventhub_price_refreshes_total",
			Help: "Price cache refresh attempts, by outcome.",
		}, []string{"status"}),
	}
}
