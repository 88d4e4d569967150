// Package anypay assembles the event hub for standalone serving or
// embedding: storage, price conversion, invoice and option services, the
// WebSocket session bus, and the confirmation pipeline.
package anypay

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/anypay/eventhub/internal/coins"
	"github.com/anypay/eventhub/internal/config"
	"github.com/anypay/eventhub/internal/confirmations"
	"github.com/anypay/eventhub/internal/events"
	"github.com/anypay/eventhub/internal/invoices"
	"github.com/anypay/eventhub/internal/lifecycle"
	"github.com/anypay/eventhub/internal/metrics"
	"github.com/anypay/eventhub/internal/prices"
	"github.com/anypay/eventhub/internal/storage"
	"github.com/anypay/eventhub/internal/webhooks"
	"github.com/anypay/eventhub/internal/ws"
)

// App wires the hub components together.
type App struct {
	Config   *config.Config
	Store    storage.Store
	Bus      *events.Bus
	Invoices *invoices.Service
	Sessions *ws.Server

	cache    *prices.Cache
	updater  *prices.Updater
	pipeline *confirmations.Pipeline

	router          chi.Router
	resourceManager *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store       storage.Store
	blockSource confirmations.BlockSource
	router      chi.Router
	registerer  prometheus.Registerer
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithBlockSource injects a block-notification source, replacing the
// blockbook client.
func WithBlockSource(source confirmations.BlockSource) Option {
	return func(o *options) { o.blockSource = source }
}

// WithRouter registers routes onto an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithRegisterer sets the Prometheus registerer for the hub collectors.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// NewApp assembles the hub.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("anypay: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		Bus:             events.NewBus(),
		resourceManager: lifecycle.NewManager(),
	}

	if optState.store != nil {
		app.Store = optState.store
	} else if cfg.Database.PostgresURL != "" {
		store, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			return nil, err
		}
		app.Store = store
		app.resourceManager.Register("storage", store)
	} else {
		app.Store = storage.NewMemoryStore()
		log.Warn().Msg("anypay: defaulting to in-memory store, not for production use")
	}

	registerer := optState.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	collector := metrics.New(registerer)

	app.cache = prices.NewCache(app.Store)
	app.updater = prices.NewUpdater(app.cache, cfg.Prices.RefreshInterval.Duration, collector)
	converter := prices.NewConverter(app.cache)

	catalog := coins.NewCatalog(app.Store)
	addresses := coins.NewAddressBook(app.Store, catalog)

	engine := invoices.NewOptionEngine(app.Store, converter, catalog, addresses,
		cfg.Invoices.BaseURL, cfg.Invoices.OptionTTL.Duration, cfg.Invoices.DefaultDenomination)
	app.Invoices = invoices.NewService(app.Store, engine, cfg.Invoices.BaseURL)

	registry := ws.NewSubscriptionRegistry()
	dispatcher := ws.NewDispatcher(app.Invoices, converter, app.cache, registry, collector)
	app.Sessions = ws.NewServer(app.Store, dispatcher, registry, collector, cfg.Server, cfg.Sessions)
	app.Bus.Subscribe(app.Sessions)

	app.Bus.Subscribe(webhooks.NewNotifier(app.Store, cfg.Webhooks))

	if publisher, err := events.NewAMQPPublisher(cfg.AMQP); err != nil {
		// Broker mirroring is best effort; the hub serves without it.
		log.Warn().Err(err).Msg("anypay: amqp publisher disabled")
	} else if publisher != nil {
		app.Bus.Subscribe(publisher)
		app.resourceManager.Register("amqp-publisher", publisher)
	}

	var source confirmations.BlockSource
	if optState.blockSource != nil {
		source = optState.blockSource
	} else if cfg.Blockbook.Host != "" {
		source = confirmations.NewBlockbookClient(cfg.Blockbook)
	}
	if source != nil {
		app.pipeline = confirmations.NewPipeline(source, app.Store, app.Bus, collector, cfg.Blockbook)
	} else {
		log.Warn().Msg("anypay: no block source configured, confirmations disabled")
	}

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}
	app.configureRouter()

	return app, nil
}

func (a *App) configureRouter() {
	r := a.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(a.Config.Server.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.Config.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}
	if a.Config.Server.RateLimit > 0 {
		r.Use(httprate.LimitByIP(a.Config.Server.RateLimit, a.Config.Server.RateLimitWindow.Duration))
	}

	r.Get("/ws", a.Sessions.Handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
}

// Start launches the background tasks: the price updater and, when a block
// source is configured, the confirmation pipeline. They stop when ctx is
// cancelled.
func (a *App) Start(ctx context.Context) {
	go a.updater.Run(ctx)
	if a.pipeline != nil {
		go a.pipeline.Run(ctx)
	}
}

// Router returns the chi router with hub routes registered.
func (a *App) Router() chi.Router { return a.router }

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler { return a.router }

// Close shuts the session bus down and releases owned resources.
func (a *App) Close() error {
	a.Sessions.Shutdown()
	return a.resourceManager.Close()
}

// Config is an exported alias of the internal configuration struct.
type Config = config.Config

// LoadConfig wraps the internal loader for embedding consumers.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
