package prices

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/anypay/eventhub/internal/metrics"
)

// Updater periodically repopulates the cache. Errors are logged by the cache;
// the loop never exits on failure, only on context cancellation.
type Updater struct {
	cache    *Cache
	interval time.Duration
	metrics  *metrics.Metrics // optional
}

// NewUpdater constructs an updater with the given tick interval. m may be nil.
func NewUpdater(cache *Cache, interval time.Duration, m *metrics.Metrics) *Updater {
	return &Updater{cache: cache, interval: interval, metrics: m}
}

// Run refreshes once immediately, then on every tick until ctx is cancelled.
func (u *Updater) Run(ctx context.Context) {
	if err := u.refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("prices.initial_refresh_failed")
	}

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("prices.updater_stopped")
			return
		case <-ticker.C:
			// stale-on-failure: Refresh keeps prior entries
			_ = u.refresh(ctx)
		}
	}
}

func (u *Updater) refresh(ctx context.Context) error {
	err := u.cache.Refresh(ctx)
	if u.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		u.metrics.PriceRefreshes.WithLabelValues(status).Inc()
	}
	return err
}
