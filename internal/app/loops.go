package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motionlightd/internal/config"
	"github.com/dokzlo13/motionlightd/internal/eventbus"
	"github.com/dokzlo13/motionlightd/internal/ledger"
)

// runTicker publishes a tick right away and then every interval.
func runTicker(ctx context.Context, bus *eventbus.Bus, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	tick := func(at time.Time) {
		bus.Publish(eventbus.Event{Type: eventbus.EventTypeTick, At: at})
	}

	tick(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-ticker.C:
			tick(at)
		}
	}
}

// runLedgerCleanup periodically cleans up old ledger entries.
func runLedgerCleanup(ctx context.Context, l *ledger.Ledger, cfg config.LedgerConfig) {
	retention := cfg.RetentionPeriod.Duration()
	interval := cfg.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
