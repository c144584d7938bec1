package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"agitracker/api/internal/search"
)

// Resyncer rebuilds the search index from the tools table.
type Resyncer interface {
	ReindexAllFromPG(ctx context.Context) (search.ReindexReport, error)
}

// Reconcile resyncs the search index once immediately and then on every
// interval, repairing any drift the event stream missed. It returns when ctx
// is cancelled.
func Reconcile(ctx context.Context, resyncer Resyncer, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := resyncer.ReindexAllFromPG(ctx)
		switch {
		case errors.Is(err, search.ErrUnavailable):
			log.Warn().Msg("search: resync skipped, index unavailable")
		case err != nil:
			log.Error().Err(err).Msg("search: resync failed")
		default:
			log.Info().Int("indexed", report.Indexed).Int("removed", report.Removed).Msg("search: resync complete")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
