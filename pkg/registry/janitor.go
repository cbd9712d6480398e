package registry

import (
	"context"
	"time"

	"github.com/cuemby/weft/pkg/log"
)

// DefaultTTLMultiplier is applied to the registration interval to derive the
// staleness TTL: a peer missing three consecutive heartbeats is evicted.
const DefaultTTLMultiplier = 3

// RunJanitor evicts stale peer entries every interval until ctx is done.
// The sweep period is half the TTL so an entry is removed at most 1.5x TTL
// after its last refresh.
func (r *Registry) RunJanitor(ctx context.Context, ttl time.Duration) {
	logger := log.WithComponent("registry")
	sweep := ttl / 2
	if sweep <= 0 {
		sweep = ttl
	}

	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	logger.Info().Dur("ttl", ttl).Msg("registry janitor started")
	for {
		select {
		case <-ticker.C:
			evicted := r.EvictStale(ttl)
			for _, id := range evicted {
				logger.Warn().
					Str("cluster_id", id.String()).
					Dur("ttl", ttl).
					Msg("evicted stale cluster entry")
			}
		case <-ctx.Done():
			logger.Debug().Msg("registry janitor stopped")
			return
		}
	}
}
