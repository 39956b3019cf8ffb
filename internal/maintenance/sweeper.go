// Package maintenance runs the fixed-interval sweep: pending-call expiry,
// typing-indicator backstop, empty room and session collection, and the
// aggregate server-stats emission.
package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mossy-p/onair/internal/chat"
	"github.com/mossy-p/onair/internal/models"
	"github.com/mossy-p/onair/internal/registry"
	"github.com/mossy-p/onair/internal/session"
)

// DefaultInterval sits inside the 30-60s window the sweep is specified for.
const DefaultInterval = 45 * time.Second

type Sweeper struct {
	interval time.Duration
	sessions *session.Store
	rooms    *chat.Engine
	reg      *registry.Registry
	log      zerolog.Logger

	startedAt time.Time
}

func NewSweeper(interval time.Duration, sessions *session.Store, rooms *chat.Engine, reg *registry.Registry, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		interval:  interval,
		sessions:  sessions,
		rooms:     rooms,
		reg:       reg,
		log:       log.With().Str("component", "maintenance").Logger(),
		startedAt: time.Now(),
	}
}

// Run sweeps until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.SweepOnce(now)
		}
	}
}

// SweepOnce runs one maintenance pass and emits the aggregate snapshot.
func (s *Sweeper) SweepOnce(now time.Time) models.ServerStats {
	s.sessions.ExpirePendingCalls(now)
	s.rooms.Sweep(now)
	s.sessions.SweepIdle()

	broadcasts, listeners, calls := s.sessions.Aggregate()
	stats := models.ServerStats{
		ActiveBroadcasts: broadcasts,
		TotalConnections: s.reg.Count(),
		TotalListeners:   listeners,
		TotalActiveCalls: calls,
		UptimeSeconds:    now.Sub(s.startedAt).Seconds(),
	}
	s.reg.Broadcast(models.Event{Type: models.EventServerStats, Payload: stats})
	s.log.Debug().
		Int("broadcasts", stats.ActiveBroadcasts).
		Int("connections", stats.TotalConnections).
		Int("listeners", stats.TotalListeners).
		Int("calls", stats.TotalActiveCalls).
		Msg("sweep complete")
	return stats
}
