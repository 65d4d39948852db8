package gameserver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/roomsync/internal/game/session"
)

// StatsSource supplies registry snapshots.
type StatsSource interface {
	Stats() session.Stats
}

// Reporter logs a registry summary at a fixed interval.
type Reporter struct {
	interval time.Duration
	source   StatsSource
	logger   *zap.Logger
}

// NewReporter returns a Reporter that logs every interval.
//
// Precondition: interval must be > 0; source and logger must be non-nil.
func NewReporter(source StatsSource, interval time.Duration, logger *zap.Logger) *Reporter {
	if interval <= 0 {
		panic("gameserver.NewReporter: interval must be > 0")
	}
	return &Reporter{
		interval: interval,
		source:   source,
		logger:   logger,
	}
}

// Run logs one summary per interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report logs the current summary.
func (r *Reporter) Report() {
	stats := r.source.Stats()
	hosted := 0
	for _, room := range stats.Rooms {
		if room.HostID != "" {
			hosted++
		}
	}
	r.logger.Info("registry summary",
		zap.Int("players", stats.Players),
		zap.Int("rooms", len(stats.Rooms)),
		zap.Int("hosted_rooms", hosted),
		zap.String("policy", stats.Policy),
	)
}
