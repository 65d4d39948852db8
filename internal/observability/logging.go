// Package observability provides logging utilities and shared log field
// constructors.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/roomsync/internal/config"
)

// NewLogger creates a structured logger from the given logging configuration.
// Every entry carries the instance name so logs from several relays can be
// told apart after aggregation.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig, instance string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
		// Per-frame debug entries are bursty; sampling would hide the drop
		// that explains a client's complaint.
		zapCfg.Sampling = nil
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	if instance != "" {
		logger = logger.With(zap.String("instance", instance))
	}
	return logger, nil
}

// PlayerID is the log field naming a connection's player.
func PlayerID(id string) zap.Field { return zap.String("player_id", id) }

// RoomID is the log field naming a room.
func RoomID(id string) zap.Field { return zap.String("room_id", id) }

// RemoteAddr is the log field naming a peer address.
func RemoteAddr(addr string) zap.Field { return zap.String("remote_addr", addr) }
