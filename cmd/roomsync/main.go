// Package main provides the room coordination server binary: a websocket
// endpoint that tracks players per room, relays their messages, and keeps
// one authoritative host per occupied room.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/roomsync/internal/admin"
	"github.com/cory-johannsen/roomsync/internal/config"
	"github.com/cory-johannsen/roomsync/internal/frontend/websocket"
	"github.com/cory-johannsen/roomsync/internal/game/authority"
	"github.com/cory-johannsen/roomsync/internal/game/session"
	"github.com/cory-johannsen/roomsync/internal/gameserver"
	"github.com/cory-johannsen/roomsync/internal/journal"
	"github.com/cory-johannsen/roomsync/internal/observability"
	"github.com/cory-johannsen/roomsync/internal/server"
	"github.com/cory-johannsen/roomsync/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	healthInterval := flag.Duration("db-health-interval", 30*time.Second, "database health probe interval")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	policy, err := authority.PolicyByName(cfg.Session.ElectionPolicy)
	if err != nil {
		logger.Fatal("selecting election policy", zap.Error(err))
	}

	logger.Info("starting room coordination server",
		zap.String("addr", cfg.Transport.Addr()),
		zap.String("path", cfg.Transport.Path),
		zap.String("election_policy", policy.Name()),
		zap.Bool("journal", cfg.Database.Enabled),
	)

	lifecycle := server.NewLifecycle(logger, 0)

	var (
		observer session.Observer
		pool     *postgres.Pool
	)
	if cfg.Database.Enabled {
		result, err := postgres.Migrate(cfg.Database.DSN(), postgres.DirectionUp, 0)
		if err != nil {
			logger.Fatal("applying migrations", zap.Error(err))
		}
		logger.Info("migrations applied",
			zap.Uint("version", result.Version),
			zap.Bool("changed", result.Changed),
		)

		pool, err = postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}

		writer := journal.NewWriter(
			postgres.NewJournalRepository(pool.DB()),
			cfg.Journal.BufferSize,
			cfg.Journal.WriteTimeout,
			logger.Named("journal"),
		)
		observer = writer

		// The journal is stopped after the acceptor, so events from the
		// final disconnects are still flushed.
		journalCtx, stopJournal := context.WithCancel(ctx)
		journalDone := make(chan struct{})
		lifecycle.Add("journal", &server.FuncService{
			StartFn: func() error {
				defer close(journalDone)
				return writer.Run(journalCtx)
			},
			StopFn: func(stopCtx context.Context) {
				stopJournal()
				select {
				case <-journalDone:
				case <-stopCtx.Done():
				}
				pool.Close()
			},
		})
	}

	sessions := session.NewManager(session.Options{
		Policy:     policy,
		SendRoster: cfg.Session.SendRoster,
		Observer:   observer,
		Logger:     logger.Named("session"),
	})
	dispatcher := gameserver.NewDispatcher(sessions, cfg.Transport.SendQueueSize, logger.Named("dispatcher"))

	acceptor := websocket.NewAcceptor(cfg.Transport,
		websocket.SessionHandlerFunc(func(ctx context.Context, conn *websocket.Conn) error {
			return dispatcher.HandleSession(ctx, conn)
		}),
		sessions,
		logger.Named("websocket"),
	)

	if cfg.Session.StatsInterval > 0 {
		reporter := gameserver.NewReporter(sessions, cfg.Session.StatsInterval, logger.Named("stats"))
		reportCtx, stopReport := context.WithCancel(ctx)
		lifecycle.Add("stats", &server.FuncService{
			StartFn: func() error {
				reporter.Run(reportCtx)
				return nil
			},
			StopFn: func(context.Context) {
				stopReport()
			},
		})
	}

	if cfg.Admin.Enabled {
		health := admin.NewServer(cfg.Admin, cfg.Server.Name, logger.Named("admin"))
		watchCtx, stopWatch := context.WithCancel(ctx)
		lifecycle.Add("admin", &server.FuncService{
			StartFn: func() error {
				if pool != nil {
					go health.Watch(watchCtx, "postgres", *healthInterval, func(ctx context.Context) error {
						return pool.Health(ctx, 5*time.Second)
					})
				}
				return health.ListenAndServe()
			},
			StopFn: func(stopCtx context.Context) {
				stopWatch()
				health.Stop(stopCtx)
			},
		})
	}

	lifecycle.Add("websocket", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn: func(stopCtx context.Context) {
			if err := acceptor.Stop(stopCtx); err != nil {
				logger.Warn("stopping websocket acceptor", zap.Error(err))
			}
		},
	})

	logger.Info("room coordination server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
