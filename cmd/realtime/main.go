// Command realtime runs the collaboration WebSocket server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/easyspace-ai/easygrid-sub002/internal/adapter"
	"github.com/easyspace-ai/easygrid-sub002/internal/config"
	"github.com/easyspace-ai/easygrid-sub002/internal/events"
	"github.com/easyspace-ai/easygrid-sub002/internal/logging"
	"github.com/easyspace-ai/easygrid-sub002/internal/presence"
	"github.com/easyspace-ai/easygrid-sub002/internal/pubsub"
	"github.com/easyspace-ai/easygrid-sub002/internal/server"
	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb"
	"github.com/easyspace-ai/easygrid-sub002/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New(logging.Config{Level: "info", Format: "json"})
		fallback.Fatal().Err(err).Msg("Configuration load failed")
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Postgres connection failed")
		}
		st = pg
		logger.Info().Msg("Using postgres document store")
	} else {
		st = store.NewMemoryStore()
		logger.Info().Msg("Using in-memory document store")
	}

	var bus pubsub.PubSub
	if cfg.PubSubDriver == config.PubSubDriverRedis {
		redisBus, err := pubsub.NewRedisPubSub(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Redis connection failed")
		}
		bus = redisBus
		logger.Info().Msg("Using redis op bus")
	} else {
		bus = pubsub.NewMemoryPubSub(cfg.SubscriberQueueSize, logger)
		logger.Info().Msg("Using in-memory op bus")
	}

	var eventBus events.Bus = events.NopBus{}
	if cfg.NATSURL != "" {
		natsBus, err := events.NewNATSBus(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("NATS connection failed")
		}
		eventBus = natsBus
		logger.Info().Str("url", cfg.NATSURL).Msg("Business events enabled")
	}

	presenceMgr := presence.NewManager(cfg.PresenceTTL, logger)
	docAdapter := adapter.NewDispatchAdapter(st, logger)

	svc := sharedb.NewService(sharedb.Options{
		MaxConnections:        cfg.MaxConnections,
		MaxConnectionsPerUser: cfg.MaxConnectionsPerUser,
		PingInterval:          cfg.PingInterval,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		HandshakeTimeout:      cfg.HandshakeTimeout,
		CleanupInterval:       cfg.CleanupInterval,
		InactiveAfter:         cfg.InactiveAfter,
		MessageRateLimit:      cfg.MessageRateLimit,
		MessageRateBurst:      cfg.MessageRateBurst,
	}, docAdapter, bus, presenceMgr, eventBus, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.New(svc, logger),
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("Realtime server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Session shutdown incomplete")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := bus.Close(); err != nil {
		logger.Warn().Err(err).Msg("Op bus close failed")
	}
	presenceMgr.Close()
	eventBus.Close()
	if err := docAdapter.Close(); err != nil {
		logger.Warn().Err(err).Msg("Store close failed")
	}
	logger.Info().Msg("Shutdown complete")
}
