package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pokegambler-engine/internal/config"
	"github.com/pokegambler-engine/internal/domain"
	"github.com/pokegambler-engine/internal/engine"
	"github.com/pokegambler-engine/internal/events"
	"github.com/pokegambler-engine/internal/handler"
	"github.com/pokegambler-engine/internal/kafka"
	"github.com/pokegambler-engine/internal/ledger"
	"github.com/pokegambler-engine/internal/postgres"
	"github.com/pokegambler-engine/internal/redis"
	"github.com/pokegambler-engine/internal/registry"
	"github.com/pokegambler-engine/internal/service"
	"github.com/pokegambler-engine/internal/websocket"
	"github.com/pokegambler-engine/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis match locks
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	lockService, err := redis.NewLockService(&cfg.Redis, cfg.Engine.LockTTL, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer lockService.Close()
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize Kafka producer for match events
	var kafkaProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka producer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaProducer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without Kafka", "error", err)
			kafkaProducer = nil
		} else {
			logger.Info("Kafka producer started successfully")
		}
	}

	// Fan match events out to websocket subscribers, Kafka and the
	// postgres archive
	archiveEmitter := events.EmitterFunc(func(ctx context.Context, event domain.Event) {
		if err := postgresRepo.RecordEvent(ctx, event); err != nil {
			logger.Warn("failed to archive match event",
				"type", event.Type, "match_id", event.MatchID, "error", err)
		}
	})
	var emitter events.Emitter
	if kafkaProducer != nil {
		emitter = events.NewMulti(wsHub, kafkaProducer, archiveEmitter)
	} else {
		emitter = events.NewMulti(wsHub, archiveEmitter)
	}

	// Initialize the ledger and match engine
	led := ledger.New(postgresRepo, logger)

	engineCfg := engine.Config{
		JoinWindow:   cfg.Engine.JoinWindow,
		TurnTimeout:  cfg.Engine.TurnTimeout,
		MatchTimeout: cfg.Engine.MatchTimeout,
	}
	deps := engine.Deps{
		Profiles: postgresRepo,
		Locks:    lockService,
		Ledger:   led,
		Emitter:  emitter,
		Logger:   logger,
	}
	matchRegistry := registry.New(engineCfg, deps, logger)

	// New websocket subscribers receive the current state of the match
	// before its event stream
	wsHub.SetSnapshot(func(matchID string) (domain.MatchView, bool) {
		m, err := matchRegistry.Lookup(matchID)
		if err != nil {
			return domain.MatchView{}, false
		}
		return m.View(), true
	})

	// Initialize services
	gameService := service.NewGameService(
		matchRegistry,
		postgresRepo,
		led,
		postgresRepo,
		&cfg.Engine,
		logger,
	)

	// Initialize sweep worker
	sweepWorker := worker.NewSweepWorker(
		matchRegistry,
		engineCfg,
		&cfg.Sweep,
		logger,
	)
	if cfg.Sweep.Enabled {
		if err := sweepWorker.Start(ctx); err != nil {
			logger.Error("failed to start sweep worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(gameService, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka producer
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.Error("failed to stop Kafka producer", "error", err)
		}
	}

	// Stop sweep worker
	if err := sweepWorker.Stop(); err != nil {
		logger.Error("failed to stop sweep worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
