package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/pokegambler-engine/internal/config"
	"github.com/pokegambler-engine/internal/domain"
	"github.com/pokegambler-engine/internal/kafka"
)

// event-logger tails the match event topic and prints every lifecycle
// event as structured JSON. Useful for watching a running cluster and as
// a consumer-group smoke test.
func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-events", "Kafka topic")
	groupID := flag.String("group", "event-logger", "Consumer group ID")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := &config.KafkaConfig{
		Brokers: strings.Split(*brokers, ","),
		Topic:   *topic,
		GroupID: *groupID,
	}

	var total atomic.Int64
	handler := kafka.EventHandlerFunc(func(ctx context.Context, event domain.Event) error {
		total.Add(1)
		logger.Info("match event",
			"type", event.Type,
			"match_id", event.MatchID,
			"timestamp", event.Timestamp,
			"data", event.Data,
		)
		return nil
	})

	consumer, err := kafka.NewConsumer(cfg, handler, logger)
	if err != nil {
		logger.Error("failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}

	if err := consumer.Start(); err != nil {
		logger.Error("failed to start Kafka consumer", "error", err)
		os.Exit(1)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down event logger...")
	if err := consumer.Stop(); err != nil {
		logger.Error("failed to stop Kafka consumer", "error", err)
	}
	logger.Info("event logger stopped", "events_logged", total.Load())
}
