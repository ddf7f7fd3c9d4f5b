package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/pokegambler-engine/internal/config"
	"github.com/pokegambler-engine/internal/domain"
)

// emitQueueSize bounds how many events may wait for the broker before
// Emit starts dropping.
const emitQueueSize = 256

// Producer publishes match lifecycle events to Kafka. It satisfies
// events.Emitter; messages are keyed by match id so one match's events
// stay ordered within a partition. Publishing happens on a dedicated
// goroutine because SendMessage waits for broker acks and a slow broker
// must never stall a match.
type Producer struct {
	config   *config.KafkaConfig
	producer sarama.SyncProducer
	logger   *slog.Logger

	queue     chan *sarama.ProducerMessage
	drained   chan struct{}
	closeOnce sync.Once
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	return newProducer(cfg, producer, logger), nil
}

func newProducer(cfg *config.KafkaConfig, sp sarama.SyncProducer, logger *slog.Logger) *Producer {
	p := &Producer{
		config:   cfg,
		producer: sp,
		logger:   logger,
		queue:    make(chan *sarama.ProducerMessage, emitQueueSize),
		drained:  make(chan struct{}),
	}
	go p.publishLoop()
	return p
}

// Close drains the queued events, then shuts the producer down.
func (p *Producer) Close() error {
	p.closeOnce.Do(func() { close(p.queue) })
	<-p.drained
	return p.producer.Close()
}

// Emit queues a match event for publication and returns immediately.
// Publishing is best-effort: a broker outage must never fail a
// settlement, so errors are logged and a full queue drops the event.
func (p *Producer) Emit(ctx context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(event.MatchID),
		Value: sarama.ByteEncoder(payload),
	}
	select {
	case p.queue <- msg:
	default:
		p.logger.Warn("event queue full, dropping event",
			"type", event.Type,
			"match_id", event.MatchID,
		)
	}
}

// publishLoop is the only caller of SendMessage. It runs until Close
// closes the queue and signals drained once the backlog is flushed.
func (p *Producer) publishLoop() {
	defer close(p.drained)
	for msg := range p.queue {
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			p.logger.Error("failed to publish event",
				"topic", msg.Topic,
				"key", msg.Key,
				"error", err,
			)
			continue
		}
		p.logger.Debug("event published",
			"topic", msg.Topic,
			"partition", partition,
			"offset", offset,
		)
	}
}
