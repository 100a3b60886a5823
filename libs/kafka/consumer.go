package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

const retryBackoff = 500 * time.Millisecond

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	maxAttempts  int
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:       group,
		logger:      logger,
		maxAttempts: 3,
	}, nil
}

// WithDLQ routes messages that fail maxAttempts times, or fail with a DLQError,
// to topic instead of blocking the partition.
func (c *Consumer) WithDLQ(publisher Publisher, topic string, maxAttempts int) *Consumer {
	c.dlqPublisher = publisher
	c.dlqTopic = topic
	if maxAttempts > 0 {
		c.maxAttempts = maxAttempts
	}
	return c
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: newRetryTracker(c.maxAttempts, 10*time.Minute),
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !h.process(session, msg) {
			return nil
		}
	}
	return nil
}

// process returns false when the session ended before the message was settled.
// A message is settled once handled, or once written to the dead letter topic.
func (h *consumerGroupHandler) process(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) bool {
	ctx := contextFromMessage(session.Context(), msg)
	key := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	log := h.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	for {
		err := h.handler.HandleMessage(ctx, msg)
		if err == nil {
			h.retryTracker.reset(key)
			session.MarkMessage(msg, "")
			return true
		}

		attempts := h.retryTracker.inc(key)
		var poison *DLQError
		if !errors.As(err, &poison) && attempts < h.retryTracker.max {
			log.WarnContext(ctx, "kafka message retry", "attempt", attempts, "error", err)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(retryBackoff):
			}
			continue
		}

		if poison == nil {
			poison = &DLQError{Err: err, Reason: "max_attempts"}
		}
		log.ErrorContext(ctx, "kafka message dead-lettered", "attempts", attempts, "reason", poison.Reason, "error", err)
		if h.sendToDLQ(ctx, msg, poison, attempts) {
			h.retryTracker.reset(key)
			session.MarkMessage(msg, "")
		}
		return true
	}
}

func (h *consumerGroupHandler) sendToDLQ(ctx context.Context, msg *sarama.ConsumerMessage, cause *DLQError, attempts int) bool {
	if h.dlqPublisher == nil || h.dlqTopic == "" {
		return false
	}
	record := deadLetterFromMessage(msg, cause, attempts)
	if _, _, err := h.dlqPublisher.PublishJSON(ctx, h.dlqTopic, string(msg.Key), record); err != nil {
		h.logger.ErrorContext(ctx, "dead letter publish failed", "topic", h.dlqTopic, "error", err)
		return false
	}
	return true
}

type retryEntry struct {
	attempts int
	seen     time.Time
}

type retryTracker struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	entries map[string]retryEntry
}

func newRetryTracker(max int, ttl time.Duration) *retryTracker {
	if max <= 0 {
		max = 1
	}
	return &retryTracker{max: max, ttl: ttl, entries: make(map[string]retryEntry)}
}

func (r *retryTracker) inc(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for k, e := range r.entries {
		if now.Sub(e.seen) > r.ttl {
			delete(r.entries, k)
		}
	}
	e := r.entries[key]
	e.attempts++
	e.seen = now
	r.entries[key] = e
	return e.attempts
}

func (r *retryTracker) reset(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}
