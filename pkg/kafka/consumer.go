package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	topics        []string
	handler       MessageHandler
	logger        *zap.Logger
	attempts      int
	backoff       time.Duration

	readyOnce sync.Once
	ready     chan struct{}
}

type ConsumerConfig struct {
	Brokers           []string
	Topics            []string
	GroupID           string
	AutoCommit        bool
	CommitInterval    time.Duration
	SessionTimeout    time.Duration
	RebalanceStrategy string
	ProcessAttempts   int
	RetryBackoff      time.Duration
}

type ConsumerOption func(*Consumer)

// WithRetry runs a failing handler up to attempts times, waiting backoff*n after the
// n-th failure. The message is marked after the last attempt either way.
func WithRetry(attempts int, backoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.attempts = max(attempts, 1)
		c.backoff = backoff
	}
}

var balanceStrategies = map[string]func() sarama.BalanceStrategy{
	"":           sarama.NewBalanceStrategyRange,
	"range":      sarama.NewBalanceStrategyRange,
	"roundrobin": sarama.NewBalanceStrategyRoundRobin,
	"sticky":     sarama.NewBalanceStrategySticky,
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	config, err := consumerConfig(cfg)
	if err != nil {
		return nil, err
	}
	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("Kafka consumer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.Strings("topics", cfg.Topics),
		zap.String("group_id", cfg.GroupID),
	)

	return NewConsumerWith(consumerGroup, cfg.Topics, handler, logger, WithRetry(cfg.ProcessAttempts, cfg.RetryBackoff)), nil
}

// NewConsumerWith wraps an existing consumer group.
func NewConsumerWith(group sarama.ConsumerGroup, topics []string, handler MessageHandler, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumerGroup: group,
		topics:        topics,
		handler:       handler,
		logger:        logger,
		attempts:      1,
		ready:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func consumerConfig(cfg ConsumerConfig) (*sarama.Config, error) {
	strategy, ok := balanceStrategies[cfg.RebalanceStrategy]
	if !ok {
		return nil, fmt.Errorf("unknown rebalance strategy %q", cfg.RebalanceStrategy)
	}

	config := sarama.NewConfig()
	config.Version = sarama.V3_3_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{strategy()}

	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommit
	if cfg.CommitInterval > 0 {
		config.Consumer.Offsets.AutoCommit.Interval = cfg.CommitInterval
	}
	if cfg.SessionTimeout > 0 {
		config.Consumer.Group.Session.Timeout = cfg.SessionTimeout
		config.Consumer.Group.Heartbeat.Interval = cfg.SessionTimeout / 3
	}
	return config, nil
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	go func() {
		for err := range c.consumerGroup.Errors() {
			c.logger.Error("Consumer group error", zap.Error(err))
		}
	}()

	for {
		// Consume блокируется до rebalance или закрытия context
		if err := c.consumerGroup.Consume(ctx, c.topics, c); err != nil {
			c.logger.Error("Error from consumer", zap.Error(err))
			if err == sarama.ErrClosedConsumerGroup {
				return err
			}
		}

		if ctx.Err() != nil {
			c.logger.Info("Context cancelled, stopping consumer")
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.consumerGroup.Close(); err != nil {
		c.logger.Error("Failed to close consumer group", zap.Error(err))
		return err
	}
	c.logger.Info("Kafka consumer closed")
	return nil
}

// Setup вызывается при старте новой session (после rebalance)
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer group rebalanced")
	c.readyOnce.Do(func() { close(c.ready) })
	return nil
}

// Cleanup вызывается в конце session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из конкретной партиции. Ошибка обработчика не
// останавливает партицию: после последней попытки сообщение логируется и помечается.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			c.logger.Debug("Message received",
				zap.String("topic", message.Topic),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.String("key", string(message.Key)),
			)

			if !c.process(session.Context(), message) {
				return nil
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process reports false when the session ended before the message was handled; such a
// message stays unmarked and is redelivered.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, message.Key, message.Value)
		if err == nil {
			return true
		}
		if attempt >= c.attempts {
			c.logger.Error("Failed to process message",
				zap.Error(err),
				zap.String("topic", message.Topic),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.Int("attempts", attempt),
			)
			return true
		}

		c.logger.Warn("Retrying message", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-time.After(time.Duration(attempt) * c.backoff):
		case <-ctx.Done():
			return false
		}
	}
}

// Ready закрывается после первого rebalance.
func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}
