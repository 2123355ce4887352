package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/stone-miner/internal/config"
	"github.com/stone-miner/internal/domain"
)

// AutoTapHandler credits automated tap batches
type AutoTapHandler interface {
	SubmitAutoTaps(ctx context.Context, sub domain.TapSubmission) (domain.StateView, error)
}

// Consumer consumes auto-tap messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       AutoTapHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler AutoTapHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return newConsumer(cfg, handler, logger, consumerGroup), nil
}

func newConsumer(cfg *config.KafkaConfig, handler AutoTapHandler, logger *slog.Logger, group sarama.ConsumerGroup) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// decodeSubmission parses and validates one message value
func decodeSubmission(value []byte) (domain.TapSubmission, error) {
	var sub domain.TapSubmission
	if err := json.Unmarshal(value, &sub); err != nil {
		return sub, fmt.Errorf("decode auto tap: %w", err)
	}
	sub.PlayerID = strings.TrimSpace(sub.PlayerID)
	if sub.PlayerID == "" || sub.StonesEarned <= 0 {
		return sub, fmt.Errorf("auto tap for %q: %w", sub.PlayerID, domain.ErrInvalidInput)
	}
	return sub, nil
}

// coalesce sums a batch per player, keeping first-seen order.
func coalesce(batch []domain.TapSubmission) []domain.TapSubmission {
	index := make(map[string]int, len(batch))
	out := make([]domain.TapSubmission, 0, len(batch))
	for _, sub := range batch {
		// Sums that would overflow stay separate so each claim is judged alone.
		if i, ok := index[sub.PlayerID]; ok && out[i].StonesEarned <= math.MaxInt64-sub.StonesEarned {
			out[i].StonesEarned += sub.StonesEarned
			if sub.SubmittedAt.After(out[i].SubmittedAt) {
				out[i].SubmittedAt = sub.SubmittedAt
			}
			continue
		}
		index[sub.PlayerID] = len(out)
		out = append(out, sub)
	}
	return out
}

// processBatch credits every player in the batch. Rejections are final;
// other failures are retried up to RetryAttempts times.
func (c *Consumer) processBatch(ctx context.Context, batch []domain.TapSubmission) (credited, failed int) {
	for _, sub := range coalesce(batch) {
		if err := c.submit(ctx, sub); err != nil {
			failed++
			c.logger.Warn("auto tap not credited",
				"player_id", sub.PlayerID,
				"stones", sub.StonesEarned,
				"error", err,
			)
			continue
		}
		credited++
	}
	return credited, failed
}

func (c *Consumer) submit(ctx context.Context, sub domain.TapSubmission) error {
	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if _, err = c.handler.SubmitAutoTaps(ctx, sub); err == nil {
			return nil
		}
		if domain.IsRejection(err) || domain.IsNotFoundError(err) {
			return err
		}
		if i < attempts-1 {
			select {
			case <-time.After(c.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are
// marked only after the batch holding them was handed to the economy.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := h.consumer
	cfg := c.config
	batch := make([]domain.TapSubmission, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			credited, failed := c.processBatch(ctx, batch)
			cancel()
			c.logger.Debug("processed auto tap batch",
				"batch_size", len(batch),
				"credited", credited,
				"failed", failed,
			)
			batch = batch[:0]
		}
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			last = message

			sub, err := decodeSubmission(message.Value)
			if err != nil {
				c.logger.Warn("dropping auto tap message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			batch = append(batch, sub)
			if len(batch) >= cfg.BatchSize {
				flush()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
