package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"kringlewatch/internal/config"
)

// Consumer reads signal messages from a durable queue.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     config.RabbitMQConfig
	logger  zerolog.Logger
}

// NewConsumer dials RabbitMQ and prepares a channel with the configured prefetch.
func NewConsumer(cfg config.RabbitMQConfig, logger zerolog.Logger) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq.url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := channel.Qos(cfg.PrefetchCount, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		cfg:     cfg,
		logger:  logger.With().Str("component", "ingest_consumer").Str("queue", cfg.Queue).Logger(),
	}, nil
}

// Close releases the channel and connection.
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// Run consumes until ctx is cancelled or the broker closes the delivery channel.
// Invalid messages are dropped; storage failures are requeued.
func (c *Consumer) Run(ctx context.Context, h *Handler) error {
	if _, err := c.channel.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.cfg.Queue,
		c.cfg.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.logger.Info().Msg("consuming signals")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.deliver(ctx, h, msg)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, h *Handler, msg amqp.Delivery) {
	handleCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := h.Handle(handleCtx, msg.Body)
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.Is(err, ErrInvalidMessage):
		c.logger.Warn().Err(err).Msg("dropping invalid signal message")
		_ = msg.Nack(false, false)
	default:
		c.logger.Error().Err(err).Msg("failed to store signal, requeueing")
		_ = msg.Nack(false, true)
	}
}
