package messaging

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/internal/config"
)

const deadLetterRoutingKey = "dlq"

// DeclareTopology объявляет DLX, DLQ и рабочие очереди.
// Очередь задач отправляет отклоненные сообщения в DLX.
func DeclareTopology(ch *amqp.Channel, cfg config.RabbitMQConfig) error {
	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange '%s': %w", cfg.DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter queue '%s': %w", cfg.DeadLetterQueue, err)
	}
	if err := ch.QueueBind(cfg.DeadLetterQueue, deadLetterRoutingKey, cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead letter queue '%s': %w", cfg.DeadLetterQueue, err)
	}

	taskArgs := amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    cfg.DeadLetterExchange,
		"x-dead-letter-routing-key": deadLetterRoutingKey,
	}
	if _, err := ch.QueueDeclare(cfg.TaskQueue, true, false, false, false, taskArgs); err != nil {
		return fmt.Errorf("failed to declare task queue '%s': %w", cfg.TaskQueue, err)
	}
	if _, err := ch.QueueDeclare(cfg.ProgressQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare progress queue '%s': %w", cfg.ProgressQueue, err)
	}
	lazy := amqp.Table{"x-queue-mode": "lazy"}
	if _, err := ch.QueueDeclare(cfg.NotificationQueue, true, false, false, false, lazy); err != nil {
		return fmt.Errorf("failed to declare notification queue '%s': %w", cfg.NotificationQueue, err)
	}
	return nil
}

// Connect подключается к RabbitMQ, повторяя попытки с паузой.
func Connect(ctx context.Context, cfg config.RabbitMQConfig, maxAttempts int, logger *zap.Logger) (*amqp.Connection, error) {
	delay := time.Duration(cfg.ReconnectDelaySeconds) * time.Second
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err := amqp.Dial(cfg.URL)
		if err == nil {
			logger.Info("Connected to RabbitMQ", zap.Int("attempt", attempt))
			return conn, nil
		}
		lastErr = err
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", maxAttempts),
			zap.Duration("retryIn", delay),
			zap.Error(err),
		)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxAttempts, lastErr)
}
