package messaging

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	// ErrDeliveriesClosed - брокер закрыл канал доставки.
	ErrDeliveriesClosed = errors.New("deliveries channel closed")
	// ErrRequeue - обработка прервана остановкой, сообщение возвращается в очередь.
	ErrRequeue = errors.New("message should be requeued")
)

// Handler обрабатывает тело одного сообщения.
// Ошибка с ErrRequeue возвращает сообщение в очередь, любая другая отправляет его в DLQ.
type Handler func(ctx context.Context, body []byte) error

// Consumer читает одну очередь и подтверждает сообщения вручную.
type Consumer struct {
	conn     *amqp.Connection
	queue    string
	tag      string
	prefetch int
	handler  Handler
	logger   *zap.Logger
}

// NewConsumer создает потребителя очереди.
func NewConsumer(conn *amqp.Connection, queue, tag string, prefetch int, handler Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:     conn,
		queue:    queue,
		tag:      tag,
		prefetch: prefetch,
		handler:  handler,
		logger:   logger.Named("Consumer").With(zap.String("queue", queue)),
	}
}

// Run потребляет сообщения до отмены ctx или закрытия канала брокером.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer on '%s': %w", c.queue, err)
	}
	c.logger.Info("Consumer started", zap.String("tag", c.tag), zap.Int("prefetch", c.prefetch))

	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(c.tag, false); err != nil {
				c.logger.Warn("Failed to cancel consumer", zap.Error(err))
			}
			c.logger.Info("Consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	log := c.logger.With(zap.String("messageID", d.MessageId), zap.Uint64("deliveryTag", d.DeliveryTag))
	err := c.handler(ctx, d.Body)
	if errors.Is(err, ErrRequeue) {
		messagesConsumedTotal.WithLabelValues(c.queue, "requeued").Inc()
		log.Warn("Message handling interrupted, requeueing", zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("Failed to requeue message", zap.Error(nackErr))
		}
		return
	}
	if err != nil {
		messagesConsumedTotal.WithLabelValues(c.queue, "rejected").Inc()
		log.Error("Message handling failed, sending to dead letter queue", zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("Failed to nack message", zap.Error(nackErr))
		}
		return
	}
	messagesConsumedTotal.WithLabelValues(c.queue, "acked").Inc()
	if err := d.Ack(false); err != nil {
		log.Error("Failed to ack message", zap.Error(err))
	}
}
