package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/models"
)

const appID = "storybook-server"

// TaskPublisher ставит задачи генерации в очередь воркера.
type TaskPublisher interface {
	PublishGenerationTask(ctx context.Context, payload GenerationTaskPayload) error
}

// ProgressPublisher пересылает события прогресса из воркера в API.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, event models.ProgressEvent) error
}

// Notifier отправляет уведомление о завершении задачи.
type Notifier interface {
	Notify(ctx context.Context, payload NotificationPayload) error
}

// channel - часть *amqp.Channel, нужная издателю.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher публикует все сообщения сервиса через один AMQP канал.
// Канал не потокобезопасен для публикации, поэтому вызовы сериализуются.
type Publisher struct {
	ch     channel
	cfg    config.RabbitMQConfig
	now    func() time.Time
	logger *zap.Logger
	mu     sync.Mutex
}

// NewPublisher открывает канал, объявляет топологию и возвращает издателя.
func NewPublisher(conn *amqp.Connection, cfg config.RabbitMQConfig, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publisher channel: %w", err)
	}
	if err := DeclareTopology(ch, cfg); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return newPublisher(ch, cfg, logger), nil
}

func newPublisher(ch channel, cfg config.RabbitMQConfig, logger *zap.Logger) *Publisher {
	return &Publisher{ch: ch, cfg: cfg, now: time.Now, logger: logger.Named("Publisher")}
}

// PublishGenerationTask публикует задачу генерации.
func (p *Publisher) PublishGenerationTask(ctx context.Context, payload GenerationTaskPayload) error {
	if err := p.publish(ctx, p.cfg.TaskQueue, payload.TaskID, payload); err != nil {
		return err
	}
	p.logger.Info("Generation task published", zap.String("taskID", payload.TaskID), zap.String("queue", p.cfg.TaskQueue))
	return nil
}

// PublishProgress публикует событие прогресса. У события должен быть TaskID.
func (p *Publisher) PublishProgress(ctx context.Context, event models.ProgressEvent) error {
	if event.TaskID == "" {
		return fmt.Errorf("%w: progress event without task id", models.ErrInvalidInput)
	}
	messageID := fmt.Sprintf("%s-%s-%d", event.TaskID, event.Stage, event.Percent)
	return p.publish(ctx, p.cfg.ProgressQueue, messageID, event)
}

// Notify публикует уведомление о завершении задачи.
func (p *Publisher) Notify(ctx context.Context, payload NotificationPayload) error {
	if err := p.publish(ctx, p.cfg.NotificationQueue, payload.TaskID+"-notif", payload); err != nil {
		return err
	}
	p.logger.Info("Notification published",
		zap.String("taskID", payload.TaskID),
		zap.String("status", string(payload.Status)),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, queue, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", messageID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    p.now(),
		AppId:        appID,
		MessageId:    messageID,
	})
	if err != nil {
		messagesPublishedTotal.WithLabelValues(queue, "error").Inc()
		p.logger.Error("Failed to publish message", zap.String("queue", queue), zap.String("messageID", messageID), zap.Error(err))
		return fmt.Errorf("failed to publish message %s to '%s': %w", messageID, queue, err)
	}
	messagesPublishedTotal.WithLabelValues(queue, "success").Inc()
	return nil
}

// Close закрывает канал издателя.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
