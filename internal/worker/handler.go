package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
)

const eventBuffer = 16

// StoryGenerator - полный пайплайн генерации истории.
type StoryGenerator interface {
	GenerateCompleteStory(ctx context.Context, cfg models.StoryConfig, characters []models.Character, events chan<- models.ProgressEvent) (*models.GeneratedStory, error)
}

// TaskHandler обрабатывает задачи генерации из очереди.
type TaskHandler struct {
	generator StoryGenerator
	progress  messaging.ProgressPublisher
	notifier  messaging.Notifier
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewTaskHandler создает обработчик; timeout ограничивает одну генерацию (0 - без ограничения).
func NewTaskHandler(
	generator StoryGenerator,
	progress messaging.ProgressPublisher,
	notifier messaging.Notifier,
	timeout time.Duration,
	logger *zap.Logger,
) *TaskHandler {
	return &TaskHandler{
		generator: generator,
		progress:  progress,
		notifier:  notifier,
		timeout:   timeout,
		now:       time.Now,
		logger:    logger.Named("TaskHandler"),
	}
}

// Handle обрабатывает одно сообщение с задачей.
// Битое сообщение возвращает ошибку и уходит в DLQ. Неуспешная генерация
// подтверждается: об ошибке сообщает уведомление. Остановка воркера возвращает задачу в очередь.
func (h *TaskHandler) Handle(ctx context.Context, body []byte) error {
	tasksReceived.Inc()
	start := h.now()

	payload, err := messaging.DecodeGenerationTask(body)
	if err != nil {
		tasksFailed.WithLabelValues("malformed").Inc()
		return err
	}
	log := h.logger.With(zap.String("taskID", payload.TaskID), zap.String("userID", payload.UserID))
	log.Info("Processing generation task",
		zap.String("theme", string(payload.Config.Theme)),
		zap.Int("characters", len(payload.Characters)),
	)

	genCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	events := make(chan models.ProgressEvent, eventBuffer)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for event := range events {
			event.TaskID = payload.TaskID
			if err := h.progress.PublishProgress(ctx, event); err != nil {
				log.Warn("Failed to publish progress", zap.String("stage", string(event.Stage)), zap.Error(err))
			}
		}
	}()

	story, genErr := h.generator.GenerateCompleteStory(genCtx, payload.Config, payload.Characters, events)
	close(events)
	<-forwarded

	if genErr != nil && ctx.Err() != nil {
		tasksFailed.WithLabelValues("interrupted").Inc()
		log.Warn("Generation interrupted by shutdown", zap.Error(genErr))
		return fmt.Errorf("%w: task %s: %w", messaging.ErrRequeue, payload.TaskID, genErr)
	}

	notification := messaging.NotificationPayload{TaskID: payload.TaskID, UserID: payload.UserID}
	status := "success"
	if genErr != nil {
		status = "error"
		notification.Status = messaging.NotificationStatusError
		notification.ErrorDetails = genErr.Error()
		tasksFailed.WithLabelValues(failureReason(genErr)).Inc()
		log.Error("Story generation failed", zap.Error(genErr))
	} else {
		notification.Status = messaging.NotificationStatusSuccess
		notification.StoryID = story.ID
		notification.Title = story.Title
		tasksSucceeded.Inc()
	}
	taskDuration.WithLabelValues(status).Observe(h.now().Sub(start).Seconds())

	if err := h.notifier.Notify(ctx, notification); err != nil {
		return fmt.Errorf("failed to notify about task %s: %w", payload.TaskID, err)
	}
	log.Info("Generation task processed", zap.String("status", status), zap.String("storyID", notification.StoryID))
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, models.ErrGenerationCancelled):
		return "cancelled"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, models.ErrInvalidAIResponse):
		return "invalid_ai_response"
	case errors.Is(err, models.ErrProviderFailure):
		return "provider_error"
	default:
		return "generation_error"
	}
}
