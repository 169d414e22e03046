package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
)

// ErrShuttingDown - сервер больше не принимает фоновые задачи.
var ErrShuttingDown = errors.New("server is shutting down")

const jobEventBuffer = 16

// Job - фоновая работа задачи. Возвращает id истории, к которой относится результат.
type Job func(ctx context.Context, events chan<- models.ProgressEvent) (string, error)

// Runner выполняет задачи в горутинах процесса и пишет их прогресс в TaskManager.
type Runner struct {
	tasks   *TaskManager
	timeout time.Duration
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// mu защищает closed и wg.Add от гонки с Shutdown.
	mu     sync.Mutex
	closed bool
}

// NewRunner создает исполнитель; timeout ограничивает одну задачу (0 - без ограничения).
func NewRunner(tasks *TaskManager, timeout time.Duration, logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		tasks:   tasks,
		timeout: timeout,
		logger:  logger.Named("Runner"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Go запускает job для уже созданной задачи taskID.
func (r *Runner) Go(taskID string, job Job) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.run(taskID, job)
	}()
	return nil
}

func (r *Runner) run(taskID string, job Job) {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	events := make(chan models.ProgressEvent, jobEventBuffer)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for event := range events {
			r.tasks.Apply(taskID, event)
		}
	}()

	storyID, err := job(ctx, events)
	close(events)
	<-forwarded

	if err != nil {
		r.logger.Error("Background task failed", zap.String("taskID", taskID), zap.Error(err))
		r.tasks.Fail(taskID, err)
		return
	}
	r.tasks.Complete(taskID, storyID)
}

// Shutdown отменяет выполняющиеся задачи и ждет их завершения.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks did not stop in time: %w", ctx.Err())
	}
}

// GenerateStoryRequest - тело запроса на генерацию истории.
type GenerateStoryRequest struct {
	UserID     string             `json:"userId,omitempty"`
	Config     models.StoryConfig `json:"config"`
	Characters []models.Character `json:"characters" validate:"required,min=1,dive"`
}

// StoryDispatcher запускает полную генерацию истории для зарегистрированной задачи.
type StoryDispatcher interface {
	Dispatch(ctx context.Context, taskID string, req GenerateStoryRequest) error
}

// LocalDispatcher генерирует историю в процессе API.
type LocalDispatcher struct {
	runner    *Runner
	generator StoryGenerator
}

// NewLocalDispatcher создает диспетчер, работающий через Runner.
func NewLocalDispatcher(runner *Runner, generator StoryGenerator) *LocalDispatcher {
	return &LocalDispatcher{runner: runner, generator: generator}
}

// Dispatch запускает генерацию в фоне. ctx запроса на генерацию не влияет.
func (d *LocalDispatcher) Dispatch(_ context.Context, taskID string, req GenerateStoryRequest) error {
	return d.runner.Go(taskID, func(ctx context.Context, events chan<- models.ProgressEvent) (string, error) {
		story, err := d.generator.GenerateCompleteStory(ctx, req.Config, req.Characters, events)
		if err != nil {
			return "", err
		}
		return story.ID, nil
	})
}

// QueueDispatcher отправляет генерацию воркеру через RabbitMQ.
// Прогресс и результат приходят обратно через очереди прогресса и уведомлений.
type QueueDispatcher struct {
	publisher messaging.TaskPublisher
	now       func() time.Time
}

// NewQueueDispatcher создает диспетчер поверх издателя задач.
func NewQueueDispatcher(publisher messaging.TaskPublisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher, now: time.Now}
}

// Dispatch публикует задачу генерации.
func (d *QueueDispatcher) Dispatch(ctx context.Context, taskID string, req GenerateStoryRequest) error {
	return d.publisher.PublishGenerationTask(ctx, messaging.GenerationTaskPayload{
		TaskID:      taskID,
		UserID:      req.UserID,
		Config:      req.Config,
		Characters:  req.Characters,
		RequestedAt: d.now(),
	})
}

// ProgressMessageHandler применяет события прогресса воркера к задачам.
func ProgressMessageHandler(tasks *TaskManager) messaging.Handler {
	return func(_ context.Context, body []byte) error {
		event, err := messaging.DecodeProgressEvent(body)
		if err != nil {
			return err
		}
		tasks.Apply(event.TaskID, event)
		return nil
	}
}

// NotificationMessageHandler завершает задачи по уведомлениям воркера.
func NotificationMessageHandler(tasks *TaskManager) messaging.Handler {
	return func(_ context.Context, body []byte) error {
		payload, err := messaging.DecodeNotification(body)
		if err != nil {
			return err
		}
		if payload.Status == messaging.NotificationStatusSuccess {
			tasks.Complete(payload.TaskID, payload.StoryID)
			return nil
		}
		tasks.Fail(payload.TaskID, errors.New(payload.ErrorDetails))
		return nil
	}
}
