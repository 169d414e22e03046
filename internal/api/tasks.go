package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// TaskStatus - состояние фоновой задачи.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskKind - что именно генерирует задача.
type TaskKind string

const (
	TaskKindStory      TaskKind = "story"
	TaskKindCoverVideo TaskKind = "cover_video"
)

const subscriberBuffer = 32

// TaskSnapshot - текущее состояние задачи для клиента.
type TaskSnapshot struct {
	ID        string               `json:"taskId"`
	Kind      TaskKind             `json:"kind"`
	Status    TaskStatus           `json:"status"`
	Progress  models.ProgressEvent `json:"progress"`
	StoryID   string               `json:"storyId,omitempty"`
	Error     string               `json:"error,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// IsFinished - задача завершена успешно или с ошибкой.
func (s TaskSnapshot) IsFinished() bool {
	return s.Status == TaskStatusCompleted || s.Status == TaskStatusFailed
}

type trackedTask struct {
	snapshot    TaskSnapshot
	subscribers map[chan TaskSnapshot]struct{}
}

// TaskManager хранит состояние задач генерации и рассылает его подписчикам.
// Процент прогресса задачи только растет; медленный подписчик теряет
// промежуточные снимки, но финальный снимок получает всегда.
type TaskManager struct {
	mu     sync.RWMutex
	tasks  map[string]*trackedTask
	now    func() time.Time
	logger *zap.Logger
}

// NewTaskManager создает пустой реестр задач.
func NewTaskManager(logger *zap.Logger) *TaskManager {
	return &TaskManager{
		tasks:  make(map[string]*trackedTask),
		now:    time.Now,
		logger: logger.Named("TaskManager"),
	}
}

// Create регистрирует новую задачу и возвращает ее id.
func (m *TaskManager) Create(kind TaskKind) string {
	id := uuid.NewString()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id] = &trackedTask{
		snapshot: TaskSnapshot{
			ID:        id,
			Kind:      kind,
			Status:    TaskStatusPending,
			Progress:  models.ProgressEvent{TaskID: id, Message: "Waiting to start", Timestamp: now},
			CreatedAt: now,
			UpdatedAt: now,
		},
		subscribers: make(map[chan TaskSnapshot]struct{}),
	}
	tasksActive.Inc()
	return id
}

// Get возвращает снимок задачи.
func (m *TaskManager) Get(id string) (TaskSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return TaskSnapshot{}, false
	}
	return t.snapshot, true
}

// Apply применяет событие прогресса. Финальные события меняют только прогресс:
// статус и id истории выставляют Complete и Fail.
func (m *TaskManager) Apply(id string, event models.ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		m.logger.Debug("Progress for unknown task dropped", zap.String("taskID", id), zap.String("stage", string(event.Stage)))
		return
	}
	if t.snapshot.IsFinished() {
		return
	}
	if event.Percent < t.snapshot.Progress.Percent {
		event.Percent = t.snapshot.Progress.Percent
	}
	event.TaskID = id
	t.snapshot.Progress = event
	t.snapshot.Status = TaskStatusRunning
	t.snapshot.UpdatedAt = m.now()
	m.broadcast(t, false)
}

// Complete помечает задачу успешной и закрывает подписки.
func (m *TaskManager) Complete(id, storyID string) {
	m.finish(id, func(s *TaskSnapshot) {
		s.Status = TaskStatusCompleted
		s.StoryID = storyID
		if s.Progress.Stage != models.StageDone {
			s.Progress = models.ProgressEvent{TaskID: id, Stage: models.StageDone, Message: "Done", Timestamp: m.now()}
		}
		s.Progress.Percent = 100
	})
}

// Fail помечает задачу неуспешной и закрывает подписки.
func (m *TaskManager) Fail(id string, err error) {
	m.finish(id, func(s *TaskSnapshot) {
		s.Status = TaskStatusFailed
		s.Error = err.Error()
		if s.Progress.Stage != models.StageFailed {
			s.Progress = models.ProgressEvent{
				TaskID:    id,
				Stage:     models.StageFailed,
				Message:   "Generation failed",
				Percent:   s.Progress.Percent,
				Error:     err.Error(),
				Timestamp: m.now(),
			}
		}
	})
}

func (m *TaskManager) finish(id string, update func(*TaskSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		m.logger.Warn("Attempt to finish unknown task", zap.String("taskID", id))
		return
	}
	if t.snapshot.IsFinished() {
		return
	}
	update(&t.snapshot)
	t.snapshot.UpdatedAt = m.now()
	m.broadcast(t, true)
	for ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = make(map[chan TaskSnapshot]struct{})
	tasksActive.Dec()
	tasksFinishedTotal.WithLabelValues(string(t.snapshot.Kind), string(t.snapshot.Status)).Inc()
	m.logger.Info("Task finished",
		zap.String("taskID", id),
		zap.String("status", string(t.snapshot.Status)),
		zap.String("storyID", t.snapshot.StoryID),
	)
}

// broadcast вызывается под m.mu. Для финального снимка из полного буфера
// вытесняется самый старый снимок.
func (m *TaskManager) broadcast(t *trackedTask, final bool) {
	for ch := range t.subscribers {
		select {
		case ch <- t.snapshot:
			continue
		default:
		}
		if !final {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- t.snapshot:
		default:
		}
	}
}

// Subscribe подписывает на снимки задачи. Текущий снимок приходит сразу.
// Канал закрывается после финального снимка или вызова unsubscribe.
func (m *TaskManager) Subscribe(id string) (<-chan TaskSnapshot, func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, func() {}, false
	}
	ch := make(chan TaskSnapshot, subscriberBuffer)
	ch <- t.snapshot
	if t.snapshot.IsFinished() {
		close(ch)
		return ch, func() {}, true
	}
	t.subscribers[ch] = struct{}{}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := t.subscribers[ch]; ok {
				delete(t.subscribers, ch)
				close(ch)
			}
		})
	}
	return ch, unsubscribe, true
}

// CleanupCompleted удаляет завершенные задачи старше maxAge и возвращает их число.
func (m *TaskManager) CleanupCompleted(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, t := range m.tasks {
		if t.snapshot.IsFinished() && t.snapshot.UpdatedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

// RunJanitor периодически чистит завершенные задачи до отмены ctx.
func (m *TaskManager) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.CleanupCompleted(maxAge); removed > 0 {
				m.logger.Debug("Finished tasks cleaned up", zap.Int("removed", removed))
			}
		}
	}
}
