package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
)

// MockTaskPublisher is a mock type for the TaskPublisher type
type MockTaskPublisher struct {
	mock.Mock
}

// PublishGenerationTask provides a mock function with given fields: ctx, payload
func (_m *MockTaskPublisher) PublishGenerationTask(ctx context.Context, payload messaging.GenerationTaskPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockTaskPublisher creates a new instance of MockTaskPublisher.
func NewMockTaskPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTaskPublisher {
	m := &MockTaskPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockNotifier is a mock type for the Notifier type
type MockNotifier struct {
	mock.Mock
}

// Notify provides a mock function with given fields: ctx, payload
func (_m *MockNotifier) Notify(ctx context.Context, payload messaging.NotificationPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockNotifier creates a new instance of MockNotifier.
func NewMockNotifier(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// RecordingProgressPublisher запоминает опубликованные события прогресса.
type RecordingProgressPublisher struct {
	mu     sync.Mutex
	events []models.ProgressEvent
	Err    error
}

// PublishProgress сохраняет событие или возвращает Err.
func (p *RecordingProgressPublisher) PublishProgress(_ context.Context, event models.ProgressEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, event)
	return nil
}

// Events возвращает копию опубликованных событий.
func (p *RecordingProgressPublisher) Events() []models.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ProgressEvent(nil), p.events...)
}

var (
	_ messaging.TaskPublisher     = (*MockTaskPublisher)(nil)
	_ messaging.Notifier          = (*MockNotifier)(nil)
	_ messaging.ProgressPublisher = (*RecordingProgressPublisher)(nil)
)
