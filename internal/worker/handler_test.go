package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/messaging"
	"storybook-server/internal/mocks"
	"storybook-server/internal/models"
	"storybook-server/internal/worker"
)

const testTaskID = "task-456"

func taskBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(messaging.GenerationTaskPayload{
		TaskID: testTaskID,
		UserID: "user-123",
		Config: models.StoryConfig{
			Prompt:   "A dragon who is afraid of the dark",
			Theme:    models.ThemeMagical,
			Style:    models.StyleFairyTale,
			AgeGroup: models.AgeGroupToddler,
		},
		Characters: []models.Character{{Name: "Ember"}},
	})
	require.NoError(t, err)
	return body
}

type workerHarness struct {
	handler   *worker.TaskHandler
	generator *mocks.MockStoryGenerator
	progress  *mocks.RecordingProgressPublisher
	notifier  *mocks.MockNotifier
}

func newWorkerHarness(t *testing.T) *workerHarness {
	h := &workerHarness{
		generator: mocks.NewMockStoryGenerator(t),
		progress:  &mocks.RecordingProgressPublisher{},
		notifier:  mocks.NewMockNotifier(t),
	}
	h.handler = worker.NewTaskHandler(h.generator, h.progress, h.notifier, time.Minute, zap.NewNop())
	return h
}

func TestTaskHandler_Success(t *testing.T) {
	h := newWorkerHarness(t)
	h.generator.On("GenerateCompleteStory", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			events := args.Get(3).(chan<- models.ProgressEvent)
			events <- models.ProgressEvent{Stage: models.StagePrepareCharacters, Percent: 5}
			events <- models.ProgressEvent{Stage: models.StageDone, Percent: 100}
		}).
		Return(&models.GeneratedStory{ID: "story-1", Title: "Ember Glows"}, nil).Once()
	h.notifier.On("Notify", mock.Anything, messaging.NotificationPayload{
		TaskID:  testTaskID,
		UserID:  "user-123",
		Status:  messaging.NotificationStatusSuccess,
		StoryID: "story-1",
		Title:   "Ember Glows",
	}).Return(nil).Once()

	require.NoError(t, h.handler.Handle(context.Background(), taskBody(t)))

	events := h.progress.Events()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, testTaskID, e.TaskID)
	}
	assert.Equal(t, models.StageDone, events[1].Stage)
}

func TestTaskHandler_GenerationFailureIsNotified(t *testing.T) {
	h := newWorkerHarness(t)
	genErr := fmt.Errorf("%w: structure missing pages", models.ErrInvalidAIResponse)
	h.generator.On("GenerateCompleteStory", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, genErr).Once()
	h.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(p messaging.NotificationPayload) bool {
		return p.Status == messaging.NotificationStatusError && p.ErrorDetails == genErr.Error() && p.StoryID == ""
	})).Return(nil).Once()

	assert.NoError(t, h.handler.Handle(context.Background(), taskBody(t)))
}

func TestTaskHandler_MalformedPayload(t *testing.T) {
	h := newWorkerHarness(t)

	err := h.handler.Handle(context.Background(), []byte(`{"taskId":"x","characters":[]}`))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.NotErrorIs(t, err, messaging.ErrRequeue)
	h.generator.AssertNotCalled(t, "GenerateCompleteStory", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTaskHandler_NotifyFailure(t *testing.T) {
	h := newWorkerHarness(t)
	h.generator.On("GenerateCompleteStory", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.GeneratedStory{ID: "story-2"}, nil).Once()
	brokerErr := errors.New("channel closed")
	h.notifier.On("Notify", mock.Anything, mock.Anything).Return(brokerErr).Once()

	err := h.handler.Handle(context.Background(), taskBody(t))
	assert.ErrorIs(t, err, brokerErr)
}

func TestTaskHandler_ProgressFailureDoesNotFailTask(t *testing.T) {
	h := newWorkerHarness(t)
	h.progress.Err = errors.New("progress queue unavailable")
	h.generator.On("GenerateCompleteStory", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			args.Get(3).(chan<- models.ProgressEvent) <- models.ProgressEvent{Stage: models.StageDone, Percent: 100}
		}).
		Return(&models.GeneratedStory{ID: "story-3"}, nil).Once()
	h.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Once()

	assert.NoError(t, h.handler.Handle(context.Background(), taskBody(t)))
}

func TestTaskHandler_ShutdownRequeues(t *testing.T) {
	h := newWorkerHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.generator.On("GenerateCompleteStory", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, fmt.Errorf("%w: %w", models.ErrGenerationCancelled, context.Canceled)).Once()

	err := h.handler.Handle(ctx, taskBody(t))
	assert.ErrorIs(t, err, messaging.ErrRequeue)
	h.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}
