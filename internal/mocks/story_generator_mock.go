package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/api"
	"storybook-server/internal/models"
)

// MockStoryGenerator is a mock type for the StoryGenerator type
type MockStoryGenerator struct {
	mock.Mock
}

// GenerateCompleteStory provides a mock function with given fields: ctx, cfg, characters, events
func (_m *MockStoryGenerator) GenerateCompleteStory(ctx context.Context, cfg models.StoryConfig, characters []models.Character, events chan<- models.ProgressEvent) (*models.GeneratedStory, error) {
	ret := _m.Called(ctx, cfg, characters, events)
	story, _ := ret.Get(0).(*models.GeneratedStory)
	return story, ret.Error(1)
}

// RegeneratePanel provides a mock function with given fields: ctx, panel, characters, style
func (_m *MockStoryGenerator) RegeneratePanel(ctx context.Context, panel models.Panel, characters []models.Character, style models.StoryStyle) (*models.Panel, error) {
	ret := _m.Called(ctx, panel, characters, style)
	result, _ := ret.Get(0).(*models.Panel)
	return result, ret.Error(1)
}

// GenerateCoverVideo provides a mock function with given fields: ctx, story, events
func (_m *MockStoryGenerator) GenerateCoverVideo(ctx context.Context, story *models.GeneratedStory, events chan<- models.ProgressEvent) (*models.VideoResult, error) {
	ret := _m.Called(ctx, story, events)
	result, _ := ret.Get(0).(*models.VideoResult)
	return result, ret.Error(1)
}

// CheckVideoStatus provides a mock function with given fields: ctx, requestID
func (_m *MockStoryGenerator) CheckVideoStatus(ctx context.Context, requestID string) (models.VideoStatus, error) {
	ret := _m.Called(ctx, requestID)
	status, _ := ret.Get(0).(models.VideoStatus)
	return status, ret.Error(1)
}

// GetVideoResult provides a mock function with given fields: ctx, requestID
func (_m *MockStoryGenerator) GetVideoResult(ctx context.Context, requestID string) (*models.VideoResult, error) {
	ret := _m.Called(ctx, requestID)
	result, _ := ret.Get(0).(*models.VideoResult)
	return result, ret.Error(1)
}

// WaitForVideo provides a mock function with given fields: ctx, requestID
func (_m *MockStoryGenerator) WaitForVideo(ctx context.Context, requestID string) (*models.VideoResult, error) {
	ret := _m.Called(ctx, requestID)
	result, _ := ret.Get(0).(*models.VideoResult)
	return result, ret.Error(1)
}

// DesignCharacter provides a mock function with given fields: ctx, character, style
func (_m *MockStoryGenerator) DesignCharacter(ctx context.Context, character models.Character, style models.StoryStyle) (*models.Character, error) {
	ret := _m.Called(ctx, character, style)
	result, _ := ret.Get(0).(*models.Character)
	return result, ret.Error(1)
}

// NewMockStoryGenerator creates a new instance of MockStoryGenerator.
func NewMockStoryGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStoryGenerator {
	m := &MockStoryGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ api.StoryGenerator = (*MockStoryGenerator)(nil)
