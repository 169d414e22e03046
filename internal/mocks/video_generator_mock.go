package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
	"storybook-server/internal/service"
)

// MockVideoGenerator is a mock type for the VideoGenerator type
type MockVideoGenerator struct {
	mock.Mock
}

// SubmitCoverVideo provides a mock function with given fields: ctx, story, opts
func (_m *MockVideoGenerator) SubmitCoverVideo(ctx context.Context, story *models.GeneratedStory, opts models.VideoOptions) (*models.VideoResult, error) {
	ret := _m.Called(ctx, story, opts)
	result, _ := ret.Get(0).(*models.VideoResult)
	return result, ret.Error(1)
}

// QueryStatus provides a mock function with given fields: ctx, requestID
func (_m *MockVideoGenerator) QueryStatus(ctx context.Context, requestID string) (models.VideoStatus, error) {
	ret := _m.Called(ctx, requestID)
	status, _ := ret.Get(0).(models.VideoStatus)
	return status, ret.Error(1)
}

// FetchResult provides a mock function with given fields: ctx, requestID
func (_m *MockVideoGenerator) FetchResult(ctx context.Context, requestID string) (*models.VideoResult, error) {
	ret := _m.Called(ctx, requestID)
	result, _ := ret.Get(0).(*models.VideoResult)
	return result, ret.Error(1)
}

// NewMockVideoGenerator creates a new instance of MockVideoGenerator.
func NewMockVideoGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockVideoGenerator {
	m := &MockVideoGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ service.VideoGenerator = (*MockVideoGenerator)(nil)
