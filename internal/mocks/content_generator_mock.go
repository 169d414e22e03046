package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/models"
	"storybook-server/internal/service"
)

// MockContentGenerator is a mock type for the ContentGenerator type
type MockContentGenerator struct {
	mock.Mock
}

// DescribeCharacters provides a mock function with given fields: ctx, names, ageGroup
func (_m *MockContentGenerator) DescribeCharacters(ctx context.Context, names []string, ageGroup models.AgeGroup) ([]models.Character, error) {
	ret := _m.Called(ctx, names, ageGroup)

	var r0 []models.Character
	if rf, ok := ret.Get(0).(func(context.Context, []string, models.AgeGroup) []models.Character); ok {
		r0 = rf(ctx, names, ageGroup)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.Character)
	}

	return r0, ret.Error(1)
}

// GenerateCharacterDesign provides a mock function with given fields: ctx, character, style
func (_m *MockContentGenerator) GenerateCharacterDesign(ctx context.Context, character models.Character, style models.StoryStyle) (string, error) {
	ret := _m.Called(ctx, character, style)
	return ret.String(0), ret.Error(1)
}

// GenerateStoryStructure provides a mock function with given fields: ctx, cfg, characters
func (_m *MockContentGenerator) GenerateStoryStructure(ctx context.Context, cfg models.StoryConfig, characters []models.Character) (*service.StoryStructure, error) {
	ret := _m.Called(ctx, cfg, characters)

	var r0 *service.StoryStructure
	if rf, ok := ret.Get(0).(func(context.Context, models.StoryConfig, []models.Character) *service.StoryStructure); ok {
		r0 = rf(ctx, cfg, characters)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.StoryStructure)
	}

	return r0, ret.Error(1)
}

// GenerateCoverImage provides a mock function with given fields: ctx, story
func (_m *MockContentGenerator) GenerateCoverImage(ctx context.Context, story *models.GeneratedStory) (string, error) {
	ret := _m.Called(ctx, story)
	return ret.String(0), ret.Error(1)
}

// GeneratePanelIllustration provides a mock function with given fields: ctx, panel, characters, style
func (_m *MockContentGenerator) GeneratePanelIllustration(ctx context.Context, panel models.Panel, characters []models.Character, style models.StoryStyle) (string, error) {
	ret := _m.Called(ctx, panel, characters, style)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, models.Panel, []models.Character, models.StoryStyle) string); ok {
		r0 = rf(ctx, panel, characters, style)
	} else {
		r0 = ret.String(0)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, models.Panel, []models.Character, models.StoryStyle) error); ok {
		r1 = rf(ctx, panel, characters, style)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockContentGenerator creates a new instance of MockContentGenerator. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockContentGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockContentGenerator {
	m := &MockContentGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ service.ContentGenerator = (*MockContentGenerator)(nil)
