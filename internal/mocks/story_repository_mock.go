package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/internal/generator"
	"storybook-server/internal/models"
)

// StoryRepository - мок хранилища историй для оркестратора.
type StoryRepository struct {
	mock.Mock
}

func (m *StoryRepository) Save(ctx context.Context, story *models.GeneratedStory) error {
	args := m.Called(ctx, story)
	return args.Error(0)
}

var _ generator.StoryRepository = (*StoryRepository)(nil)
