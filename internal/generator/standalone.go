package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// RegeneratePanel заново рисует одну панель. Ошибка возвращается вызывающему.
func (g *Generator) RegeneratePanel(ctx context.Context, panel models.Panel, characters []models.Character, style models.StoryStyle) (*models.Panel, error) {
	if strings.TrimSpace(panel.ID) == "" {
		return nil, fmt.Errorf("%w: panel id is required", models.ErrInvalidInput)
	}
	illustratable := make([]models.Character, 0, len(characters))
	for _, c := range characters {
		if c.HasVisualReference() {
			illustratable = append(illustratable, c)
		}
	}

	uri, err := g.content.GeneratePanelIllustration(ctx, panel, illustratable, style)
	if err != nil {
		g.logger.Error("Panel regeneration failed", zap.String("panelID", panel.ID), zap.Error(err))
		return nil, err
	}
	panel.ImageURL = uri
	return &panel, nil
}

// GenerateCoverVideo анимирует обложку готовой истории и пересохраняет ее.
// Без обложки сразу возвращает models.ErrMissingCoverImage.
func (g *Generator) GenerateCoverVideo(ctx context.Context, story *models.GeneratedStory, events chan<- models.ProgressEvent) (*models.VideoResult, error) {
	if story == nil || strings.TrimSpace(story.CoverImage) == "" {
		return nil, models.ErrMissingCoverImage
	}
	progress := newProgressReporter(events, g.opts.Now)
	log := g.logger.With(zap.String("storyID", story.ID))

	progress.report(ctx, models.StageGenerateCoverVideo, 10, "Submitting cover animation")
	result, err := g.video.SubmitCoverVideo(ctx, story, g.opts.VideoOptions)
	if err != nil {
		log.Error("Cover video generation failed", zap.Error(err))
		progress.fail(err)
		return nil, err
	}

	story.CoverVideoURL = result.VideoURL
	story.CoverVideoRequestID = result.RequestID
	progress.report(ctx, models.StagePersist, percentPersist, "Saving the animated cover")
	if err := g.stories.Save(ctx, story); err != nil {
		stageFailuresTotal.WithLabelValues(string(models.StagePersist), bestEffort.String()).Inc()
		log.Warn("Failed to persist story with cover video", zap.Error(err))
	}
	progress.report(ctx, models.StageDone, percentDone, "Cover animation ready")
	return result, nil
}

// CheckVideoStatus - разовый запрос состояния видеозадания.
func (g *Generator) CheckVideoStatus(ctx context.Context, requestID string) (models.VideoStatus, error) {
	return g.video.QueryStatus(ctx, requestID)
}

// GetVideoResult возвращает ссылку на готовое видео.
func (g *Generator) GetVideoResult(ctx context.Context, requestID string) (*models.VideoResult, error) {
	return g.video.FetchResult(ctx, requestID)
}

// WaitForVideo опрашивает статус задания с фиксированной паузой.
// FAILED дает models.ErrVideoJobFailed, исчерпание попыток - models.ErrVideoJobTimeout.
func (g *Generator) WaitForVideo(ctx context.Context, requestID string) (*models.VideoResult, error) {
	poller := g.opts.Poller
	log := g.logger.With(zap.String("requestID", requestID))

	for attempt := 1; attempt <= poller.MaxAttempts; attempt++ {
		status, err := g.video.QueryStatus(ctx, requestID)
		if err != nil {
			return nil, err
		}
		switch status {
		case models.VideoStatusCompleted:
			return g.video.FetchResult(ctx, requestID)
		case models.VideoStatusFailed:
			return nil, fmt.Errorf("%w: request %s", models.ErrVideoJobFailed, requestID)
		}
		log.Debug("Video still processing", zap.String("status", string(status)), zap.Int("attempt", attempt))

		if attempt == poller.MaxAttempts {
			break
		}
		timer := time.NewTimer(poller.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	log.Warn("Video job did not finish in time", zap.Int("attempts", poller.MaxAttempts))
	return nil, fmt.Errorf("%w: request %s after %d attempts", models.ErrVideoJobTimeout, requestID, poller.MaxAttempts)
}

// DesignCharacter генерирует канонический дизайн персонажа и кэширует его.
// Ошибка генерации возвращается вызывающему для ручного повтора.
func (g *Generator) DesignCharacter(ctx context.Context, character models.Character, style models.StoryStyle) (*models.Character, error) {
	if strings.TrimSpace(character.Name) == "" {
		return nil, fmt.Errorf("%w: character name is required", models.ErrInvalidInput)
	}
	uri, err := g.content.GenerateCharacterDesign(ctx, character, style)
	if err != nil {
		stageFailuresTotal.WithLabelValues(string(models.StageGenerateCharacterDesign), fatal.String()).Inc()
		return nil, err
	}
	if character.ID == "" {
		character.ID = uuid.NewString()
	}
	character.GeneratedDesignImage = uri
	character.Approved = false
	g.characters.Save(ctx, []models.Character{character})
	return &character, nil
}
