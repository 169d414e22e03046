package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"storybook-server/internal/models"
)

const (
	opDescribeCharacters = "describe_characters"
	opCharacterDesign    = "character_design"
	opStoryStructure     = "story_structure"
	opCoverImage         = "cover_image"
	opPanelIllustration  = "panel_illustration"
)

// ContentGenerator - операции генерации текста и изображений для сборки истории.
type ContentGenerator interface {
	DescribeCharacters(ctx context.Context, names []string, ageGroup models.AgeGroup) ([]models.Character, error)
	GenerateCharacterDesign(ctx context.Context, character models.Character, style models.StoryStyle) (string, error)
	GenerateStoryStructure(ctx context.Context, cfg models.StoryConfig, characters []models.Character) (*StoryStructure, error)
	GenerateCoverImage(ctx context.Context, story *models.GeneratedStory) (string, error)
	GeneratePanelIllustration(ctx context.Context, panel models.Panel, characters []models.Character, style models.StoryStyle) (string, error)
}

// ContentClientConfig - параметры повторов и ограничения частоты запросов.
type ContentClientConfig struct {
	ImageMaxAttempts  int
	ImageBackoff      time.Duration
	RequestsPerMinute int
}

type contentClientImpl struct {
	text    []TextBackend
	image   []ImageBackend
	cfg     ContentClientConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewContentClient создает клиент генерации контента.
// Резервные бэкенды из Backends используются только при ошибках доступа основного ключа.
func NewContentClient(backends Backends, cfg ContentClientConfig, logger *zap.Logger) ContentGenerator {
	if cfg.ImageMaxAttempts < 1 {
		cfg.ImageMaxAttempts = 2
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	c := &contentClientImpl{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("ContentClient"),
	}
	if backends.Text != nil {
		c.text = append(c.text, backends.Text)
	}
	if backends.FallbackText != nil {
		c.text = append(c.text, backends.FallbackText)
	}
	if backends.Image != nil {
		c.image = append(c.image, backends.Image)
	}
	if backends.FallbackImage != nil {
		c.image = append(c.image, backends.FallbackImage)
	}
	return c
}

type namedBackend interface {
	Name() string
}

// withFailover вызывает call на основном бэкенде и один раз на резервном,
// если ошибка говорит о проблеме с ключом (403/429/503/квота).
func withFailover[B namedBackend, T any](ctx context.Context, c *contentClientImpl, operation string, backends []B, call func(ctx context.Context, backend B) (T, error)) (T, error) {
	var zero T
	if len(backends) == 0 {
		return zero, fmt.Errorf("%w: no backend configured for %s", models.ErrProviderFailure, operation)
	}

	policy := RetryPolicy{
		MaxAttempts: len(backends),
		Retryable:   IsCredentialFailure,
	}
	return Retry(ctx, policy, func(ctx context.Context, attempt int) (T, error) {
		backend := backends[attempt-1]
		if attempt > 1 {
			aiFallbacksTotal.WithLabelValues(operation).Inc()
			c.logger.Warn("Primary credential failed, retrying with fallback",
				zap.String("operation", operation),
				zap.String("backend", backend.Name()),
			)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}

		start := time.Now()
		result, err := call(ctx, backend)
		aiRequestDuration.WithLabelValues(backend.Name(), operation).Observe(time.Since(start).Seconds())
		status := "success"
		if err != nil {
			status = "error"
			c.logger.Warn("AI request failed",
				zap.String("operation", operation),
				zap.String("backend", backend.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		aiRequestsTotal.WithLabelValues(backend.Name(), operation, status).Inc()
		return result, err
	})
}

func (c *contentClientImpl) generateText(ctx context.Context, operation string, req TextRequest) (string, error) {
	return withFailover(ctx, c, operation, c.text, func(ctx context.Context, b TextBackend) (string, error) {
		return b.GenerateText(ctx, req)
	})
}

// generateImage повторяет запрос, пока провайдер отвечает без изображения.
func (c *contentClientImpl) generateImage(ctx context.Context, operation string, req ImageRequest) (string, error) {
	policy := RetryPolicy{
		MaxAttempts: c.cfg.ImageMaxAttempts,
		Backoff:     FixedBackoff(c.cfg.ImageBackoff),
		Retryable:   isEmptyImage,
	}
	return Retry(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		resp, err := withFailover(ctx, c, operation, c.image, func(ctx context.Context, b ImageBackend) (*ImageResponse, error) {
			return b.GenerateImage(ctx, req)
		})
		if err != nil {
			return "", err
		}
		uri, err := extractImage(resp)
		if isEmptyImage(err) {
			aiImageRetriesTotal.WithLabelValues(operation, "empty_image").Inc()
			c.logger.Warn("Image response was empty",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", policy.MaxAttempts),
			)
		}
		return uri, err
	})
}

// extractImage возвращает первое встроенное изображение ответа в виде data URI.
func extractImage(resp *ImageResponse) (string, error) {
	if resp == nil {
		return "", errEmptyImage
	}
	prohibited := resp.BlockReason == FinishReasonProhibitedContent
	for _, cand := range resp.Candidates {
		for _, part := range cand.Parts {
			if part.Image != nil && len(part.Image.Data) > 0 {
				mime := part.Image.MimeType
				if mime == "" {
					mime = "image/png"
				}
				return models.EncodeDataURI(mime, part.Image.Data), nil
			}
		}
		if cand.FinishReason == FinishReasonProhibitedContent {
			prohibited = true
		}
	}
	if prohibited {
		return "", models.ErrProhibitedContent
	}
	return "", errEmptyImage
}

func imageFailure(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", models.ErrImageGenerationFailed, operation, err)
}

// referenceParts собирает изображения-образцы для персонажей с указанными именами.
// Дизайн персонажа всегда имеет приоритет перед загруженным фото.
func referenceParts(characters []models.Character, names []string) ([]ContentPart, []string) {
	var parts []ContentPart
	var referenced []string
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		c, ok := models.FindCharacter(characters, name)
		if !ok {
			continue
		}
		data, mime, ok := c.VisualReference()
		if !ok {
			continue
		}
		parts = append(parts, ContentPart{Image: &InlineImage{MimeType: mime, Data: data}})
		referenced = append(referenced, c.Name)
	}
	return parts, referenced
}

func imageRequest(prompt string, references []ContentPart) ImageRequest {
	parts := make([]ContentPart, 0, len(references)+1)
	parts = append(parts, ContentPart{Text: prompt})
	parts = append(parts, references...)
	return ImageRequest{Parts: parts}
}

func (c *contentClientImpl) DescribeCharacters(ctx context.Context, names []string, ageGroup models.AgeGroup) ([]models.Character, error) {
	if len(names) == 0 {
		return nil, nil
	}
	log := c.logger.With(zap.Strings("names", names))
	log.Info("Describing characters")

	raw, err := c.generateText(ctx, opDescribeCharacters, TextRequest{
		Prompt: buildDescribeCharactersPrompt(names, ageGroup),
		Schema: characterProfilesSchema(),
		JSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("describe characters: %w", err)
	}

	profiles, err := parseCharacterProfiles(raw, names)
	if err != nil {
		log.Error("Invalid character profiles response", zap.Error(err), zap.String("raw", truncate(raw, 500)))
		return nil, err
	}

	characters := make([]models.Character, len(names))
	for i, p := range profiles {
		characters[i] = models.Character{
			ID:          uuid.NewString(),
			Name:        names[i],
			Description: p.Description,
			Personality: p.Personality,
			Appearance:  p.Appearance,
			Role:        p.Role,
		}
	}
	return characters, nil
}

func (c *contentClientImpl) GenerateCharacterDesign(ctx context.Context, character models.Character, style models.StoryStyle) (string, error) {
	log := c.logger.With(zap.String("character", character.Name))
	log.Info("Generating character design")

	var references []ContentPart
	if character.HasUploadedImage() {
		mime := character.ImageMimeType
		if mime == "" {
			mime = "image/png"
		}
		references = append(references, ContentPart{Image: &InlineImage{MimeType: mime, Data: character.ImageData}})
	}

	uri, err := c.generateImage(ctx, opCharacterDesign, imageRequest(buildCharacterDesignPrompt(character, style), references))
	if err != nil {
		log.Error("Character design generation failed", zap.Error(err))
		return "", imageFailure(opCharacterDesign, err)
	}
	return uri, nil
}

func (c *contentClientImpl) GenerateStoryStructure(ctx context.Context, cfg models.StoryConfig, characters []models.Character) (*StoryStructure, error) {
	pageCount := cfg.EffectivePageCount()
	log := c.logger.With(zap.Int("pageCount", pageCount), zap.String("theme", string(cfg.Theme)))
	log.Info("Generating story structure")

	raw, err := c.generateText(ctx, opStoryStructure, TextRequest{
		Prompt: buildStoryStructurePrompt(cfg, characters),
		Schema: storyStructureSchema(pageCount),
		JSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("generate story structure: %w", err)
	}

	structure, err := parseStoryStructure(raw, pageCount)
	if err != nil {
		log.Error("Invalid story structure response", zap.Error(err), zap.String("raw", truncate(raw, 500)))
		return nil, err
	}
	log.Info("Story structure generated", zap.String("title", structure.Title), zap.Int("pages", len(structure.Pages)))
	return structure, nil
}

func (c *contentClientImpl) GenerateCoverImage(ctx context.Context, story *models.GeneratedStory) (string, error) {
	if story == nil {
		return "", fmt.Errorf("%w: story is nil", models.ErrInvalidInput)
	}
	log := c.logger.With(zap.String("storyID", story.ID))
	log.Info("Generating cover image")

	references, referenced := referenceParts(story.Characters, story.CharacterNames())
	uri, err := c.generateImage(ctx, opCoverImage, imageRequest(buildCoverPrompt(story, referenced), references))
	if err != nil {
		log.Error("Cover image generation failed", zap.Error(err))
		return "", imageFailure(opCoverImage, err)
	}
	return uri, nil
}

func (c *contentClientImpl) GeneratePanelIllustration(ctx context.Context, panel models.Panel, characters []models.Character, style models.StoryStyle) (string, error) {
	log := c.logger.With(zap.String("panelID", panel.ID))

	references, referenced := referenceParts(characters, panel.Characters)
	uri, err := c.generateImage(ctx, opPanelIllustration, imageRequest(buildPanelPrompt(panel, style, characters, referenced), references))
	if err == nil {
		return uri, nil
	}
	if !errors.Is(err, models.ErrProhibitedContent) {
		log.Error("Panel illustration failed", zap.Error(err))
		return "", imageFailure(opPanelIllustration, err)
	}

	log.Warn("Panel rejected by moderation, retrying with conservative prompt")
	aiImageRetriesTotal.WithLabelValues(opPanelIllustration, "prohibited_content").Inc()
	conservative := RetryPolicy{MaxAttempts: 1}
	uri, err = Retry(ctx, conservative, func(ctx context.Context, _ int) (string, error) {
		resp, err := withFailover(ctx, c, opPanelIllustration, c.image, func(ctx context.Context, b ImageBackend) (*ImageResponse, error) {
			return b.GenerateImage(ctx, imageRequest(buildConservativePanelPrompt(panel, style, referenced), references))
		})
		if err != nil {
			return "", err
		}
		return extractImage(resp)
	})
	if err != nil {
		log.Error("Conservative panel illustration failed", zap.Error(err))
		return "", imageFailure(opPanelIllustration, err)
	}
	return uri, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
