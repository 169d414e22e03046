package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/service"
)

// CharacterRepository - кэш персонажей, используемый пайплайном.
type CharacterRepository interface {
	LoadForNames(ctx context.Context, names []string) []models.Character
	Save(ctx context.Context, characters []models.Character)
}

// StoryRepository - хранилище готовых историй.
type StoryRepository interface {
	Save(ctx context.Context, story *models.GeneratedStory) error
}

// VideoPoller задает ограничения ожидания видеозадания.
type VideoPoller struct {
	MaxAttempts int
	Delay       time.Duration
}

// Options - настройки оркестратора.
type Options struct {
	AutoCoverVideo bool
	VideoOptions   models.VideoOptions
	Poller         VideoPoller
	// Now подменяет источник времени в тестах.
	Now func() time.Time
}

// Generator управляет полным циклом генерации истории.
type Generator struct {
	content    service.ContentGenerator
	video      service.VideoGenerator
	characters CharacterRepository
	stories    StoryRepository
	opts       Options
	validate   *validator.Validate
	logger     *zap.Logger
}

// New создает оркестратор с внедренными зависимостями.
func New(
	content service.ContentGenerator,
	video service.VideoGenerator,
	characters CharacterRepository,
	stories StoryRepository,
	opts Options,
	logger *zap.Logger,
) *Generator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Poller.MaxAttempts < 1 {
		opts.Poller.MaxAttempts = 60
	}
	if opts.Poller.Delay <= 0 {
		opts.Poller.Delay = 5 * time.Second
	}
	return &Generator{
		content:    content,
		video:      video,
		characters: characters,
		stories:    stories,
		opts:       opts,
		validate:   validator.New(),
		logger:     logger.Named("Generator"),
	}
}

// GenerateCompleteStory выполняет все этапы пайплайна и отправляет прогресс в events.
// Ошибка возвращается только при невалидном вводе, сбое генерации структуры или отмене;
// в последнем случае вместе с ошибкой возвращается частично собранная история.
// Канал events не закрывается и должен вычитываться вызывающим.
func (g *Generator) GenerateCompleteStory(
	ctx context.Context,
	cfg models.StoryConfig,
	characters []models.Character,
	events chan<- models.ProgressEvent,
) (*models.GeneratedStory, error) {
	start := g.opts.Now()
	progress := newProgressReporter(events, g.opts.Now)
	log := g.logger.With(zap.String("theme", string(cfg.Theme)), zap.String("style", string(cfg.Style)))

	story, err := g.runPipeline(ctx, cfg, characters, progress, log)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, models.ErrGenerationCancelled) {
			outcome = "cancelled"
		}
		storiesGeneratedTotal.WithLabelValues(outcome).Inc()
		progress.fail(err)
		return story, err
	}

	storiesGeneratedTotal.WithLabelValues("completed").Inc()
	storyGenerationDuration.Observe(g.opts.Now().Sub(start).Seconds())
	progress.report(ctx, models.StageDone, percentDone, "Your story is ready!")
	log.Info("Story generation completed",
		zap.String("storyID", story.ID),
		zap.Int("panels", story.PanelCount()),
		zap.Bool("hasCover", story.CoverImage != ""),
		zap.Bool("hasVideo", story.CoverVideoURL != ""),
	)
	return story, nil
}

func (g *Generator) runPipeline(
	ctx context.Context,
	cfg models.StoryConfig,
	input []models.Character,
	progress *progressReporter,
	log *zap.Logger,
) (*models.GeneratedStory, error) {
	if err := g.validateRequest(cfg, input); err != nil {
		return nil, err
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	progress.report(ctx, models.StagePrepareCharacters, percentPrepare, "Preparing characters")
	characters := g.prepareCharacters(ctx, input)

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	res := g.enrichDescriptions(ctx, cfg, characters, progress)
	if err := res.resolve(ctx, log); err != nil {
		return nil, err
	}

	progress.report(ctx, models.StageGenerateStructure, percentEnrichEnd, "Writing the story")
	structure, err := g.content.GenerateStoryStructure(ctx, cfg, characters)
	if err == nil && structure == nil {
		err = fmt.Errorf("%w: empty story structure", models.ErrInvalidAIResponse)
	}
	if err := (stageResult{stage: models.StageGenerateStructure, err: err}).resolve(ctx, log); err != nil {
		return nil, err
	}

	story := &models.GeneratedStory{
		ID:         uuid.NewString(),
		Config:     cfg,
		Characters: characters,
		Pages:      structure.Pages,
		Title:      structure.Title,
		CreatedAt:  g.opts.Now().UTC().Truncate(time.Millisecond),
	}
	log = log.With(zap.String("storyID", story.ID))
	progress.report(ctx, models.StageGenerateStructure, percentStructureEnd, fmt.Sprintf("Story \"%s\" written", story.Title))

	if err := checkCancelled(ctx); err != nil {
		return story, err
	}
	illustratable := g.filterCharacters(story, log)
	progress.report(ctx, models.StageFilterCharacters, percentStructureEnd, fmt.Sprintf("%d of %d characters ready for illustration", len(illustratable), len(characters)))

	if err := g.illustratePanels(ctx, story, illustratable, progress, log); err != nil {
		return story, err
	}

	if err := checkCancelled(ctx); err != nil {
		return story, err
	}
	progress.report(ctx, models.StageGenerateCover, percentCover, "Painting the cover")
	if err := g.generateCover(ctx, story).resolve(ctx, log); err != nil {
		return story, err
	}

	if err := checkCancelled(ctx); err != nil {
		return story, err
	}
	progress.report(ctx, models.StagePersist, percentPersist, "Saving your story")
	if err := g.persist(ctx, story).resolve(ctx, log); err != nil {
		return story, err
	}

	if g.opts.AutoCoverVideo && story.CoverImage != "" {
		if err := checkCancelled(ctx); err != nil {
			return story, err
		}
		progress.report(ctx, models.StageGenerateCoverVideo, percentCoverVideo, "Animating the cover")
		if err := g.attachCoverVideo(ctx, story).resolve(ctx, log); err != nil {
			return story, err
		}
	}
	return story, nil
}

func (g *Generator) validateRequest(cfg models.StoryConfig, characters []models.Character) error {
	if err := g.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}
	for i, c := range characters {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: character %d has no name", models.ErrInvalidInput, i)
		}
	}
	return nil
}

// prepareCharacters подмешивает кэшированные дизайны и описания, сохраняя id из запроса.
func (g *Generator) prepareCharacters(ctx context.Context, input []models.Character) []models.Character {
	names := make([]string, len(input))
	for i, c := range input {
		names[i] = c.Name
	}
	cached := g.characters.LoadForNames(ctx, names)

	prepared := make([]models.Character, len(input))
	for i, c := range input {
		if i < len(cached) {
			c = mergeCached(c, cached[i])
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		prepared[i] = c
	}
	return prepared
}

func mergeCached(c, cached models.Character) models.Character {
	if !c.HasDesign() && cached.HasDesign() {
		c.GeneratedDesignImage = cached.GeneratedDesignImage
	}
	if !c.HasUploadedImage() && cached.HasUploadedImage() {
		c.ImageData = cached.ImageData
		c.ImageMimeType = cached.ImageMimeType
	}
	if c.Description == "" {
		c.Description = cached.Description
	}
	if c.Personality == "" {
		c.Personality = cached.Personality
	}
	if c.Appearance == "" {
		c.Appearance = cached.Appearance
	}
	if c.Role == "" {
		c.Role = cached.Role
	}
	return c
}

// enrichDescriptions описывает одним запросом всех персонажей без описания и без фото.
func (g *Generator) enrichDescriptions(ctx context.Context, cfg models.StoryConfig, characters []models.Character, progress *progressReporter) stageResult {
	var missing []int
	for i, c := range characters {
		if c.NeedsDescription() {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		progress.report(ctx, models.StageEnrichDescriptions, percentEnrichEnd, "All characters are ready")
		return succeeded(models.StageEnrichDescriptions)
	}

	names := make([]string, len(missing))
	for j, i := range missing {
		names[j] = characters[i].Name
	}
	progress.report(ctx, models.StageEnrichDescriptions, percentEnrichStart, fmt.Sprintf("Imagining %d characters", len(names)))

	described, err := g.content.DescribeCharacters(ctx, names, cfg.AgeGroup)
	if err != nil {
		return failed(models.StageEnrichDescriptions, err)
	}
	for j, i := range missing {
		if j >= len(described) {
			break
		}
		d := described[j]
		c := &characters[i]
		c.Description = d.Description
		if c.Personality == "" {
			c.Personality = d.Personality
		}
		if c.Appearance == "" {
			c.Appearance = d.Appearance
		}
		if c.Role == "" {
			c.Role = d.Role
		}
	}
	progress.report(ctx, models.StageEnrichDescriptions, percentEnrichEnd, "Characters described")
	return succeeded(models.StageEnrichDescriptions)
}

// filterCharacters возвращает персонажей с визуальным образцом.
// Персонажи без образца остаются в истории и в списках панелей.
func (g *Generator) filterCharacters(story *models.GeneratedStory, log *zap.Logger) []models.Character {
	illustratable := make([]models.Character, 0, len(story.Characters))
	for _, c := range story.Characters {
		if c.HasVisualReference() {
			illustratable = append(illustratable, c)
			continue
		}
		log.Warn("Character has no visual reference and will be drawn from text only",
			zap.String("character", c.Name),
			zap.Int("panelsReferencing", countPanelsWith(story, c.Name)),
		)
	}
	return illustratable
}

func countPanelsWith(story *models.GeneratedStory, name string) int {
	count := 0
	for _, page := range story.Pages {
		for _, panel := range page.Panels {
			for _, n := range panel.Characters {
				if strings.EqualFold(strings.TrimSpace(n), strings.TrimSpace(name)) {
					count++
					break
				}
			}
		}
	}
	return count
}

// illustratePanels рисует панели последовательно; ошибка панели не прерывает историю.
func (g *Generator) illustratePanels(ctx context.Context, story *models.GeneratedStory, characters []models.Character, progress *progressReporter, log *zap.Logger) error {
	total := story.PanelCount()
	done := 0
	progress.report(ctx, models.StageGeneratePanels, panelPercent(0, total), fmt.Sprintf("Illustrating %d panels", total))

	for p := range story.Pages {
		page := &story.Pages[p]
		for i := range page.Panels {
			if err := checkCancelled(ctx); err != nil {
				return err
			}
			panel := &page.Panels[i]

			uri, err := g.content.GeneratePanelIllustration(ctx, *panel, characters, story.Config.Style)
			res := succeeded(models.StageGeneratePanels)
			if err != nil {
				panelsIllustratedTotal.WithLabelValues("failed").Inc()
				res = failed(models.StageGeneratePanels, fmt.Errorf("panel %s: %w", panel.ID, err))
			} else {
				panelsIllustratedTotal.WithLabelValues("success").Inc()
				panel.ImageURL = uri
			}
			if err := res.resolve(ctx, log); err != nil {
				return err
			}

			done++
			progress.report(ctx, models.StageGeneratePanels, panelPercent(done, total),
				fmt.Sprintf("Illustrated panel %d of %d", done, total))
		}
	}
	return nil
}

func (g *Generator) generateCover(ctx context.Context, story *models.GeneratedStory) stageResult {
	uri, err := g.content.GenerateCoverImage(ctx, story)
	if err != nil {
		return failed(models.StageGenerateCover, err)
	}
	story.CoverImage = uri
	return succeeded(models.StageGenerateCover)
}

func (g *Generator) persist(ctx context.Context, story *models.GeneratedStory) stageResult {
	g.characters.Save(ctx, story.Characters)
	if err := g.stories.Save(ctx, story); err != nil {
		return failed(models.StagePersist, err)
	}
	return succeeded(models.StagePersist)
}

// attachCoverVideo генерирует видео обложки и пересохраняет историю вместе с ним.
func (g *Generator) attachCoverVideo(ctx context.Context, story *models.GeneratedStory) stageResult {
	result, err := g.video.SubmitCoverVideo(ctx, story, g.opts.VideoOptions)
	if err != nil {
		return failed(models.StageGenerateCoverVideo, err)
	}
	story.CoverVideoURL = result.VideoURL
	story.CoverVideoRequestID = result.RequestID
	if err := g.stories.Save(ctx, story); err != nil {
		return failed(models.StagePersist, err)
	}
	return succeeded(models.StageGenerateCoverVideo)
}
