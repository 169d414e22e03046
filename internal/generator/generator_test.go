package generator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/generator"
	"storybook-server/internal/mocks"
	"storybook-server/internal/models"
	"storybook-server/internal/service"
	"storybook-server/internal/storage"
)

var fixedNow = time.Date(2025, 5, 10, 9, 30, 0, 0, time.UTC)

type harness struct {
	gen        *generator.Generator
	content    *mocks.MockContentGenerator
	video      *mocks.MockVideoGenerator
	characters *storage.CharacterCache
	stories    *storage.StoryCache
}

func newHarness(t *testing.T, opts generator.Options) *harness {
	t.Helper()
	h := &harness{
		content:    mocks.NewMockContentGenerator(t),
		video:      mocks.NewMockVideoGenerator(t),
		characters: storage.NewCharacterCache(storage.NewMemoryStore(0), storage.CharacterCacheConfig{}, zap.NewNop()),
		stories:    storage.NewStoryCache(storage.NewMemoryStore(0), storage.StoryCacheConfig{}, zap.NewNop()),
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	h.gen = generator.New(h.content, h.video, h.characters, h.stories, opts, zap.NewNop())
	return h
}

func storyConfig() models.StoryConfig {
	return models.StoryConfig{
		Prompt:         "Mia and Rex find a hidden garden",
		Theme:          models.ThemeAdventurous,
		Style:          models.StyleComic,
		AgeGroup:       models.AgeGroupChild,
		CharacterCount: 1,
		PageCount:      1,
	}
}

func designedMia() models.Character {
	return models.Character{
		ID:                   "ui-mia",
		Name:                 "Mia",
		Description:          "a curious girl",
		GeneratedDesignImage: models.EncodeDataURI("image/png", []byte("MIA-DESIGN")),
	}
}

func threePanelStructure() *service.StoryStructure {
	return &service.StoryStructure{
		Title: "The Hidden Garden",
		Pages: []models.StoryPage{{
			PageNumber: 1,
			Panels: []models.Panel{
				{ID: "p1", Description: "Mia at the gate", Characters: []string{"Mia"}},
				{ID: "p2", Description: "Mia climbs the wall", Characters: []string{"Mia"}},
				{ID: "p3", Description: "Mia in the garden", Characters: []string{"Mia"}, Narration: "It was beautiful."},
			},
		}},
	}
}

func panelID(id string) interface{} {
	return mock.MatchedBy(func(p models.Panel) bool { return p.ID == id })
}

func drain(events chan models.ProgressEvent) []models.ProgressEvent {
	close(events)
	var out []models.ProgressEvent
	for e := range events {
		out = append(out, e)
	}
	return out
}

func assertMonotonicAndComplete(t *testing.T, events []models.ProgressEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent,
			"progress decreased at event %d (%s)", i, events[i].Stage)
	}
	last := events[len(events)-1]
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, models.StageDone, last.Stage)
}

func TestGenerateCompleteStory_PanelFailureIsContained(t *testing.T) {
	h := newHarness(t, generator.Options{})
	ctx := context.Background()

	h.content.On("GenerateStoryStructure", mock.Anything, mock.Anything, mock.Anything).Return(threePanelStructure(), nil).Once()
	h.content.On("GeneratePanelIllustration", mock.Anything, panelID("p1"), mock.Anything, models.StyleComic).Return("data:image/png;base64,UDE=", nil).Once()
	h.content.On("GeneratePanelIllustration", mock.Anything, panelID("p2"), mock.Anything, models.StyleComic).Return("", models.ErrImageGenerationFailed).Once()
	h.content.On("GeneratePanelIllustration", mock.Anything, panelID("p3"), mock.Anything, models.StyleComic).Return("data:image/png;base64,UDM=", nil).Once()
	h.content.On("GenerateCoverImage", mock.Anything, mock.AnythingOfType("*models.GeneratedStory")).Return("data:image/png;base64,Q09WRVI=", nil).Once()

	events := make(chan models.ProgressEvent, 64)
	story, err := h.gen.GenerateCompleteStory(ctx, storyConfig(), []models.Character{designedMia()}, events)
	require.NoError(t, err)
	require.NotNil(t, story)

	panels := story.Pages[0].Panels
	require.Len(t, panels, 3)
	assert.True(t, panels[0].HasImage())
	assert.False(t, panels[1].HasImage())
	assert.True(t, panels[2].HasImage())
	assert.Equal(t, "p2", panels[1].ID)
	assert.Equal(t, "The Hidden Garden", story.Title)
	assert.Equal(t, "data:image/png;base64,Q09WRVI=", story.CoverImage)
	assert.Equal(t, fixedNow, story.CreatedAt)

	got := drain(events)
	assertMonotonicAndComplete(t, got)

	var panelPercents []int
	for _, e := range got {
		if e.Stage == models.StageGeneratePanels {
			panelPercents = append(panelPercents, e.Percent)
		}
	}
	assert.Equal(t, []int{45, 56, 68, 80}, panelPercents)

	loaded, err := h.stories.Load(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, story.Title, loaded.Title)
	assert.Equal(t, "data:image/png;base64,UDE=", h.stories.ListAll(ctx)[0].Thumbnail)
}

func TestGenerateCompleteStory_CreatedAtTruncatedToMilliseconds(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	h := newHarness(t, generator.Options{
		Now: func() time.Time { return time.Date(2025, 5, 10, 12, 30, 0, 123_456_789, moscow) },
	})
	ctx := context.Background()

	h.content.On("GenerateStoryStructure", mock.Anything, mock.Anything, mock.Anything).Return(threePanelStructure(), nil).Once()
	h.content.On("GeneratePanelIllustration", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("data:image/png;base64,UDE=", nil).Times(3)
	h.content.On("GenerateCoverImage", mock.Anything, mock.Anything).Return("data:image/png;base64,Q09WRVI=", nil).Once()

	story, err := h.gen.GenerateCompleteStory(ctx, storyConfig(), []models.Character{designedMia()}, nil)
	require.NoError(t, err)

	want := time.Date(2025, 5, 10, 9, 30, 0, 123_000_000, time.UTC)
	assert.Equal(t, want, story.CreatedAt)

	stored, err := h.stories.Load(ctx, story.ID)
	require.NoError(t, err)
	assert.True(t, want.Equal(stored.CreatedAt))
}

func TestGenerateCompleteStory_StructureFailureIsFatal(t *testing.T) {
	h := newHarness(t, generator.Options{AutoCoverVideo: true})

	h.content.On("GenerateStoryStructure", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, models.ErrInvalidAIResponse).Once()

	events := make(chan models.ProgressEvent, 64)
	story, err := h.gen.GenerateCompleteStory(context.Background(), storyConfig(), []models.Character{designedMia()}, events)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidAIResponse)
	assert.Nil(t, story)

	got := drain(events)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, models.StageFailed, last.Stage)
	assert.NotEmpty(t, last.Error)
	assert.Empty(t, h.stories.ListAll(context.Background()))
}

func TestGenerateCompleteStory_InvalidConfig(t *testing.T) {
	h := newHarness(t, generator.Options{})
	cfg := storyConfig()
	cfg.Theme = "horror"

	_, err := h.gen.GenerateCompleteStory(context.Background(), cfg, nil, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestGenerateCompleteStory_PreparesCharactersAndBatchesDescriptions(t *testing.T) {
	h := newHarness(t, generator.Options{})
	ctx := context.Background()

	design := models.EncodeDataURI("image/png", []byte("CACHED-DESIGN"))
	h.characters.Save(ctx, []models.Character{{ID: "cache-id", Name: "mia", Description: "cached girl", GeneratedDesignImage: design}})

	input := []models.Character{
		{ID: "ui-mia", Name: "Mia"},
		{ID: "ui-rex", Name: "Rex"},
		{ID: "ui-owl", Name: "Owl", ImageData: []byte("OWL"), ImageMimeType: "image/jpeg"},
		{ID: "ui-fox", Name: "Fox"},
	}

	h.content.On("DescribeCharacters", mock.Anything, []string{"Rex", "Fox"}, models.AgeGroupChild).Return([]models.Character{
		{Name: "Rex", Description: "a loyal dog", Appearance: "brown fur"},
		{Name: "Fox", Description: "a clever fox", Appearance: "orange tail"},
	}, nil).Once()

	var seen []models.Character
	h.content.On("GenerateStoryStructure", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { seen = args.Get(2).([]models.Character) }).
		Return(&service.StoryStructure{Title: "T", Pages: []models.StoryPage{{PageNumber: 1, Panels: []models.Panel{
			{ID: "p1", Description: "all together", Characters: []string{"Mia", "Rex", "Owl", "Fox"}},
		}}}}, nil).Once()

	var illustratedWith []models.Character
	h.content.On("GeneratePanelIllustration", mock.Anything, panelID("p1"), mock.Anything, models.StyleComic).
		Run(func(args mock.Arguments) { illustratedWith = args.Get(2).([]models.Character) }).
		Return("data:image/png;base64,UA==", nil).Once()
	h.content.On("GenerateCoverImage", mock.Anything, mock.Anything).Return("", models.ErrImageGenerationFailed).Once()

	story, err := h.gen.GenerateCompleteStory(ctx, storyConfig(), input, nil)
	require.NoError(t, err)

	require.Len(t, seen, 4)
	assert.Equal(t, "ui-mia", seen[0].ID)
	assert.Equal(t, design, seen[0].GeneratedDesignImage)
	assert.Equal(t, "cached girl", seen[0].Description)
	assert.Equal(t, "a loyal dog", seen[1].Description)
	assert.Equal(t, "ui-rex", seen[1].ID)
	assert.Empty(t, seen[2].Description)
	assert.Equal(t, "orange tail", seen[3].Appearance)

	require.Len(t, illustratedWith, 2)
	assert.Equal(t, "Mia", illustratedWith[0].Name)
	assert.Equal(t, "Owl", illustratedWith[1].Name)

	assert.Len(t, story.Characters, 4)
	assert.Equal(t, []string{"Mia", "Rex", "Owl", "Fox"}, story.Pages[0].Panels[0].Characters)
	assert.Empty(t, story.CoverImage)
}

func TestGenerateCompleteStory_EnrichmentFailureIsBestEffort(t *testing.T) {
	h := newHarness(t, generator.Options{})

	h.content.On("DescribeCharacters", mock.Anything, []string{"Rex"}, models.AgeGroupChild).Return(nil, models.ErrInvalidAIResponse).Once()
	h.content.On("GenerateStoryStructure", mock.Anything, mock.Anything, mock.Anything).Return(&service.StoryStructure{
		Title: "T",
		Pages: []models.StoryPage{{PageNumber: 1, Panels: []models.Panel{{ID: "p1", Description: "d", Characters: []string{"Rex"}}}}},
	}, nil).Once()
	h.content.On("GeneratePanelIllustration", mock.Anything, panelID("p1"), mock.Anything, mock.Anything).Return("data:image/png;base64,UA==", nil).Once()
	h.content.On("GenerateCoverImage", mock.Anything, mock.Anything).Return("data:image/png;base64,Qw==", nil).Once()

	story, err := h.gen.GenerateCompleteStory(context.Background(), storyConfig(), []models.Character{{Name: "Rex"}}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, story.Characters[0].ID)
}

func TestGenerateCompleteStory_AttachesCoverVideoAndPersistsAgain(t *testing.T) {
	videoOpts := models.VideoOptions{Duration: "5", Resolution: "720p"}
	h := newHarness(t, generator.Options{AutoCoverVideo: true, VideoOptions: videoOpts})
	ctx := context.Background()

	h.content.On("GenerateStoryStructure", mock.Anything, mock.Anything, mock.Anything).Return(threePanelStructure(), nil).Once()
	h.content.On("GeneratePanelIllustration", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("data:image/png;base64,UA==", nil).Times(3)
	h.content.On("GenerateCoverImage", mock.Anything, mock.Anything).Return("data:image/png;base64,Qw==", nil).Once()
	h.video.On("SubmitCoverVideo", mock.Anything, mock.AnythingOfType("*models.GeneratedStory"), videoOpts).
		Return(&models.VideoResult{VideoURL: "https://cdn.example.com/cover.mp4", RequestID: "req-9"}, nil).Once()

	events := make(chan models.ProgressEvent, 64)
	story, err := h.gen.GenerateCompleteStory(ctx, storyConfig(), []models.Character{designedMia()}, events)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/cover.mp4", story.CoverVideoURL)
	assert.Equal(t, "req-9", story.CoverVideoRequestID)

	loaded, err := h.stories.Load(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/cover.mp4", loaded.CoverVideoURL)
	assert.True(t, h.stories.ListAll(ctx)[0].HasCoverVideo)

	got := drain(events)
	assertMonotonicAndComplete(t, got)
	stages := make(map[models.Stage]bool)
	for _, e := range got {
		stages[e.Stage] = true
	}
	assert.True(t, stages[models.StageGenerateCoverVideo])

	rec, ok := h.characters.ByName(ctx, "mia")
	require.True(t, ok)
	assert.Equal(t, 1, rec.UsageCount)
}

func TestGenerateCompleteStory_VideoFailureIsBestEffort(t *testing.T) {
	h := newHarness(t, generator.Options{AutoCoverVideo: true})

	h.content.On("GenerateStoryStructure", mock.Anything, mock.Anything, mock.Anything).Return(threePanelStructure(), nil).Once()
	h.content.On("GeneratePanelIllustration", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("data:image/png;base64,UA==", nil).Times(3)
	h.content.On("GenerateCoverImage", mock.Anything, mock.Anything).Return("data:image/png;base64,Qw==", nil).Once()
	h.video.On("SubmitCoverVideo", mock.Anything, mock.Anything, mock.Anything).Return(nil, models.ErrVideoJobFailed).Once()

	events := make(chan models.ProgressEvent, 64)
	story, err := h.gen.GenerateCompleteStory(context.Background(), storyConfig(), []models.Character{designedMia()}, events)
	require.NoError(t, err)
	assert.Empty(t, story.CoverVideoURL)
	assertMonotonicAndComplete(t, drain(events))
}

func TestGenerateCompleteStory_PersistFailureIsBestEffort(t *testing.T) {
	content := mocks.NewMockContentGenerator(t)
	video := mocks.NewMockVideoGenerator(t)
	stories := &mocks.StoryRepository{}
	characters := storage.NewCharacterCache(storage.NewMemoryStore(0), storage.CharacterCacheConfig{}, zap.NewNop())
	gen := generator.New(content, video, characters, stories, generator.Options{}, zap.NewNop())

	content.On("GenerateStoryStructure", mock.Anything, mock.Anything, mock.Anything).Return(threePanelStructure(), nil).Once()
	content.On("GeneratePanelIllustration", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("data:image/png;base64,UA==", nil).Times(3)
	content.On("GenerateCoverImage", mock.Anything, mock.Anything).Return("data:image/png;base64,Qw==", nil).Once()
	stories.On("Save", mock.Anything, mock.Anything).Return(models.ErrStorageQuotaExceeded).Once()

	story, err := gen.GenerateCompleteStory(context.Background(), storyConfig(), []models.Character{designedMia()}, nil)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,Qw==", story.CoverImage)
	stories.AssertExpectations(t)
}

func TestGenerateCompleteStory_CancelledDuringPanels(t *testing.T) {
	h := newHarness(t, generator.Options{AutoCoverVideo: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.content.On("GenerateStoryStructure", mock.Anything, mock.Anything, mock.Anything).Return(threePanelStructure(), nil).Once()
	h.content.On("GeneratePanelIllustration", mock.Anything, panelID("p1"), mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled).Once()

	story, err := h.gen.GenerateCompleteStory(ctx, storyConfig(), []models.Character{designedMia()}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrGenerationCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, story)
	assert.Len(t, story.Pages[0].Panels, 3)
	assert.Empty(t, h.stories.ListAll(context.Background()))
}

func TestGenerateCoverVideo_MissingCoverImage(t *testing.T) {
	h := newHarness(t, generator.Options{})

	_, err := h.gen.GenerateCoverVideo(context.Background(), &models.GeneratedStory{ID: "s1"}, nil)
	assert.ErrorIs(t, err, models.ErrMissingCoverImage)
	h.video.AssertNotCalled(t, "SubmitCoverVideo", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerateCoverVideo_PersistsResult(t *testing.T) {
	h := newHarness(t, generator.Options{})
	ctx := context.Background()
	story := &models.GeneratedStory{ID: "s1", Title: "T", CreatedAt: fixedNow, CoverImage: "data:image/png;base64,Qw=="}

	h.video.On("SubmitCoverVideo", mock.Anything, story, mock.Anything).
		Return(&models.VideoResult{VideoURL: "https://v", RequestID: "r1"}, nil).Once()

	events := make(chan models.ProgressEvent, 8)
	result, err := h.gen.GenerateCoverVideo(ctx, story, events)
	require.NoError(t, err)
	assert.Equal(t, "r1", result.RequestID)

	loaded, err := h.stories.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "https://v", loaded.CoverVideoURL)
	assertMonotonicAndComplete(t, drain(events))
}

func TestRegeneratePanel(t *testing.T) {
	h := newHarness(t, generator.Options{})
	noReference := models.Character{Name: "Ghost"}
	panel := models.Panel{ID: "p7", Description: "boo", Characters: []string{"Mia", "Ghost"}}

	h.content.On("GeneratePanelIllustration", mock.Anything, panel, []models.Character{designedMia()}, models.StyleFairyTale).
		Return("data:image/png;base64,TkVX", nil).Once()

	updated, err := h.gen.RegeneratePanel(context.Background(), panel, []models.Character{designedMia(), noReference}, models.StyleFairyTale)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,TkVX", updated.ImageURL)
	assert.Equal(t, "p7", updated.ID)
}

func TestRegeneratePanel_Failure(t *testing.T) {
	h := newHarness(t, generator.Options{})
	h.content.On("GeneratePanelIllustration", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", models.ErrImageGenerationFailed).Once()

	_, err := h.gen.RegeneratePanel(context.Background(), models.Panel{ID: "p1"}, nil, models.StyleComic)
	assert.ErrorIs(t, err, models.ErrImageGenerationFailed)
}

func TestWaitForVideo(t *testing.T) {
	poller := generator.VideoPoller{MaxAttempts: 3, Delay: time.Millisecond}

	t.Run("completed", func(t *testing.T) {
		h := newHarness(t, generator.Options{Poller: poller})
		h.video.On("QueryStatus", mock.Anything, "r1").Return(models.VideoStatusInQueue, nil).Once()
		h.video.On("QueryStatus", mock.Anything, "r1").Return(models.VideoStatusCompleted, nil).Once()
		h.video.On("FetchResult", mock.Anything, "r1").Return(&models.VideoResult{VideoURL: "https://v", RequestID: "r1"}, nil).Once()

		result, err := h.gen.WaitForVideo(context.Background(), "r1")
		require.NoError(t, err)
		assert.Equal(t, "https://v", result.VideoURL)
	})

	t.Run("failed", func(t *testing.T) {
		h := newHarness(t, generator.Options{Poller: poller})
		h.video.On("QueryStatus", mock.Anything, "r1").Return(models.VideoStatusFailed, nil).Once()

		_, err := h.gen.WaitForVideo(context.Background(), "r1")
		assert.ErrorIs(t, err, models.ErrVideoJobFailed)
	})

	t.Run("timeout", func(t *testing.T) {
		h := newHarness(t, generator.Options{Poller: poller})
		h.video.On("QueryStatus", mock.Anything, "r1").Return(models.VideoStatusInProgress, nil).Times(3)

		_, err := h.gen.WaitForVideo(context.Background(), "r1")
		assert.ErrorIs(t, err, models.ErrVideoJobTimeout)
		assert.False(t, errors.Is(err, models.ErrVideoJobFailed))
	})
}

func TestDesignCharacter(t *testing.T) {
	h := newHarness(t, generator.Options{})
	ctx := context.Background()
	rex := models.Character{Name: "Rex", ImageData: []byte("PHOTO"), ImageMimeType: "image/jpeg"}
	design := models.EncodeDataURI("image/png", []byte("REX-DESIGN"))

	h.content.On("GenerateCharacterDesign", mock.Anything, rex, models.StylePopUp).Return(design, nil).Once()

	designed, err := h.gen.DesignCharacter(ctx, rex, models.StylePopUp)
	require.NoError(t, err)
	assert.Equal(t, design, designed.GeneratedDesignImage)
	assert.NotEmpty(t, designed.ID)

	rec, ok := h.characters.ByName(ctx, "rex")
	require.True(t, ok)
	assert.Equal(t, design, rec.GeneratedDesignImage)
}

func TestDesignCharacter_FailureIsSurfaced(t *testing.T) {
	h := newHarness(t, generator.Options{})
	h.content.On("GenerateCharacterDesign", mock.Anything, mock.Anything, mock.Anything).Return("", models.ErrImageGenerationFailed).Once()

	_, err := h.gen.DesignCharacter(context.Background(), models.Character{Name: "Rex"}, models.StyleComic)
	assert.ErrorIs(t, err, models.ErrImageGenerationFailed)
	_, ok := h.characters.ByName(context.Background(), "rex")
	assert.False(t, ok)
}
