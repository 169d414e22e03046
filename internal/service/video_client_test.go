package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/models"
)

const testVideoModel = "fal-ai/test/image-to-video"

type fakeVideoQueue struct {
	t        *testing.T
	requests atomic.Int32
	mu       sync.Mutex
	statuses []string
	submit   videoSubmitRequest
	authSeen string
	failWith int
}

func (q *fakeVideoQueue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q.requests.Add(1)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.authSeen = r.Header.Get("Authorization")

	if q.failWith != 0 {
		w.WriteHeader(q.failWith)
		_, _ = w.Write([]byte(`{"detail":"quota exhausted for key"}`))
		return
	}

	base := "/" + testVideoModel
	switch {
	case r.Method == http.MethodPost && r.URL.Path == base:
		assert.NoError(q.t, json.NewDecoder(r.Body).Decode(&q.submit))
		_, _ = w.Write([]byte(`{"request_id":"req-1"}`))
	case r.Method == http.MethodGet && r.URL.Path == base+"/requests/req-1/status":
		status := "COMPLETED"
		if len(q.statuses) > 0 {
			status = q.statuses[0]
			q.statuses = q.statuses[1:]
		}
		_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
	case r.Method == http.MethodGet && r.URL.Path == base+"/requests/req-1":
		_, _ = w.Write([]byte(`{"video":{"url":"https://cdn.example.com/v.mp4"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestVideoClient(t *testing.T, queue *fakeVideoQueue) VideoGenerator {
	server := httptest.NewServer(queue)
	t.Cleanup(server.Close)
	return NewVideoClient(config.VideoConfig{
		BaseURL:      server.URL,
		Model:        testVideoModel,
		APIKey:       "secret",
		Timeout:      5 * time.Second,
		PollInterval: time.Millisecond,
		Duration:     "8",
		Resolution:   "720p",
	}, zap.NewNop())
}

func storyWithCover() *models.GeneratedStory {
	return &models.GeneratedStory{
		ID:    "story-1",
		Title: "Moon Trip",
		Config: models.StoryConfig{
			Theme: models.ThemeMagical,
			Style: models.StylePictureBook,
		},
		Characters: []models.Character{{Name: "Mia"}, {Name: "Rex"}, {Name: "Owl"}},
		Pages: []models.StoryPage{
			{PageNumber: 1, Panels: []models.Panel{{ID: "p1", Narration: "Mia found a glowing map."}}},
			{PageNumber: 2, Panels: []models.Panel{{ID: "p2", Dialogue: []models.DialogueLine{{Character: "Rex", Text: "Let's go!"}}}}},
			{PageNumber: 3, Panels: []models.Panel{{ID: "p3", Narration: "This page is not part of the excerpt."}}},
		},
		CoverImage: models.EncodeDataURI("image/png", []byte("COVER")),
	}
}

func TestVideoClient_MissingCoverImageMakesNoNetworkCall(t *testing.T) {
	queue := &fakeVideoQueue{t: t}
	client := newTestVideoClient(t, queue)

	story := storyWithCover()
	story.CoverImage = ""
	_, err := client.SubmitCoverVideo(context.Background(), story, models.VideoOptions{})
	assert.ErrorIs(t, err, models.ErrMissingCoverImage)
	assert.Equal(t, int32(0), queue.requests.Load())
}

func TestVideoClient_SubmitWaitsForCompletion(t *testing.T) {
	queue := &fakeVideoQueue{t: t, statuses: []string{"IN_QUEUE", "IN_PROGRESS", "COMPLETED"}}
	client := newTestVideoClient(t, queue)

	result, err := client.SubmitCoverVideo(context.Background(), storyWithCover(), models.VideoOptions{Resolution: "1080p", GenerateAudio: true})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/v.mp4", result.VideoURL)
	assert.Equal(t, "req-1", result.RequestID)

	// submit + 3 status + result
	assert.Equal(t, int32(5), queue.requests.Load())
	assert.Equal(t, "Key secret", queue.authSeen)
	assert.Equal(t, "8s", queue.submit.Duration)
	assert.Equal(t, "1080p", queue.submit.Resolution)
	assert.True(t, queue.submit.GenerateAudio)
	assert.Equal(t, storyWithCover().CoverImage, queue.submit.ImageURL)
	assert.Contains(t, queue.submit.Prompt, "Mia and Rex")
	assert.NotContains(t, queue.submit.Prompt, "Owl")
}

func TestVideoClient_FailedJob(t *testing.T) {
	queue := &fakeVideoQueue{t: t, statuses: []string{"IN_PROGRESS", "FAILED"}}
	client := newTestVideoClient(t, queue)

	_, err := client.SubmitCoverVideo(context.Background(), storyWithCover(), models.VideoOptions{})
	assert.ErrorIs(t, err, models.ErrVideoJobFailed)
}

func TestVideoClient_ProviderErrorPreservesMessage(t *testing.T) {
	queue := &fakeVideoQueue{t: t, failWith: http.StatusForbidden}
	client := newTestVideoClient(t, queue)

	_, err := client.QueryStatus(context.Background(), "req-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProviderFailure)
	assert.Contains(t, err.Error(), "quota exhausted for key")
	assert.Equal(t, int32(1), queue.requests.Load())
}

func TestVideoClient_QueryStatusAndFetchResult(t *testing.T) {
	queue := &fakeVideoQueue{t: t, statuses: []string{"IN_PROGRESS"}}
	client := newTestVideoClient(t, queue)

	status, err := client.QueryStatus(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusInProgress, status)

	result, err := client.FetchResult(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, &models.VideoResult{VideoURL: "https://cdn.example.com/v.mp4", RequestID: "req-1"}, result)

	_, err = client.QueryStatus(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestBuildVideoPrompt_Deterministic(t *testing.T) {
	story := storyWithCover()
	first := buildVideoPrompt(story)
	assert.Equal(t, first, buildVideoPrompt(story))
	assert.Contains(t, first, "glowing sparkles")
	assert.Contains(t, first, "Mia found a glowing map.")
	assert.Contains(t, first, `Rex: "Let's go!"`)
	assert.NotContains(t, first, "not part of the excerpt")

	story.Config.Theme = models.ThemeFunny
	assert.Contains(t, buildVideoPrompt(story), "gentle natural motion")
	story.Config.Theme = models.ThemeMystery
	assert.Contains(t, buildVideoPrompt(story), "fog")
}

func TestStoryExcerpt_Truncated(t *testing.T) {
	story := &models.GeneratedStory{Pages: []models.StoryPage{{Panels: []models.Panel{{Narration: strings.Repeat("a", 500)}}}}}
	excerpt := storyExcerpt(story, 2, maxVideoExcerptLength)
	assert.LessOrEqual(t, len([]rune(excerpt)), maxVideoExcerptLength)
	assert.True(t, strings.HasSuffix(excerpt, "..."))
}
