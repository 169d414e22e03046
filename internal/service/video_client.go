package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/models"
)

const videoProvider = "fal"

// VideoGenerator - операции очереди генерации видео из изображения.
type VideoGenerator interface {
	// SubmitCoverVideo отправляет задание и ждет его завершения.
	SubmitCoverVideo(ctx context.Context, story *models.GeneratedStory, opts models.VideoOptions) (*models.VideoResult, error)
	QueryStatus(ctx context.Context, requestID string) (models.VideoStatus, error)
	FetchResult(ctx context.Context, requestID string) (*models.VideoResult, error)
}

type videoClientImpl struct {
	httpClient   *http.Client
	baseURL      string
	model        string
	apiKey       string
	pollInterval time.Duration
	defaults     models.VideoOptions
	logger       *zap.Logger
}

// NewVideoClient создает клиент очереди видеопровайдера.
func NewVideoClient(cfg config.VideoConfig, logger *zap.Logger) VideoGenerator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &videoClientImpl{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        strings.Trim(cfg.Model, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: pollInterval,
		defaults: models.VideoOptions{
			Duration:      cfg.Duration,
			Resolution:    cfg.Resolution,
			GenerateAudio: cfg.GenerateAudio,
		},
		logger: logger.Named("VideoClient"),
	}
}

type videoSubmitRequest struct {
	Prompt        string `json:"prompt"`
	ImageURL      string `json:"image_url"`
	Duration      string `json:"duration,omitempty"`
	Resolution    string `json:"resolution,omitempty"`
	GenerateAudio bool   `json:"generate_audio"`
}

type videoSubmitResponse struct {
	RequestID string `json:"request_id"`
}

type videoStatusResponse struct {
	Status string `json:"status"`
}

type videoResultResponse struct {
	Video struct {
		URL string `json:"url"`
	} `json:"video"`
}

func (c *videoClientImpl) SubmitCoverVideo(ctx context.Context, story *models.GeneratedStory, opts models.VideoOptions) (*models.VideoResult, error) {
	if story == nil || strings.TrimSpace(story.CoverImage) == "" {
		return nil, models.ErrMissingCoverImage
	}
	opts = c.withDefaults(opts)
	log := c.logger.With(zap.String("storyID", story.ID))

	body := videoSubmitRequest{
		Prompt:        buildVideoPrompt(story),
		ImageURL:      story.CoverImage,
		Resolution:    opts.Resolution,
		GenerateAudio: opts.GenerateAudio,
	}
	if opts.Duration != "" {
		body.Duration = opts.Duration + "s"
	}

	var submitted videoSubmitResponse
	if err := c.do(ctx, "submit", http.MethodPost, c.baseURL+"/"+c.model, body, &submitted); err != nil {
		log.Error("Video job submission failed", zap.Error(err))
		return nil, err
	}
	if submitted.RequestID == "" {
		return nil, fmt.Errorf("%w: %s: submit response has no request id", models.ErrProviderFailure, videoProvider)
	}
	log = log.With(zap.String("requestID", submitted.RequestID))
	log.Info("Video job submitted", zap.String("duration", opts.Duration), zap.String("resolution", opts.Resolution))

	if err := c.waitForCompletion(ctx, submitted.RequestID, log); err != nil {
		return nil, err
	}
	return c.FetchResult(ctx, submitted.RequestID)
}

func (c *videoClientImpl) waitForCompletion(ctx context.Context, requestID string, log *zap.Logger) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		status, err := c.QueryStatus(ctx, requestID)
		if err != nil {
			return err
		}
		log.Debug("Video job status", zap.String("status", string(status)))
		switch status {
		case models.VideoStatusCompleted:
			return nil
		case models.VideoStatusFailed:
			return fmt.Errorf("%w: request %s", models.ErrVideoJobFailed, requestID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *videoClientImpl) QueryStatus(ctx context.Context, requestID string) (models.VideoStatus, error) {
	if requestID == "" {
		return "", fmt.Errorf("%w: empty request id", models.ErrInvalidInput)
	}
	var resp videoStatusResponse
	if err := c.do(ctx, "status", http.MethodGet, c.requestURL(requestID)+"/status", nil, &resp); err != nil {
		return "", err
	}
	status := models.VideoStatus(strings.ToUpper(resp.Status))
	switch status {
	case models.VideoStatusInQueue, models.VideoStatusInProgress, models.VideoStatusCompleted, models.VideoStatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("%w: %s: unknown job status %q", models.ErrProviderFailure, videoProvider, resp.Status)
}

func (c *videoClientImpl) FetchResult(ctx context.Context, requestID string) (*models.VideoResult, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: empty request id", models.ErrInvalidInput)
	}
	var resp videoResultResponse
	if err := c.do(ctx, "result", http.MethodGet, c.requestURL(requestID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Video.URL == "" {
		return nil, fmt.Errorf("%w: %s: result for %s has no video url", models.ErrProviderFailure, videoProvider, requestID)
	}
	return &models.VideoResult{VideoURL: resp.Video.URL, RequestID: requestID}, nil
}

func (c *videoClientImpl) withDefaults(opts models.VideoOptions) models.VideoOptions {
	if opts.Duration == "" {
		opts.Duration = c.defaults.Duration
	}
	if opts.Resolution == "" {
		opts.Resolution = c.defaults.Resolution
	}
	return opts
}

func (c *videoClientImpl) requestURL(requestID string) string {
	return c.baseURL + "/" + c.model + "/requests/" + requestID
}

// do выполняет запрос к очереди и декодирует JSON-ответ в out.
func (c *videoClientImpl) do(ctx context.Context, operation, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal video %s request: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create video %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		videoRequestsTotal.WithLabelValues(operation, "error").Inc()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &ProviderError{Provider: videoProvider, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		videoRequestsTotal.WithLabelValues(operation, "error").Inc()
		return &ProviderError{Provider: videoProvider, StatusCode: resp.StatusCode, Message: providerMessage(respBody)}
	}
	if readErr != nil {
		videoRequestsTotal.WithLabelValues(operation, "error").Inc()
		return &ProviderError{Provider: videoProvider, StatusCode: resp.StatusCode, Message: "failed to read response body", Err: readErr}
	}
	videoRequestsTotal.WithLabelValues(operation, "success").Inc()

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s: invalid %s response: %w", models.ErrProviderFailure, videoProvider, operation, err)
	}
	return nil
}

// providerMessage достает текст ошибки из тела ответа ({"detail": ...} или {"error": ...}).
func providerMessage(body []byte) string {
	var parsed struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		var detail string
		if json.Unmarshal(parsed.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if len(parsed.Detail) > 0 {
			return string(parsed.Detail)
		}
	}
	return truncate(strings.TrimSpace(string(body)), 500)
}
