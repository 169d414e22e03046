package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"storybook-server/internal/config"
)

var _ TextBackend = (*OllamaBackend)(nil)

// OllamaBackend - текстовый бэкенд для локального Ollama.
type OllamaBackend struct {
	client      *api.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewOllamaBackend создает клиента Ollama по AI_BASE_URL.
func NewOllamaBackend(cfg config.AIConfig, logger *zap.Logger) (*OllamaBackend, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ollama base url '%s': %w", baseURL, err)
	}
	return &OllamaBackend{
		client:      api.NewClient(parsedURL, &http.Client{Timeout: cfg.Timeout}),
		model:       cfg.TextModel,
		temperature: cfg.Temperature,
		logger:      logger.Named("OllamaBackend"),
	}, nil
}

func (b *OllamaBackend) Name() string {
	return "ollama"
}

func (b *OllamaBackend) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	message := api.Message{Role: "user", Content: req.Prompt}
	for _, img := range req.Images {
		message.Images = append(message.Images, api.ImageData(img.Data))
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    b.model,
		Messages: []api.Message{message},
		Stream:   &stream,
		Options:  map[string]interface{}{"temperature": b.temperature},
	}
	if req.JSON || req.Schema != nil {
		chatReq.Format = json.RawMessage(`"json"`)
	}

	var content strings.Builder
	err := b.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done && resp.DoneReason != "" && resp.DoneReason != "stop" {
			b.logger.Warn("Ollama finished with unexpected reason", zap.String("reason", resp.DoneReason))
		}
		return nil
	})
	if err != nil {
		return "", b.wrapError(err)
	}
	return content.String(), nil
}

func (b *OllamaBackend) wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return &ProviderError{Provider: "ollama", StatusCode: statusErr.StatusCode, Message: statusErr.ErrorMessage, Err: err}
	}
	return &ProviderError{Provider: "ollama", Message: err.Error(), Err: err}
}
