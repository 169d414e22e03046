package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"storybook-server/internal/config"
)

// FinishReasonProhibitedContent - причина завершения при модерационном отказе.
const FinishReasonProhibitedContent = "PROHIBITED_CONTENT"

// InlineImage - изображение, передаваемое провайдеру или полученное от него.
type InlineImage struct {
	MimeType string
	Data     []byte
}

// ContentPart - часть мультимодального запроса или ответа: текст либо изображение.
type ContentPart struct {
	Text  string
	Image *InlineImage
}

// TextRequest - запрос на генерацию текста/JSON.
type TextRequest struct {
	Prompt string
	Images []InlineImage
	// Schema ограничивает форму JSON-ответа; бэкенды без поддержки схем включают JSON-режим.
	Schema *genai.Schema
	JSON   bool
}

// ImageRequest - упорядоченные части запроса на генерацию изображения.
type ImageRequest struct {
	Parts []ContentPart
}

// Candidate - один вариант ответа провайдера.
type Candidate struct {
	FinishReason string
	Parts        []ContentPart
}

// ImageResponse - нормализованный ответ на генерацию изображения.
type ImageResponse struct {
	Candidates  []Candidate
	BlockReason string
}

// TextBackend генерирует текст.
type TextBackend interface {
	Name() string
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

// ImageBackend генерирует изображения.
type ImageBackend interface {
	Name() string
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error)
}

// Backends - основной и резервный наборы бэкендов (по одному на ключ доступа).
type Backends struct {
	Text          TextBackend
	FallbackText  TextBackend
	Image         ImageBackend
	FallbackImage ImageBackend
}

// NewBackends создает бэкенды по конфигурации. Изображения всегда генерирует Gemini,
// текстовый бэкенд выбирается через AI_TEXT_BACKEND.
func NewBackends(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (Backends, error) {
	var backends Backends

	primaryGemini, err := NewGeminiBackend(ctx, cfg, cfg.APIKey, "primary", logger)
	if err != nil {
		return backends, err
	}
	backends.Image = primaryGemini

	var fallbackGemini *GeminiBackend
	if cfg.FallbackAPIKey != "" {
		fallbackGemini, err = NewGeminiBackend(ctx, cfg, cfg.FallbackAPIKey, "fallback", logger)
		if err != nil {
			return backends, err
		}
		backends.FallbackImage = fallbackGemini
	}

	switch strings.ToLower(cfg.TextBackend) {
	case "gemini", "":
		logger.Info("Using text backend: Gemini", zap.String("model", cfg.TextModel))
		backends.Text = primaryGemini
		if fallbackGemini != nil {
			backends.FallbackText = fallbackGemini
		}
	case "openai":
		logger.Info("Using text backend: OpenAI", zap.String("model", cfg.TextModel), zap.String("baseURL", cfg.BaseURL))
		backends.Text = NewOpenAIBackend(cfg, cfg.OpenAIAPIKey, "primary", logger)
		if cfg.OpenAIFallbackAPIKey != "" {
			backends.FallbackText = NewOpenAIBackend(cfg, cfg.OpenAIFallbackAPIKey, "fallback", logger)
		}
	case "ollama":
		logger.Info("Using text backend: Ollama", zap.String("model", cfg.TextModel), zap.String("baseURL", cfg.BaseURL))
		ollama, err := NewOllamaBackend(cfg, logger)
		if err != nil {
			return backends, err
		}
		backends.Text = ollama
	default:
		return backends, fmt.Errorf("unknown text backend: '%s'", cfg.TextBackend)
	}

	return backends, nil
}
