package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"storybook-server/internal/config"
)

var (
	_ TextBackend  = (*GeminiBackend)(nil)
	_ ImageBackend = (*GeminiBackend)(nil)
)

// GeminiBackend работает с Gemini через google.golang.org/genai.
type GeminiBackend struct {
	client      *genai.Client
	textModel   string
	imageModel  string
	temperature float32
	credential  string
	logger      *zap.Logger
}

// NewGeminiBackend создает бэкенд для одного ключа доступа.
// credential - метка ключа для логов и метрик (primary/fallback).
func NewGeminiBackend(ctx context.Context, cfg config.AIConfig, apiKey, credential string, logger *zap.Logger) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini %s api key is empty", credential)
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.GeminiBaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.GeminiBaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiBackend{
		client:      client,
		textModel:   cfg.TextModel,
		imageModel:  cfg.ImageModel,
		temperature: cfg.Temperature,
		credential:  credential,
		logger:      logger.Named("GeminiBackend").With(zap.String("credential", credential)),
	}, nil
}

func (b *GeminiBackend) Name() string {
	return "gemini_" + b.credential
}

func (b *GeminiBackend) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MimeType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	genCfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(b.temperature)}
	if req.JSON || req.Schema != nil {
		genCfg.ResponseMIMEType = "application/json"
		genCfg.ResponseSchema = req.Schema
	}

	b.logger.Debug("Sending text request", zap.String("model", b.textModel), zap.Int("promptBytes", len(req.Prompt)), zap.Int("images", len(req.Images)))
	resp, err := b.client.Models.GenerateContent(ctx, b.textModel, contents, genCfg)
	if err != nil {
		return "", b.wrapError(err)
	}
	return resp.Text(), nil
}

func (b *GeminiBackend) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		switch {
		case p.Image != nil:
			parts = append(parts, genai.NewPartFromBytes(p.Image.Data, p.Image.MimeType))
		case p.Text != "":
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	genCfg := &genai.GenerateContentConfig{
		Temperature:        genai.Ptr(b.temperature),
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	b.logger.Debug("Sending image request", zap.String("model", b.imageModel), zap.Int("parts", len(parts)))
	resp, err := b.client.Models.GenerateContent(ctx, b.imageModel, contents, genCfg)
	if err != nil {
		return nil, b.wrapError(err)
	}

	out := &ImageResponse{}
	if resp.PromptFeedback != nil {
		out.BlockReason = string(resp.PromptFeedback.BlockReason)
	}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		c := Candidate{FinishReason: string(cand.FinishReason)}
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					c.Parts = append(c.Parts, ContentPart{Image: &InlineImage{
						MimeType: part.InlineData.MIMEType,
						Data:     part.InlineData.Data,
					}})
					continue
				}
				if part.Text != "" {
					c.Parts = append(c.Parts, ContentPart{Text: part.Text})
				}
			}
		}
		out.Candidates = append(out.Candidates, c)
	}
	return out, nil
}

func (b *GeminiBackend) wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &ProviderError{Provider: "gemini", StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message, Err: err}
	}
	return &ProviderError{Provider: "gemini", Message: err.Error(), Err: err}
}
