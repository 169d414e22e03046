package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/models"
)

var _ TextBackend = (*OpenAIBackend)(nil)

// OpenAIBackend - текстовый бэкенд для OpenAI-совместимых API.
type OpenAIBackend struct {
	client      *openaigo.Client
	model       string
	temperature float32
	credential  string
	logger      *zap.Logger
}

// NewOpenAIBackend создает бэкенд для одного ключа доступа.
func NewOpenAIBackend(cfg config.AIConfig, apiKey, credential string, logger *zap.Logger) *OpenAIBackend {
	openaiConfig := openaigo.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		openaiConfig.BaseURL = cfg.BaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAIBackend{
		client:      openaigo.NewClientWithConfig(openaiConfig),
		model:       cfg.TextModel,
		temperature: cfg.Temperature,
		credential:  credential,
		logger:      logger.Named("OpenAIBackend").With(zap.String("credential", credential)),
	}
}

func (b *OpenAIBackend) Name() string {
	return "openai_" + b.credential
}

func (b *OpenAIBackend) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	message := openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser}
	if len(req.Images) == 0 {
		message.Content = req.Prompt
	} else {
		message.MultiContent = []openaigo.ChatMessagePart{{Type: openaigo.ChatMessagePartTypeText, Text: req.Prompt}}
		for _, img := range req.Images {
			message.MultiContent = append(message.MultiContent, openaigo.ChatMessagePart{
				Type:     openaigo.ChatMessagePartTypeImageURL,
				ImageURL: &openaigo.ChatMessageImageURL{URL: models.EncodeDataURI(img.MimeType, img.Data)},
			})
		}
	}

	request := openaigo.ChatCompletionRequest{
		Model:       b.model,
		Messages:    []openaigo.ChatCompletionMessage{message},
		Temperature: b.temperature,
	}
	if req.JSON || req.Schema != nil {
		request.ResponseFormat = &openaigo.ChatCompletionResponseFormat{Type: openaigo.ChatCompletionResponseFormatTypeJSONObject}
	}

	b.logger.Debug("Sending text request", zap.String("model", b.model), zap.Int("promptBytes", len(req.Prompt)))
	resp, err := b.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", b.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *OpenAIBackend) wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openaigo.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openaigo.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Message: fmt.Sprint(reqErr.Err), Err: err}
	}
	return &ProviderError{Provider: "openai", Message: err.Error(), Err: err}
}
