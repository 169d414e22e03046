package models

import "errors"

// Ошибки предметной области генератора сторибуков.
var (
	// Общие ошибки
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input data")

	// Генеративный провайдер
	ErrInvalidAIResponse     = errors.New("invalid ai response")
	ErrImageGenerationFailed = errors.New("image generation failed")
	ErrProhibitedContent     = errors.New("prohibited content")
	ErrCredentialFailure     = errors.New("credential failure")
	ErrProviderFailure       = errors.New("provider request failed")

	// Видео
	ErrMissingCoverImage = errors.New("story has no cover image")
	ErrVideoJobFailed    = errors.New("video job failed")
	ErrVideoJobTimeout   = errors.New("video job timed out")

	// Хранилище
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")

	// Пайплайн
	ErrGenerationCancelled = errors.New("generation cancelled")
)
