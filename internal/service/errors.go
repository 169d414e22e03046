package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"storybook-server/internal/models"
)

// errEmptyImage - провайдер ответил без данных изображения.
var errEmptyImage = errors.New("response contained no image data")

// ProviderError - нормализованная ошибка внешнего провайдера.
// Все SDK-ошибки приводятся к этому типу на границе бэкенда.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap позволяет проверять как models.ErrProviderFailure, так и исходную ошибку SDK.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{models.ErrProviderFailure}
	}
	return []error{models.ErrProviderFailure, e.Err}
}

// IsCredentialFailure - ошибка, при которой имеет смысл повторить запрос с резервным ключом:
// HTTP 403/429/503 или сообщение провайдера о квоте.
func IsCredentialFailure(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return true
		}
		if strings.Contains(strings.ToLower(pe.Message), "quota") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "quota")
}

func isEmptyImage(err error) bool {
	return errors.Is(err, errEmptyImage)
}
