package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"storybook-server/internal/models"
)

var validate = validator.New()

// GenerationTaskPayload - задача полной генерации истории для воркера.
type GenerationTaskPayload struct {
	TaskID      string             `json:"taskId" validate:"required"`
	UserID      string             `json:"userId,omitempty"`
	Config      models.StoryConfig `json:"config"`
	Characters  []models.Character `json:"characters" validate:"required,min=1,dive"`
	RequestedAt time.Time          `json:"requestedAt"`
}

// NotificationStatus - итог выполнения задачи.
type NotificationStatus string

const (
	NotificationStatusSuccess NotificationStatus = "success"
	NotificationStatusError   NotificationStatus = "error"
)

// NotificationPayload - уведомление о завершении задачи генерации.
type NotificationPayload struct {
	TaskID       string             `json:"taskId"`
	UserID       string             `json:"userId,omitempty"`
	Status       NotificationStatus `json:"status"`
	StoryID      string             `json:"storyId,omitempty"`
	Title        string             `json:"title,omitempty"`
	ErrorDetails string             `json:"errorDetails,omitempty"`
}

// DecodeGenerationTask разбирает и проверяет тело сообщения с задачей.
// Любая ошибка означает, что сообщение битое и повторять его бессмысленно.
func DecodeGenerationTask(body []byte) (GenerationTaskPayload, error) {
	var payload GenerationTaskPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, fmt.Errorf("%w: malformed generation task: %w", models.ErrInvalidInput, err)
	}
	if err := validate.Struct(payload); err != nil {
		return payload, fmt.Errorf("%w: generation task %s: %w", models.ErrInvalidInput, payload.TaskID, err)
	}
	return payload, nil
}

// DecodeProgressEvent разбирает событие прогресса из очереди.
func DecodeProgressEvent(body []byte) (models.ProgressEvent, error) {
	var event models.ProgressEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("%w: malformed progress event: %w", models.ErrInvalidInput, err)
	}
	if event.TaskID == "" {
		return event, fmt.Errorf("%w: progress event without task id", models.ErrInvalidInput)
	}
	return event, nil
}

// DecodeNotification разбирает уведомление о завершении задачи.
func DecodeNotification(body []byte) (NotificationPayload, error) {
	var payload NotificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, fmt.Errorf("%w: malformed notification: %w", models.ErrInvalidInput, err)
	}
	if payload.TaskID == "" {
		return payload, fmt.Errorf("%w: notification without task id", models.ErrInvalidInput)
	}
	return payload, nil
}
