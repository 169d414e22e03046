package models

// VideoStatus - состояние задания в очереди видеопровайдера.
type VideoStatus string

const (
	VideoStatusInQueue    VideoStatus = "IN_QUEUE"
	VideoStatusInProgress VideoStatus = "IN_PROGRESS"
	VideoStatusCompleted  VideoStatus = "COMPLETED"
	VideoStatusFailed     VideoStatus = "FAILED"
)

// IsTerminal - задание завершено (успешно или нет).
func (s VideoStatus) IsTerminal() bool {
	return s == VideoStatusCompleted || s == VideoStatusFailed
}

// VideoOptions - параметры генерации обложечного видео.
type VideoOptions struct {
	Duration      string `json:"duration,omitempty" validate:"omitempty,oneof=5 8 10"`
	Resolution    string `json:"resolution,omitempty" validate:"omitempty,oneof=480p 720p 1080p"`
	GenerateAudio bool   `json:"generateAudio"`
}

// VideoResult - итог задания видеогенерации.
type VideoResult struct {
	VideoURL  string `json:"videoUrl"`
	RequestID string `json:"requestId"`
}
