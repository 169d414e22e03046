package models

import "time"

// Stage - этап пайплайна генерации.
type Stage string

const (
	StagePrepareCharacters       Stage = "PREPARE_CHARACTERS"
	StageEnrichDescriptions      Stage = "ENRICH_MISSING_DESCRIPTIONS"
	StageGenerateStructure       Stage = "GENERATE_STORY_STRUCTURE"
	StageFilterCharacters        Stage = "FILTER_CHARACTERS_WITH_DESIGNS"
	StageGeneratePanels          Stage = "GENERATE_PANEL_ILLUSTRATIONS"
	StageGenerateCover           Stage = "GENERATE_COVER_IMAGE"
	StagePersist                 Stage = "PERSIST"
	StageGenerateCoverVideo      Stage = "GENERATE_COVER_VIDEO"
	StageGenerateCharacterDesign Stage = "GENERATE_CHARACTER_DESIGN"
	StageDone                    Stage = "DONE"
	StageFailed                  Stage = "FAILED"
)

// ProgressEvent - событие прогресса, отправляемое подписчикам.
type ProgressEvent struct {
	TaskID    string    `json:"taskId,omitempty"`
	Stage     Stage     `json:"stage"`
	Message   string    `json:"message"`
	Percent   int       `json:"percent"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsFinal - последнее событие задачи.
func (e ProgressEvent) IsFinal() bool {
	return e.Stage == StageDone || e.Stage == StageFailed
}
