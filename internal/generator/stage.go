package generator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"storybook-server/internal/models"
)

const (
	percentPrepare      = 5
	percentEnrichStart  = 10
	percentEnrichEnd    = 25
	percentStructureEnd = 35
	percentPanelsStart  = 45
	percentPanelsEnd    = 80
	percentCover        = 85
	percentPersist      = 90
	percentCoverVideo   = 95
	percentDone         = 100
)

type severity int

const (
	fatal severity = iota
	bestEffort
)

func (s severity) String() string {
	if s == fatal {
		return "fatal"
	}
	return "best_effort"
}

// stageSeverity определяет, прерывает ли ошибка этапа весь пайплайн.
var stageSeverity = map[models.Stage]severity{
	models.StagePrepareCharacters:  bestEffort,
	models.StageEnrichDescriptions: bestEffort,
	models.StageGenerateStructure:  fatal,
	models.StageFilterCharacters:   bestEffort,
	models.StageGeneratePanels:     bestEffort,
	models.StageGenerateCover:      bestEffort,
	models.StagePersist:            bestEffort,
	models.StageGenerateCoverVideo: bestEffort,
}

// stageResult - итог этапа пайплайна.
type stageResult struct {
	stage models.Stage
	err   error
}

func succeeded(stage models.Stage) stageResult {
	return stageResult{stage: stage}
}

func failed(stage models.Stage, err error) stageResult {
	return stageResult{stage: stage, err: err}
}

func (r stageResult) severity() severity {
	if s, ok := stageSeverity[r.stage]; ok {
		return s
	}
	return fatal
}

// resolve логирует неудачу этапа и возвращает ошибку только для фатальных этапов
// или если контекст уже отменен.
func (r stageResult) resolve(ctx context.Context, log *zap.Logger) error {
	if r.err == nil {
		return nil
	}
	if err := checkCancelled(ctx); err != nil {
		return err
	}

	sev := r.severity()
	stageFailuresTotal.WithLabelValues(string(r.stage), sev.String()).Inc()
	if sev == fatal {
		log.Error("Pipeline stage failed", zap.String("stage", string(r.stage)), zap.Error(r.err))
		return r.err
	}
	log.Warn("Best-effort stage failed, continuing", zap.String("stage", string(r.stage)), zap.Error(r.err))
	return nil
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrGenerationCancelled, err)
	}
	return nil
}
