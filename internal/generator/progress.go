package generator

import (
	"context"
	"time"

	"storybook-server/internal/models"
)

// progressReporter отправляет события прогресса в канал вызывающего.
// Процент никогда не уменьшается и не превышает 100.
type progressReporter struct {
	events chan<- models.ProgressEvent
	now    func() time.Time
	last   int
}

func newProgressReporter(events chan<- models.ProgressEvent, now func() time.Time) *progressReporter {
	return &progressReporter{events: events, now: now}
}

func (r *progressReporter) report(ctx context.Context, stage models.Stage, percent int, message string) {
	if percent < r.last {
		percent = r.last
	}
	if percent > 100 {
		percent = 100
	}
	r.last = percent
	if r.events == nil {
		return
	}
	event := models.ProgressEvent{Stage: stage, Message: message, Percent: percent, Timestamp: r.now()}
	select {
	case r.events <- event:
	case <-ctx.Done():
	}
}

// fail отправляет финальное событие об ошибке без блокировки.
func (r *progressReporter) fail(err error) {
	if r.events == nil {
		return
	}
	event := models.ProgressEvent{
		Stage:     models.StageFailed,
		Message:   "Story generation failed",
		Percent:   r.last,
		Error:     err.Error(),
		Timestamp: r.now(),
	}
	select {
	case r.events <- event:
	default:
	}
}

// panelPercent - доля прогресса этапа иллюстраций: 45 + 35 * done / total.
func panelPercent(done, total int) int {
	if total <= 0 {
		return percentPanelsEnd
	}
	return percentPanelsStart + (percentPanelsEnd-percentPanelsStart)*done/total
}
