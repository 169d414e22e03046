package generator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_pipeline_stage_failures_total",
			Help: "Number of failed pipeline stages, labeled by stage and severity.",
		},
		[]string{"stage", "severity"},
	)
	storiesGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_stories_generated_total",
			Help: "Number of full pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)
	storyGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storybook_story_generation_duration_seconds",
			Help:    "Duration of full story generation runs.",
			Buckets: []float64{10, 30, 60, 120, 180, 300, 600, 900},
		},
	)
	panelsIllustratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_panels_illustrated_total",
			Help: "Number of panel illustration attempts by status.",
		},
		[]string{"status"},
	)
)
