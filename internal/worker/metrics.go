package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storybook_worker_tasks_received_total",
			Help: "Total number of tasks received by the storybook worker.",
		},
	)
	tasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_worker_tasks_failed_total",
			Help: "Total number of tasks failed, partitioned by failure reason.",
		},
		[]string{"reason"},
	)
	tasksSucceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storybook_worker_tasks_succeeded_total",
			Help: "Total number of tasks successfully processed.",
		},
	)
	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_worker_task_duration_seconds",
			Help:    "Duration of task processing by final status.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"status"},
	)
)
