package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storybook_tasks_active",
			Help: "Number of generation tasks that have not finished yet.",
		},
	)
	tasksFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_tasks_finished_total",
			Help: "Number of finished background tasks by kind and status.",
		},
		[]string{"kind", "status"},
	)
	wsConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storybook_websocket_connections_active",
			Help: "Number of open progress websocket connections.",
		},
	)
)
