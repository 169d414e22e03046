package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_ai_requests_total",
			Help: "Total number of requests to the generative AI provider.",
		},
		[]string{"backend", "operation", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_ai_request_duration_seconds",
			Help:    "Histogram of generative AI request durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"backend", "operation"},
	)
	aiFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_ai_credential_fallbacks_total",
			Help: "Number of times a request was retried with the fallback credential.",
		},
		[]string{"operation"},
	)
	aiImageRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_ai_image_retries_total",
			Help: "Number of image generation retries by reason.",
		},
		[]string{"operation", "reason"},
	)
	videoRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_video_requests_total",
			Help: "Total number of requests to the video provider.",
		},
		[]string{"operation", "status"},
	)
)
