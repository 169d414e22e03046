package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_messages_published_total",
			Help: "Number of messages published to RabbitMQ by queue and status.",
		},
		[]string{"queue", "status"},
	)
	messagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_messages_consumed_total",
			Help: "Number of consumed messages by queue and outcome.",
		},
		[]string{"queue", "outcome"},
	)
)
