package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/generator"
	"storybook-server/internal/models"
	"storybook-server/internal/service"
)

// NewGenerator собирает клиенты генерации и оркестратор поверх кэшей st.
func NewGenerator(ctx context.Context, cfg *config.Config, st *Storage, logger *zap.Logger) (*generator.Generator, error) {
	backends, err := service.NewBackends(ctx, cfg.AI, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AI backends: %w", err)
	}
	content := service.NewContentClient(backends, service.ContentClientConfig{
		ImageMaxAttempts:  cfg.Retry.ImageMaxAttempts,
		ImageBackoff:      cfg.Retry.ImageBackoff,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
	}, logger)
	video := service.NewVideoClient(cfg.Video, logger)

	if cfg.Video.APIKey == "" {
		logger.Warn("FAL_KEY is not set, cover video requests will be rejected by the provider")
	}

	return generator.New(content, video, st.Characters, st.Stories, generator.Options{
		AutoCoverVideo: cfg.Pipeline.AutoCoverVideo && cfg.Video.APIKey != "",
		VideoOptions: models.VideoOptions{
			Duration:      cfg.Video.Duration,
			Resolution:    cfg.Video.Resolution,
			GenerateAudio: cfg.Video.GenerateAudio,
		},
		Poller: generator.VideoPoller{
			MaxAttempts: cfg.Video.WaitAttempts,
			Delay:       cfg.Video.WaitDelay,
		},
	}, logger), nil
}

// StartMetricsServer отдает /metrics на отдельном порту.
func StartMetricsServer(port string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting metrics server", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
