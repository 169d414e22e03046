package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"storybook-server/internal/api"
	"storybook-server/internal/bootstrap"
	"storybook-server/internal/config"
	"storybook-server/internal/logger"
	"storybook-server/internal/messaging"
)

const (
	taskJanitorInterval = 5 * time.Minute
	rabbitConnectTries  = 30
	progressPrefetch    = 32
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	log.Info("Starting storybook API server",
		zap.String("env", cfg.AppEnv),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("dispatch", cfg.Pipeline.Dispatch),
		zap.String("textBackend", cfg.AI.TextBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := bootstrap.SetupStorage(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to set up storage", zap.Error(err))
	}
	defer st.Close()

	gen, err := bootstrap.NewGenerator(ctx, cfg, st, log)
	if err != nil {
		log.Fatal("Failed to set up generator", zap.Error(err))
	}

	tasks := api.NewTaskManager(log)
	go tasks.RunJanitor(ctx, taskJanitorInterval, cfg.HTTP.TaskRetention)
	runner := api.NewRunner(tasks, cfg.Pipeline.GenerationTimeout, log)

	var dispatcher api.StoryDispatcher = api.NewLocalDispatcher(runner, gen)
	if cfg.Pipeline.Dispatch == "rabbitmq" {
		conn, err := messaging.Connect(ctx, cfg.RabbitMQ, rabbitConnectTries, log)
		if err != nil {
			log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer conn.Close()

		publisher, err := messaging.NewPublisher(conn, cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal("Failed to set up RabbitMQ publisher", zap.Error(err))
		}
		defer publisher.Close()
		dispatcher = api.NewQueueDispatcher(publisher)

		consumers := []*messaging.Consumer{
			messaging.NewConsumer(conn, cfg.RabbitMQ.ProgressQueue, "storybook_api_progress", progressPrefetch, api.ProgressMessageHandler(tasks), log),
			messaging.NewConsumer(conn, cfg.RabbitMQ.NotificationQueue, "storybook_api_notifications", cfg.RabbitMQ.PrefetchCount, api.NotificationMessageHandler(tasks), log),
		}
		for _, consumer := range consumers {
			go func(c *messaging.Consumer) {
				if err := c.Run(ctx); err != nil {
					log.Error("Consumer stopped with error", zap.Error(err))
					stop()
				}
			}(consumer)
		}
	}

	handler := api.NewHandler(api.HandlerDeps{
		Generator:      gen,
		Stories:        st.Stories,
		Characters:     st.Characters,
		Tasks:          tasks,
		Dispatcher:     dispatcher,
		Runner:         runner,
		AllowedOrigins: cfg.HTTP.AllowedOrigins(),
	}, log)
	router := api.NewRouter(handler, cfg.HTTP.AllowedOrigins(), cfg.AppEnv == "development", log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server listen error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Warn("Background generation did not finish", zap.Error(err))
	}
	log.Info("Server exiting")
}
