package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"storybook-server/internal/bootstrap"
	"storybook-server/internal/config"
	"storybook-server/internal/logger"
	"storybook-server/internal/messaging"
	"storybook-server/internal/worker"
)

const rabbitConnectTries = 30

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
	log.Info("Starting storybook generation worker", zap.String("env", cfg.AppEnv), zap.String("storage", cfg.Storage.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSrv := bootstrap.StartMetricsServer(cfg.HTTP.MetricsPort, log)
	defer func() { _ = metricsSrv.Close() }()

	st, err := bootstrap.SetupStorage(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to set up storage", zap.Error(err))
	}
	defer st.Close()

	gen, err := bootstrap.NewGenerator(ctx, cfg, st, log)
	if err != nil {
		log.Fatal("Failed to set up generator", zap.Error(err))
	}

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

	handler := worker.NewTaskHandler(gen, publisher, publisher, cfg.Pipeline.GenerationTimeout, log)
	consumer := messaging.NewConsumer(conn, cfg.RabbitMQ.TaskQueue, cfg.RabbitMQ.ConsumerTag, cfg.RabbitMQ.PrefetchCount, handler.Handle, log)

	log.Info("Worker is waiting for generation tasks", zap.String("queue", cfg.RabbitMQ.TaskQueue))
	if err := consumer.Run(ctx); err != nil {
		log.Error("Consumer stopped with error", zap.Error(err))
		return
	}
	log.Info("Worker exiting")
}
