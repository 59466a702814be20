package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hr-agent-go/internal/logger"
)

// runWorker 启动摄取任务消费者，阻塞直到收到终止信号
func runWorker(ctx context.Context, application *app) {
	if application.storage.RabbitMQ == nil {
		fmt.Println("错误: 未配置RabbitMQ，无法启动摄取消费者。")
		os.Exit(1)
	}

	workers := application.cfg.RabbitMQ.ConsumerWorkers
	logger.Info().Int("workers", workers).Msg("starting ingest consumer")

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info().Msg("termination signal received, shutting down")
		cancel()
	}()

	err := application.storage.RabbitMQ.ConsumeIngestTasks(workerCtx, workers, application.assistant.HandleIngestTask)
	if err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("ingest consumer stopped with error")
	}
	logger.Info().Msg("ingest consumer stopped")
}
