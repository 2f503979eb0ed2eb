package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"betterphone/internal/ai"
	"betterphone/internal/app"
	"betterphone/internal/config"
	"betterphone/internal/queue"
	"betterphone/internal/saver"
	"betterphone/internal/storage"
	"betterphone/internal/store"
	"betterphone/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init minio store: %v", err)
	}
	jobQueue, err := queue.New(queue.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.JobStream,
		Group:    cfg.JobGroup,
		Consumer: cfg.WorkerName,
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}
	aiClient, err := ai.NewClient(cfg.OpenAIAPIKey, cfg.ChatModel)
	if err != nil {
		log.Fatalf("failed to init openai client: %v", err)
	}

	backgroundSaver := saver.New(dataStore, 1, cfg.SaveQueueSize)
	defer backgroundSaver.Close()

	appCore, err := app.New(app.Config{
		Store:       dataStore,
		Objects:     objects,
		Queue:       jobQueue,
		Saver:       backgroundSaver,
		Transcriber: aiClient,
		Extractor:   aiClient,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobQueue.Start(ctx, 2, appCore.ProcessJob)
	slog.Info("voice pipeline worker started", "stream", cfg.JobStream)

	<-ctx.Done()
	slog.Info("worker shutting down")
}
