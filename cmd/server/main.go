package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"betterphone/internal/adminauth"
	"betterphone/internal/ai"
	"betterphone/internal/app"
	"betterphone/internal/config"
	"betterphone/internal/insights"
	"betterphone/internal/queue"
	"betterphone/internal/saver"
	"betterphone/internal/server"
	"betterphone/internal/storage"
	"betterphone/internal/store"
	"betterphone/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

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
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}
	insightTTL, err := config.ParseInsightTTL(cfg.InsightTTL)
	if err != nil {
		log.Fatalf("failed to parse insight ttl: %v", err)
	}
	cache, err := insights.NewCache(cfg.RedisAddr, cfg.RedisPassword, insightTTL)
	if err != nil {
		log.Fatalf("failed to init insight cache: %v", err)
	}
	aiClient, err := ai.NewClient(cfg.OpenAIAPIKey, cfg.ChatModel)
	if err != nil {
		log.Fatalf("failed to init openai client: %v", err)
	}

	backgroundSaver := saver.New(dataStore, 2, cfg.SaveQueueSize)
	defer backgroundSaver.Close()

	appCore, err := app.New(app.Config{
		Store:          dataStore,
		Objects:        objects,
		Queue:          jobQueue,
		Saver:          backgroundSaver,
		Transcriber:    aiClient,
		Extractor:      aiClient,
		Insights:       aiClient,
		Cache:          cache,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	sessionTTL, err := config.ParseAdminSessionTTL(cfg.AdminSessionTTL)
	if err != nil {
		log.Fatalf("failed to parse admin session ttl: %v", err)
	}
	cred := adminauth.Credential{Plain: cfg.AdminPassword, Hash: cfg.AdminPasswordHash}
	var authenticator adminauth.Authenticator
	if cfg.AdminAuthMode == "jwt" {
		authenticator, err = adminauth.NewJWT(cred, cfg.AdminJWTSecret, sessionTTL)
		if err != nil {
			log.Fatalf("failed to init admin auth: %v", err)
		}
	} else {
		authenticator = adminauth.NewStatic(cred)
	}

	httpServer, err := server.New(server.Config{
		App:                     appCore,
		Auth:                    authenticator,
		RedisAddr:               cfg.RedisAddr,
		RedisPassword:           cfg.RedisPassword,
		LoginRateLimitPerMinute: cfg.LoginRateLimitPerMinute,
		AllowedOrigins:          cfg.AllowedOrigins,
		CookieSecure:            cfg.CookieSecure,
		SessionTTL:              sessionTTL,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("survey server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
