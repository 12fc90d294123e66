package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"noteforge/api/internal/ai"
	"noteforge/api/internal/app"
	"noteforge/api/internal/blob"
	"noteforge/api/internal/bot"
	"noteforge/api/internal/config"
	"noteforge/api/internal/email"
	"noteforge/api/internal/export"
	"noteforge/api/internal/history"
	"noteforge/api/internal/logging"
	"noteforge/api/internal/metrics"
	"noteforge/api/internal/search"
	"noteforge/api/internal/session"
	"noteforge/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns:    cfg.DBMaxConns,
		MaxIdleConns:    cfg.DBMaxIdle,
		ConnMaxLifetime: cfg.DBMaxLifetime,
	})
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger)
	if err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	logger.Info("schema up to date", zap.Int("applied", len(applied)))

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		logger.Fatal("create history dir failed", zap.String("dir", cfg.HistoryDir), zap.Error(err))
	}

	m := metrics.New()
	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{
		Store:   dataStore,
		History: history.New(cfg.HistoryDir),
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
		Logger:  logger,
		Metrics: m,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.LinkCodes = redisStore
		logger.Info("using redis for refresh tokens and link codes")
	} else {
		logger.Info("using postgres for refresh tokens; bot linking disabled")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meili, search.NewPgFTS(db), logger)
	defer searchService.Close()
	deps.Search = searchService

	if !cfg.AIEnabled() {
		logger.Info("ai disabled: no api key")
	} else if aiClient := ai.New(ai.Options{
		APIKey:            cfg.AIAPIKey,
		BaseURL:           cfg.AIBaseURL,
		Model:             cfg.AIModel,
		Timeout:           cfg.AITimeout,
		RequestsPerMinute: cfg.AIRequestsPerMinute,
		MaxRetries:        cfg.AIMaxRetries,
		MaxTasks:          cfg.AIMaxTasks,
	}, logger, m); aiClient != nil {
		deps.AI = aiClient
		logger.Info("ai enabled", zap.String("model", aiClient.Model()))
	}

	var uploader export.Uploader
	if cfg.S3Enabled() {
		objects, err := blob.New(blob.Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			logger.Fatal("object storage init failed", zap.Error(err))
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			logger.Warn("ensure export bucket failed, exports will be returned inline", zap.Error(err))
		} else {
			uploader = objects
		}
	}
	deps.Exporter = export.NewService(dataStore, uploader, cfg.S3URLTTL, cfg.ChromePath, logger)

	service := app.New(cfg, deps)

	var webhook http.Handler
	if cfg.TelegramEnabled() {
		webhook = bot.New(bot.Options{Secret: cfg.TelegramWebhookSecret}, service,
			bot.NewClient(cfg.TelegramAPIURL, cfg.TelegramBotToken), logger, m)
		logger.Info("telegram bot enabled")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger, m, webhook)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("noteforge api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
