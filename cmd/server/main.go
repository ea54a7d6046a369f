package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taskmaster/internal/auth"
	"taskmaster/internal/cache"
	"taskmaster/internal/cleanup"
	"taskmaster/internal/handler"
	"taskmaster/internal/httpserver"
	"taskmaster/internal/recurrence"
	"taskmaster/internal/repository"
	"taskmaster/internal/store"
	"taskmaster/internal/syncer"
	"taskmaster/internal/tracker"
	"taskmaster/pkg/config"
	"taskmaster/pkg/db"
	"taskmaster/pkg/logger"
	"taskmaster/pkg/mq"
	redisclient "taskmaster/pkg/redis"
	"taskmaster/pkg/util"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting taskmaster...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("redis_addr", cfg.Redis.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis
	log.Info("Initializing Redis connection...")
	rdb, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	// MQ publisher for the change feed
	log.Info("Initializing MQ publisher...")
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Task store
	deduper := util.NewDeduper(rdb, 24*time.Hour, log)
	taskStore := store.NewPostgresStore(dbConn, publisher, cfg.MQ.URL, cfg.MQ.Queue, deduper, log)
	if err := taskStore.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to ensure task schema", zap.Error(err))
	}

	// Users
	userRepo := repository.NewUserRepository(dbConn)
	if err := userRepo.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to ensure user schema", zap.Error(err))
	}
	authService := auth.NewService(userRepo, cfg.JWT.Secret, log)

	// Deletion tracker, cache, engines
	deletionTracker := tracker.Load(ctx, tracker.NewRedisKV(rdb), log)
	taskCache := cache.New()
	engine := syncer.New(taskStore, taskCache, deletionTracker, log)
	defer engine.Close()

	recurrenceEngine := recurrence.New(engine, log)
	engine.SetCatchUp(recurrenceEngine.CatchUpPending)

	engine.OnStatus(func(s syncer.SyncStatus) {
		log.Debug("Sync status changed", zap.String("status", string(s)))
	})
	engine.OnStreamError(func(err error) {
		log.Error("Change feed error", zap.Error(err))
	})

	// Initial load opens the change feed once the cache is populated.
	if err := engine.LoadAll(ctx); err != nil {
		log.Fatal("Initial task load failed", zap.Error(err))
	}

	// Midnight cleanup
	scheduler := cleanup.New(engine, log)
	scheduler.Start(ctx)

	// HTTP
	authHandler := handler.NewAuthHandler(authService, log)
	taskHandler := handler.NewTaskHandler(engine, recurrenceEngine, log)
	router := httpserver.NewRouter(authHandler, taskHandler, authService, engine, dbConn, log)

	go func() {
		log.Info("HTTP server listening", zap.String("port", cfg.Server.Port))
		if err := router.Run(":" + cfg.Server.Port); err != nil {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	engine.Close()
	log.Info("Shutdown complete")
	os.Exit(0)
}
