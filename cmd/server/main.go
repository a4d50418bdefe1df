package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"gospelpress/internal/config"
	"gospelpress/internal/db"
	internalhttp "gospelpress/internal/http"
	"gospelpress/internal/jobs"
	"gospelpress/internal/logger"
	"gospelpress/internal/repository"
	"gospelpress/internal/scripture"
	"gospelpress/internal/session"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	sugar := log.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		sugar.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()
	store := repository.NewStore(pool)

	var sessions session.Store = session.NewMemoryStore(cfg.SessionTTL, nil)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			sugar.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				sugar.Warnf("redis close error: %v", err)
			}
		}()
		sessions = session.NewRedisStore(redisClient, cfg.SessionTTL)
	}

	scriptureSvc := scripture.NewService(scripture.NewProviders(cfg), store, cfg.ScriptureCacheTTL, sugar)
	jobs.StartCacheSweep(ctx, cfg, store, sugar)

	server := internalhttp.NewServer(cfg, store, scriptureSvc, sessions, sugar)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		sugar.Infof("gospelpress http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("shutdown error: %v", err)
	}
}
