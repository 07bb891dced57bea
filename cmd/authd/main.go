// Command authd serves the authentication HTTP API: PostgreSQL for users,
// Redis for refresh sessions and rate limit counters.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/takahuman/authkit"
	"github.com/takahuman/authkit/httpapi"
	"github.com/takahuman/authkit/userstore/postgres"
)

type envConfig struct {
	Addr        string
	DatabaseDSN string
	RedisAddr   string
	RedisPass   string
	JWTSecret   string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	Production  bool
}

func loadEnv(logger *zap.Logger) envConfig {
	if err := godotenv.Load(); err != nil {
		logger.Info(".env not loaded", zap.Error(err))
	}
	return envConfig{
		Addr:        getEnvOrDefault("AUTHD_ADDR", ":8080"),
		DatabaseDSN: getEnvOrDefault("DATABASE_DSN", ""),
		RedisAddr:   getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPass:   getEnvOrDefault("REDIS_PASSWORD", ""),
		JWTSecret:   getEnvOrDefault("JWT_SECRET", ""),
		AccessTTL:   getDurationEnv("ACCESS_TOKEN_TTL_MIN", 15, time.Minute),
		RefreshTTL:  getDurationEnv("REFRESH_TOKEN_TTL_DAYS", 30, 24*time.Hour),
		Production:  getEnvOrDefault("APP_ENV", "development") == "production",
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int, unit time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return time.Duration(parsed) * unit
		}
	}
	return time.Duration(defaultValue) * unit
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	env := loadEnv(logger)
	if env.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}
	if env.DatabaseDSN == "" {
		logger.Fatal("DATABASE_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     env.RedisAddr,
		Password: env.RedisPass,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping failed", zap.Error(err))
	}

	users, err := postgres.Open(ctx, env.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres open failed", zap.Error(err))
	}
	defer func() { _ = users.Close() }()

	cfg := authkit.DefaultConfig()
	cfg.Secret = []byte(env.JWTSecret)
	cfg.AccessTTL = env.AccessTTL
	cfg.RefreshTTL = env.RefreshTTL

	engine, err := authkit.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Fatal("engine build failed", zap.Error(err))
	}

	api := httpapi.NewServer(engine, rdb, logger, httpapi.Options{
		SecureCookies: env.Production,
	})

	server := &http.Server{
		Addr:              env.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", env.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
