package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/bazaarhq/livesync/internal/chat"
	"github.com/bazaarhq/livesync/internal/client"
	"github.com/bazaarhq/livesync/internal/config"
	"github.com/bazaarhq/livesync/internal/conn"
	"github.com/bazaarhq/livesync/internal/notify"
	"github.com/bazaarhq/livesync/internal/observ"
	"github.com/bazaarhq/livesync/internal/rest"
	"github.com/bazaarhq/livesync/internal/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting livesync client",
		zap.String("env", cfg.Env),
		zap.String("api", cfg.APIBaseURL),
		zap.Strings("stream", cfg.StreamURLs),
	)

	ctx := context.Background()

	tokens, cleanup, err := buildTokenSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	backend := rest.New(cfg.APIBaseURL, cfg.APITimeout, tokens, logger)
	engine := notify.NewEngine(backend, logger)
	engine.OnChange(func() {
		logger.Debug("notifications changed", zap.Int("unread", engine.Unread()))
	})

	acker := chat.NewTimerAcker(cfg.AckDelay, cfg.ReplyDelay, logger)
	defer acker.Close()

	chats := chat.NewStore(nil, acker, chat.Config{
		AutoCreateThreads: cfg.AutoCreateThreads,
	}, logger)
	acker.Bind(chats)

	manager := conn.New(conn.Config{
		Endpoints:   cfg.StreamURLs,
		MaxAttempts: cfg.MaxConnectAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	}, tokens, logger)
	manager.OnStateChange(func(s conn.State) {
		logger.Info("connection state", zap.String("state", s.String()))
	})

	c := client.New(manager, engine, chats, logger)
	if err := c.Start(ctx); err != nil {
		logger.Warn("client started degraded", zap.Error(err))
	}
	defer c.Stop()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	return nil
}

// buildTokenSource prefers the Redis session store when configured so
// credential renewal is picked up live; otherwise a static token.
func buildTokenSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (token.Source, func(), error) {
	if cfg.SessionRedis {
		store, err := token.NewSessionStore(ctx, token.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.SessionKey,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect session store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}

	if cfg.AuthToken == "" {
		return nil, nil, fmt.Errorf("no credential source: set AUTH_TOKEN or REDIS_HOST")
	}
	return token.Static(cfg.AuthToken), func() {}, nil
}
