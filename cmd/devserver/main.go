package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/bazaarhq/livesync/internal/devserver"
	"github.com/bazaarhq/livesync/internal/event"
	"github.com/bazaarhq/livesync/internal/notify"
	"github.com/bazaarhq/livesync/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	port := 8080
	if p := os.Getenv("PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		port = n
	}
	tok := os.Getenv("AUTH_TOKEN")
	if tok == "" {
		tok = "dev-token"
	}

	logger, err := observ.NewLogger(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	srv := devserver.New(tok, seedNotifications(), logger)

	// Inject a push notification periodically so connected clients have
	// live traffic to reconcile.
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			rec := notify.Record{
				ID:        uuid.NewString(),
				Kind:      "order",
				Title:     "New order received",
				Body:      "A customer placed an order",
				CreatedAt: time.Now(),
				Priority:  notify.PriorityNormal,
			}
			if err := srv.Inject(event.Envelope{Kind: event.KindNotification, Notification: &rec}); err != nil {
				logger.Warn("inject failed", zap.Error(err))
			}
		}
	}()

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streams stay open
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("devserver listening", zap.String("addr", httpSrv.Addr))
		serverErrors <- httpSrv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		return httpSrv.Close()
	}
}

func seedNotifications() []notify.Record {
	now := time.Now()
	return []notify.Record{
		{
			ID:        "n-seed-1",
			Kind:      "order",
			Title:     "Order #1042 shipped",
			Body:      "Tracking number available",
			CreatedAt: now.Add(-2 * time.Hour),
			Read:      true,
			Priority:  notify.PriorityNormal,
		},
		{
			ID:        "n-seed-2",
			Kind:      "out_of_stock",
			Title:     "Ceramic mug is out of stock",
			SubjectID: "p-88",
			CreatedAt: now.Add(-30 * time.Minute),
			Priority:  notify.PriorityHigh,
		},
	}
}
