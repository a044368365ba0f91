package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chatsync/internal/app/chatsync"
	"chatsync/internal/domain/chat"
	"chatsync/internal/infra/chatapi"
	"chatsync/internal/infra/config"
	"chatsync/internal/infra/obs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("dotenv load failed", "error", err)
	}
	cfg, err := config.LoadClient()
	logger := obs.NewLogger(cfg.Env)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	client, err := chatapi.NewClient(chatapi.Config{
		BaseURL:            cfg.APIURL,
		Token:              cfg.Token,
		Timeout:            cfg.HTTPTimeout,
		BreakerFailures:    uint32(cfg.BreakerFailures),
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	}, logger)
	if err != nil {
		logger.Error("chat api client", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := obs.NewSyncMetrics(registry)
	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           obs.MetricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer metricsServer.Close()
	}

	session, err := chatsync.NewSession(client, chatsync.Options{
		UserID:               cfg.UserID,
		ProjectID:            cfg.ProjectID,
		ConversationInterval: cfg.ConversationInterval,
		TimelineInterval:     cfg.TimelineInterval,
		MarkReadRPS:          cfg.MarkReadRPS,
		MarkReadConcurrency:  cfg.MarkReadConcurrency,
		SendRetryMaxElapsed:  cfg.SendRetryMaxElapsed,
		Logger:               logger,
		Metrics:              metrics,
		OnUnauthorized:       stop,
		OnConversations: func(snap chatsync.Snapshot[chat.Conversation]) {
			logger.Info("conversations updated",
				"count", len(snap.Items),
				"unread", chat.TotalUnread(snap.Items),
				"version", snap.Version,
			)
		},
		OnTimeline: func(snap chatsync.TimelineSnapshot) {
			logger.Info("timeline updated",
				"conversation_id", snap.Scope.ConversationID,
				"messages", len(snap.Items),
				"unread", chat.CountUnread(snap.Items, cfg.UserID),
			)
		},
	})
	if err != nil {
		logger.Error("chat session", "error", err)
		os.Exit(1)
	}
	client.SetUnauthorizedHandler(session.Unauthorized)

	if err := session.Start(ctx); err != nil {
		logger.Error("chat session start", "error", err)
		os.Exit(1)
	}
	if cfg.ConversationID != "" {
		session.Select(cfg.ConversationID)
	}

	for {
		select {
		case <-ctx.Done():
			session.Stop()
			logger.Info("chat session stopped", "unread", session.TotalUnread())
			return
		case n := <-session.Notices():
			logger.Warn("background sync failed", "resource", n.Resource, "error", n.Err)
		}
	}
}
