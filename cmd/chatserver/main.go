package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	appoutbox "chatsync/internal/app/outbox"
	authsvc "chatsync/internal/app/services/auth"
	chatsvc "chatsync/internal/app/services/chat"
	"chatsync/internal/infra/broker/kafka"
	rediscache "chatsync/internal/infra/cache/redis"
	"chatsync/internal/infra/config"
	mongostore "chatsync/internal/infra/db/mongo"
	"chatsync/internal/infra/db/scylla"
	"chatsync/internal/infra/fixtures"
	ginserver "chatsync/internal/infra/http/gin"
	"chatsync/internal/infra/obs"
	infraoutbox "chatsync/internal/infra/outbox"
	"chatsync/internal/infra/security"
	"chatsync/internal/infra/storage/memory"
	"chatsync/internal/infra/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("dotenv load failed", "error", err)
	}
	cfg, err := config.LoadServer()
	logger := obs.NewLogger(cfg.Env)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	fixturesPath := cfg.FixturesPath
	if fixturesPath == "" {
		fixturesPath = defaultFixturesPath()
	}
	if err := app.loadFixtures(ctx, fixturesPath, logger); err != nil {
		logger.Warn("chat fixtures load failed", "error", err, "path", fixturesPath)
	}

	server := ginserver.NewServer(
		ginserver.Options{Env: cfg.Env, Addr: cfg.HTTPAddr, BasePath: cfg.APIBasePath},
		obs.Middleware{Logger: logger, Metrics: app.httpMetrics},
		obs.HealthHandlers{Checks: app.checks},
		app.handlers,
	)

	g, gctx := errgroup.WithContext(ctx)
	if app.worker != nil {
		g.Go(func() error {
			err := app.worker.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("chat server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers    ginserver.Handlers
	httpMetrics *obs.HTTPMetrics
	checks      map[string]func(ctx context.Context) error
	worker      *infraoutbox.Worker
	directory   *memory.Directory
	auth        *authsvc.Service
	messages    chatsvc.MessageStore
	closers     []func()
}

func buildApplication(ctx context.Context, cfg config.Server, logger *slog.Logger) (*application, error) {
	app := &application{
		directory: memory.NewDirectory(),
		checks:    map[string]func(ctx context.Context) error{},
	}

	var (
		outboxStore appoutbox.Outbox
		queue       appoutbox.Queue
	)
	switch cfg.StoreBackend {
	case config.BackendMongo:
		client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = client.Close(context.Background()) })
		app.checks["mongo"] = client.Ping
		messages, err := mongostore.NewMessageStore(ctx, client.DB)
		if err != nil {
			return nil, err
		}
		store, err := infraoutbox.NewStore(ctx, client.DB)
		if err != nil {
			return nil, err
		}
		app.messages, outboxStore, queue = messages, store, store
	case config.BackendScylla:
		consistency, err := scylla.ParseConsistency(cfg.ScyllaConsistency)
		if err != nil {
			return nil, err
		}
		session, err := scylla.NewSession(ctx, scylla.Config{
			Hosts:             cfg.ScyllaHosts,
			Keyspace:          cfg.ScyllaKeyspace,
			Username:          cfg.ScyllaUsername,
			Password:          cfg.ScyllaPassword,
			Consistency:       consistency,
			Timeout:           cfg.ScyllaTimeout,
			ReplicationFactor: cfg.ScyllaReplication,
		}, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, session.Close)
		app.messages = scylla.NewMessageStore(session, logger)
		box := memory.NewOutbox()
		outboxStore, queue = box, box
	default:
		app.messages = memory.NewMessageStore()
		box := memory.NewOutbox()
		outboxStore, queue = box, box
	}

	var objects chatsvc.ObjectStore = memory.NewObjectStore("http://localhost" + cfg.HTTPAddr + "/files")
	if cfg.S3Endpoint != "" {
		store, err := s3.NewObjectStore(s3.Config{
			Endpoint:       cfg.S3Endpoint,
			PublicEndpoint: cfg.S3PublicEndpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Bucket:         cfg.S3Bucket,
			UseSSL:         cfg.S3UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		app.checks["s3"] = store.Ping
		objects = store
	}

	var presence chatsvc.Presence = memory.NewPresence(cfg.PresenceTTL)
	if cfg.RedisAddr != "" {
		rdb, err := rediscache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		app.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		presence = rediscache.NewPresence(rdb, "chat", cfg.PresenceTTL)
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, "chatserver", logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = producer.Close() })
		app.worker = &infraoutbox.Worker{
			Queue:       queue,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
			Logger:      logger,
		}
	} else {
		logger.Info("kafka disabled, chat events stay in the outbox")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.httpMetrics = obs.NewHTTPMetrics(registry)

	app.auth = &authsvc.Service{
		Users:      app.directory,
		Sessions:   memory.NewSessionStore(),
		Tokens:     security.RandomTokenGenerator{Prefix: "chat_"},
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}
	chat := &chatsvc.Service{
		Messages:  app.messages,
		Directory: app.directory,
		Presence:  presence,
		Objects:   objects,
		Outbox:    outboxStore,
		Encoder:   appoutbox.JSONEventEncoder{},
		Logger:    logger,
	}
	app.handlers = ginserver.Handlers{
		Chat:           ginserver.ChatHandler{Service: chat, Logger: logger},
		AuthMiddleware: ginserver.AuthMiddleware{Resolver: app.auth, Logger: logger}.Handle,
		Metrics:        obs.MetricsHandler(registry),
	}
	return app, nil
}

func (a *application) loadFixtures(ctx context.Context, path string, logger *slog.Logger) error {
	set, err := fixtures.Load(path)
	if err != nil {
		return err
	}
	if len(set.Users) == 0 {
		logger.Info("chat fixtures not found, skipping", "path", path)
		return nil
	}
	tokens, err := fixtures.Apply(ctx, set, fixtures.Targets{
		Directory: a.directory,
		Sessions:  a.auth,
		Messages:  a.messages,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	for userID, token := range tokens {
		logger.Debug("fixture session", "user_id", userID, "token", token)
	}
	return nil
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func defaultFixturesPath() string {
	candidates := []string{
		filepath.Join("data", "chat.json"),
		filepath.Join("deploy", "data", "chat.json"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return candidates[0]
}
