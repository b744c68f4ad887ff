package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/archon-hq/archon/internal/app"
	"github.com/archon-hq/archon/internal/audit"
	"github.com/archon-hq/archon/internal/auth"
	"github.com/archon-hq/archon/internal/authz"
	"github.com/archon-hq/archon/internal/directory"
	"github.com/archon-hq/archon/internal/documents"
	"github.com/archon-hq/archon/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	policy, err := authz.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		logger.Error("load policy", slog.Any("error", err))
		os.Exit(1)
	}
	facts, err := authz.LoadFacts(cfg.FactsPath)
	if err != nil {
		logger.Error("load facts", slog.Any("error", err))
		os.Exit(1)
	}
	// The two documents ship separately; refuse to start when the facts do
	// not map every predicate the policy relies on.
	if err := facts.Covers(policy); err != nil {
		logger.Error("facts do not cover policy", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "archon_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()
	recorder := audit.NewAsynqRecorder(asynqClient, logger)

	// The pool-bound evaluator serves list compilation; the guard builds a
	// transaction-bound evaluator per mutation so checks share the
	// mutation's snapshot.
	cache := authz.NewCache(cfg.AuthzCacheTTL)
	evaluator := authz.NewPGEvaluator(dbpool, policy, authz.WithCache(cache))
	guard := authz.NewGuard(dbpool, func(q authz.Querier) authz.Evaluator {
		return authz.NewPGEvaluator(q, policy)
	}, logger)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	directoryRepo := directory.NewRepository(dbpool, evaluator, guard)
	directoryService := directory.NewService(directoryRepo, recorder, logger)
	directoryHandler := directory.NewHandler(logger, directoryService)

	documentsRepo := documents.NewRepository(dbpool, evaluator, guard)
	documentsService := documents.NewService(documentsRepo, recorder, logger)
	documentsHandler := documents.NewHandler(logger, documentsService)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthHandler:      authHandler,
		DirectoryHandler: directoryHandler,
		DocumentsHandler: documentsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
