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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cooperado/cooperado/internal/alerts"
	"github.com/cooperado/cooperado/internal/anomaly"
	"github.com/cooperado/cooperado/internal/app"
	"github.com/cooperado/cooperado/internal/audit"
	"github.com/cooperado/cooperado/internal/platform/cache"
	"github.com/cooperado/cooperado/internal/platform/db"
	"github.com/cooperado/cooperado/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	auditRepo := audit.NewRepository(pool)
	recorder := audit.NewRecorder(auditRepo, logger,
		audit.WithStrictMode(cfg.AuditStrictMode),
		audit.WithHook(func(ctx context.Context, record audit.Record) {
			if record.ActorID == 0 {
				return
			}
			if record.Success && !record.Action.IsPermissionMutation() {
				return
			}
			payload := jobs.AnomalyScanPayload{
				ActorID:       record.ActorID,
				WindowMinutes: int(cfg.AnomalyScanWindow.Minutes()),
			}
			if _, err := client.EnqueueAnomalyScan(ctx, payload); err != nil {
				logger.Warn("enqueue anomaly scan", slog.Any("error", err))
			}
		}),
	)

	alertRepo := alerts.NewRepository(pool)
	alertService := alerts.NewService(alertRepo, recorder, logger)
	detector := anomaly.NewDetector(auditRepo, alertService, logger)

	scanJob := jobs.NewAnomalyScanJob(detector, auditRepo, cfg.AnomalyScanWindow, logger, nil)
	purgeJob := jobs.NewAuditPurgeJob(auditRepo, cfg.AuditRetention, logger, nil)

	scanTask, err := jobs.NewAnomalyScanTask(jobs.AnomalyScanPayload{
		WindowMinutes: int(cfg.AnomalyScanWindow.Minutes()),
	})
	if err != nil {
		logger.Error("build anomaly scan task", slog.Any("error", err))
		os.Exit(1)
	}
	purgeTask, err := jobs.NewAuditPurgeTask(jobs.AuditPurgePayload{
		RetentionHours: int(cfg.AuditRetention.Hours()),
	})
	if err != nil {
		logger.Error("build audit purge task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSecurityAnomalyScan, Handler: scanJob.Handle},
			{Type: jobs.TaskAuditRetentionPurge, Handler: purgeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AnomalyScanCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.AuditPurgeCron, Task: purgeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	opsServer := newOpsServer(cfg.OpsAddr, redisOpts, logger)
	go func() {
		logger.Info("ops server listening", slog.String("addr", cfg.OpsAddr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func newOpsServer(addr string, redisOpts asynq.RedisClientOpt, logger *slog.Logger) *http.Server {
	inspector := asynq.NewInspector(redisOpts)
	jobsHandler := jobs.NewHandler(inspector, logger)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/jobs", jobsHandler.MountRoutes)

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
