// Metis API — HTTP API для управления датасетами, workflows, executions
// и расписаниями.
//
// API:
//   - Регистрирует датасеты и их workflows
//   - Ставит executions в очередь и отменяет их
//   - Отдаёт overview и summary по датасетам
//   - Управляет scheduled workflows
//   - Отдаёт логи и отчёты задач backend
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/shaiso/Metis/internal/api"
	"github.com/shaiso/Metis/internal/backend"
	"github.com/shaiso/Metis/internal/config"
	"github.com/shaiso/Metis/internal/lock"
	"github.com/shaiso/Metis/internal/mq"
	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/repo"
	"github.com/shaiso/Metis/internal/scheduler"
	"github.com/shaiso/Metis/internal/telemetry"
)

func main() {
	configPath := pflag.String("config", "", "path to config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		telemetry.SetupLogger("ERROR", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting metis-api")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, repo.PoolConfig{DSN: cfg.DBURL, MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// Создаём репозитории
	executions := repo.NewExecutionRepo(pool)
	workflows := repo.NewWorkflowRepo(pool)
	datasets := repo.NewDatasetRepo(pool)
	schedules := repo.NewScheduleRepo(pool)

	var locker lock.Locker
	if cfg.LockBackend == "postgres" {
		locker = lock.NewPostgres(pool, logger)
	}

	// RabbitMQ. Без брокера executions остаются INQUEUE, их подберёт
	// recovery poll оркестратора.
	var queue orchestrator.Queue
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, executions will wait for recovery poll", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		queue = mq.NewPublisher(mqConn, logger)
	}

	// Backend нужен API только для чтения логов и отчётов задач
	client := backend.NewHTTPClient(backend.HTTPConfig{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
		Retry: backend.RetryConfig{
			MaxRetries:      cfg.BackendMaxRetries,
			InitialInterval: cfg.BackendRetryInitial,
			MaxInterval:     cfg.BackendRetryMax,
		},
		Logger: logger,
	})

	service := orchestrator.NewService(orchestrator.ServiceConfig{
		Executions:           executions,
		Workflows:            workflows,
		Datasets:             datasets,
		Queue:                queue,
		Locker:               locker,
		Backend:              client,
		ExecutionsPerRequest: cfg.ExecutionsPerRequest,
		MaxServedExecutions:  cfg.MaxServedExecutions,
		CommitSettleTime:     cfg.CommitSettleTime,
		Logger:               logger,
	})

	manager := scheduler.NewManager(scheduler.ManagerConfig{
		Schedules: schedules,
		Datasets:  datasets,
		Workflows: workflows,
		Locker:    locker,
		Logger:    logger,
	})

	handler := api.NewHandler(api.Config{
		Service:   service,
		Schedules: manager,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("metis-api stopped")
}
