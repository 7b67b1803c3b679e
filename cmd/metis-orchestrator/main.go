// Metis Orchestrator — выполняет executions.
//
// Orchestrator:
//   - Получает executions из RabbitMQ
//   - Ограничивает число одновременных Runner
//   - Проводит шаги через внешний backend и отслеживает их прогресс
//   - Отменяет executions, превысившие лимит длительности
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
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Metis/internal/backend"
	"github.com/shaiso/Metis/internal/config"
	"github.com/shaiso/Metis/internal/mq"
	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/repo"
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

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting metis-orchestrator")

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

	executions := repo.NewExecutionRepo(pool)

	// RabbitMQ обязателен: через него приходят доставки
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	logger.Debug("topology declared", "topology", mq.TopologyInfo())
	publisher := mq.NewPublisher(mqConn, logger)

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

	runner := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Executions:   executions,
		Backend:      client,
		PollInterval: cfg.MonitorPollInterval,
		Logger:       logger,
	})

	dispatcher := orchestrator.NewDispatcher(orchestrator.DispatcherConfig{
		Executions:    executions,
		Queue:         publisher,
		Runner:        runner,
		Conn:          mqConn,
		MaxConcurrent: cfg.MaxConcurrentExecutions,
		RequeueDelay:  cfg.RequeueDelay,
		Logger:        logger,
	})

	reaper := orchestrator.NewReaper(orchestrator.ReaperConfig{
		Executions:  executions,
		MaxDuration: cfg.MaxExecutionDuration,
		Interval:    cfg.ReaperInterval,
		Logger:      logger,
	})

	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			http.Error(w, "rabbitmq disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.OrchPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reaper.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("orchestrator error", "error", err)
	}

	// Прерванные executions остаются RUNNING до следующего старта
	dispatcher.Stop()
	logger.Info("metis-orchestrator stopped")
}
