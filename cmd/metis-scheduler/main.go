// Metis Scheduler — запускает scheduled workflows.
//
// Тики выполняет только лидер: процесс, удерживающий advisory lock
// schedLockKey. Остальные реплики ждут освобождения lock.
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

	"github.com/shaiso/Metis/internal/config"
	"github.com/shaiso/Metis/internal/lock"
	"github.com/shaiso/Metis/internal/mq"
	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/repo"
	"github.com/shaiso/Metis/internal/scheduler"
	"github.com/shaiso/Metis/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	configPath := pflag.String("config", "", "path to config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		telemetry.SetupLogger("ERROR", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting metis-scheduler")

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

	var locker lock.Locker
	if cfg.LockBackend == "postgres" {
		locker = lock.NewPostgres(pool, logger)
	}

	var queue orchestrator.Queue
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, executions will wait for recovery poll", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		queue = mq.NewPublisher(mqConn, logger)
	}

	service := orchestrator.NewService(orchestrator.ServiceConfig{
		Executions: repo.NewExecutionRepo(pool),
		Workflows:  repo.NewWorkflowRepo(pool),
		Datasets:   repo.NewDatasetRepo(pool),
		Queue:      queue,
		Locker:     locker,
		Logger:     logger,
	})

	sched := scheduler.New(scheduler.Config{
		Schedules: repo.NewScheduleRepo(pool),
		Enqueuer:  service,
		Logger:    logger,
		BatchSize: cfg.SchedulesPerRequest,
	})

	leader := lock.NewLeader(pool, schedLockKey)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.SchedPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// scheduler loop
	g.Go(func() error {
		defer leader.Release(context.Background())

		tk := time.NewTicker(cfg.SchedulerTick)
		defer tk.Stop()

		isLeader := false
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-tk.C:
			}

			// пытаемся стать лидером (или подтвердить лидерство)
			ok, err := leader.TryAcquire(gctx)
			if err != nil {
				logger.Error("leader lock error", "error", err)
				continue
			}
			if ok != isLeader {
				logger.Info("scheduler leadership changed", "leader", ok)
				isLeader = ok
			}
			if !ok {
				continue
			}

			if err := sched.Tick(gctx); err != nil {
				logger.Error("scheduler tick failed", "error", err)
			}
		}
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
		logger.Error("scheduler error", "error", err)
	}
	logger.Info("metis-scheduler stopped")
}
