package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/repo"
	"github.com/shaiso/Metis/internal/telemetry"
)

const defaultReaperInterval = time.Minute

// Reaper запрашивает системную отмену executions, которые выполняются
// дольше MaxDuration. Отмену выполняет Runner, как и пользовательскую.
type Reaper struct {
	executions  repo.ExecutionStore
	maxDuration time.Duration
	interval    time.Duration
	batchSize   int
	logger      *slog.Logger
	now         func() time.Time
}

// ReaperConfig — конфигурация Reaper.
type ReaperConfig struct {
	Executions  repo.ExecutionStore
	MaxDuration time.Duration // 0 — лимит выключен
	Interval    time.Duration // default: 1m
	BatchSize   int           // default: 100
	Logger      *slog.Logger
}

// NewReaper создаёт Reaper.
func NewReaper(cfg ReaperConfig) *Reaper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultReaperInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultRecoveryBatch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reaper{
		executions:  cfg.Executions,
		maxDuration: cfg.MaxDuration,
		interval:    interval,
		batchSize:   batchSize,
		logger:      logger,
		now:         time.Now,
	}
}

// Enabled сообщает, задан ли лимит длительности.
func (r *Reaper) Enabled() bool {
	return r.maxDuration > 0
}

// Run вызывает Sweep каждые Interval до отмены ctx.
func (r *Reaper) Run(ctx context.Context) error {
	if !r.Enabled() {
		r.logger.Info("execution duration cap disabled")
		return nil
	}

	r.logger.Info("reaper started", "max_duration", r.maxDuration, "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reaper sweep failed", "error", err)
			}
		}
	}
}

// Sweep отмечает на отмену RUNNING executions старше MaxDuration.
// Возвращает число отмеченных.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if !r.Enabled() {
		return 0, nil
	}

	deadline := r.now().Add(-r.maxDuration)
	var expired []domain.WorkflowExecution

	for offset := 0; ; offset += r.batchSize {
		list, err := r.executions.List(ctx, repo.ExecutionFilter{
			Statuses: []domain.WorkflowStatus{domain.WorkflowStatusRunning},
			Limit:    r.batchSize,
			Offset:   offset,
		})
		if err != nil {
			return 0, fmt.Errorf("list running executions: %w", err)
		}
		for _, exec := range list {
			if exec.Cancelling || exec.StartedAt == nil || exec.StartedAt.After(deadline) {
				continue
			}
			expired = append(expired, exec)
		}
		if len(list) < r.batchSize {
			break
		}
	}

	reaped := 0
	for _, exec := range expired {
		err := r.executions.RequestCancel(ctx, exec.ID, domain.SystemCancelActor)
		if errors.Is(err, repo.ErrInvalidState) || errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return reaped, fmt.Errorf("cancel execution %s: %w", exec.ID, err)
		}

		reaped++
		telemetry.ExecutionsReaped.Inc()
		r.logger.Warn("execution exceeded duration cap, cancel requested",
			"execution_id", exec.ID,
			"dataset_id", exec.DatasetID,
			"started_at", exec.StartedAt,
		)
	}
	return reaped, nil
}
