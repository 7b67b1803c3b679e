package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shaiso/Metis/internal/backend"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/engine"
	"github.com/shaiso/Metis/internal/repo"
	"github.com/shaiso/Metis/internal/telemetry"
)

// Default configuration values.
const (
	defaultMonitorPollInterval = 5 * time.Second
	defaultMaxPollFailures     = 10
	defaultStoreRetries        = 5
)

// Runner доводит один execution до финального статуса.
//
// Шаги выполняются строго по очереди. Каждый переход сохраняется сразу,
// поэтому читатели видят свежий снимок, а прерванный execution можно
// возобновить: FINISHED шаги пропускаются, RUNNING шаг с задачей в backend
// снова отслеживается.
type Runner struct {
	executions repo.ExecutionStore
	validator  *engine.Validator
	backend    backend.Client

	pollInterval    time.Duration
	maxPollFailures int
	storeRetries    uint64

	logger *slog.Logger
}

// RunnerConfig — конфигурация Runner.
type RunnerConfig struct {
	Executions repo.ExecutionStore
	Backend    backend.Client

	PollInterval    time.Duration // интервал опроса backend (default: 5s)
	MaxPollFailures int           // подряд неудачных опросов до FAILED (default: 10)
	StoreRetries    uint64        // повторы записи в хранилище (default: 5)

	Logger *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultMonitorPollInterval
	}

	maxPollFailures := cfg.MaxPollFailures
	if maxPollFailures <= 0 {
		maxPollFailures = defaultMaxPollFailures
	}

	storeRetries := cfg.StoreRetries
	if storeRetries == 0 {
		storeRetries = defaultStoreRetries
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		executions:      cfg.Executions,
		validator:       engine.NewValidator(cfg.Executions),
		backend:         cfg.Backend,
		pollInterval:    pollInterval,
		maxPollFailures: maxPollFailures,
		storeRetries:    storeRetries,
		logger:          logger,
	}
}

// stepOutcome — чем закончилось отслеживание шага.
type stepOutcome int

const (
	stepFinished stepOutcome = iota
	stepFailed
	stepCancelled
)

// Run выполняет execution.
//
// Ошибка означает, что Runner прервался, не доведя execution до финала
// (остановка ctx или недоступное хранилище). Отказ шага ошибкой не
// считается: он записывается в состояние execution.
func (r *Runner) Run(ctx context.Context, executionID uuid.UUID) error {
	exec, err := r.load(ctx, executionID)
	if err != nil {
		return err
	}
	if !exec.IsActive() {
		r.logger.Debug("execution already completed", "execution_id", executionID, "status", exec.Status)
		return nil
	}

	logger := telemetry.WithExecutionID(telemetry.WithDatasetID(r.logger, exec.DatasetID), exec.ID.String())

	if exec.Cancelling {
		return r.cancel(ctx, exec, logger)
	}

	resumed := exec.Status == domain.WorkflowStatusRunning
	exec.MarkRunning()
	if err := r.persist(ctx, exec); err != nil {
		return err
	}
	logger.Info("execution started", "steps", len(exec.Plugins), "resumed", resumed)

	for i := range exec.Plugins {
		p := &exec.Plugins[i]
		stepLogger := telemetry.WithPluginType(logger, string(p.Type))

		switch p.Status {
		case domain.PluginStatusFinished:
			continue
		case domain.PluginStatusFailed:
			return r.fail(ctx, exec, logger)
		case domain.PluginStatusCancelled:
			return r.cancel(ctx, exec, logger)
		}

		cancelling, err := r.isCancelling(ctx, exec)
		if err != nil {
			return err
		}
		if cancelling {
			return r.cancel(ctx, exec, logger)
		}

		if p.ExternalTaskID == "" {
			if err := r.submit(ctx, exec, i, stepLogger); err != nil {
				return err
			}
			if p.Status == domain.PluginStatusFailed {
				return r.fail(ctx, exec, logger)
			}
		}

		outcome, err := r.monitor(ctx, exec, p, stepLogger)
		if err != nil {
			return err
		}

		switch outcome {
		case stepFailed:
			return r.fail(ctx, exec, logger)
		case stepCancelled:
			return r.cancel(ctx, exec, logger)
		}
	}

	exec.MarkFinished()
	if err := r.persist(ctx, exec); err != nil {
		return err
	}
	telemetry.ExecutionsCompleted.WithLabelValues(string(exec.Status)).Inc()
	logger.Info("execution finished", "duration", executionDuration(exec))
	return nil
}

// submit привязывает предшественника и отправляет шаг i в backend.
// Отказ backend или правил порядка переводит шаг в FAILED.
func (r *Runner) submit(ctx context.Context, exec *domain.WorkflowExecution, i int, logger *slog.Logger) error {
	p := &exec.Plugins[i]

	predecessor, err := r.predecessor(ctx, exec, i)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("no valid predecessor", "error", err)
		p.MarkFailed(err.Error())
		return r.persist(ctx, exec)
	}

	sub := backend.Submission{
		ExecutionID: exec.ID,
		PluginID:    p.ID,
		DatasetID:   exec.DatasetID,
		Type:        p.Type,
		Config:      p.Config,
	}
	if predecessor != nil {
		p.Linkage = domain.LinkageFrom(predecessor)
		sub.Predecessor = p.Linkage
	}

	taskID, err := r.backend.Submit(ctx, sub)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("submit failed", "error", err)
		p.MarkFailed(fmt.Sprintf("submit: %v", err))
		return r.persist(ctx, exec)
	}

	p.MarkSubmitted(taskID)
	exec.Touch()
	if err := r.persist(ctx, exec); err != nil {
		return err
	}
	logger.Info("step submitted", "external_task_id", taskID)
	return nil
}

// predecessor возвращает шаг, на выходе которого строится шаг i.
//
// Первый шаг execution разрешается по истории датасета (с учётом
// EnforcedPredecessor). Следующие берут предыдущий шаг того же execution,
// который должен дать валидные данные.
func (r *Runner) predecessor(ctx context.Context, exec *domain.WorkflowExecution, i int) (*domain.PluginExecution, error) {
	p := &exec.Plugins[i]
	if i == 0 {
		return r.validator.ResolvePredecessor(ctx, p.Type, exec.EnforcedPredecessor, exec.DatasetID)
	}

	prev := &exec.Plugins[i-1]
	if !prev.HasValidData() {
		return nil, fmt.Errorf("%w: %s requires valid data from %s (processed %d, errors %d)",
			engine.ErrPluginExecutionNotAllowed, p.Type, prev.Type,
			prev.Progress.ProcessedRecords, prev.Progress.ErrorRecords)
	}
	return prev, nil
}

// monitor опрашивает backend до финала задачи или запроса отмены.
func (r *Runner) monitor(ctx context.Context, exec *domain.WorkflowExecution, p *domain.PluginExecution, logger *slog.Logger) (stepOutcome, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		status, err := r.backend.Status(ctx, p.ExternalTaskID)
		switch {
		case err != nil && ctx.Err() != nil:
			return 0, ctx.Err()
		case err != nil && backend.IsTransient(err):
			failures++
			logger.Warn("status poll failed",
				"external_task_id", p.ExternalTaskID,
				"failures", failures,
				"error", err,
			)
			if failures >= r.maxPollFailures {
				p.MarkFailed(fmt.Sprintf("status: %v", err))
				return r.finishStep(ctx, exec, p, stepFailed, logger)
			}
		case err != nil:
			p.MarkFailed(fmt.Sprintf("status: %v", err))
			return r.finishStep(ctx, exec, p, stepFailed, logger)
		default:
			failures = 0
			p.UpdateProgress(status.Progress())

			switch status.State {
			case backend.TaskStateSucceeded:
				p.MarkFinished()
				return r.finishStep(ctx, exec, p, stepFinished, logger)
			case backend.TaskStateFailed:
				p.MarkFailed(failMessage(status))
				return r.finishStep(ctx, exec, p, stepFailed, logger)
			case backend.TaskStateCancelled:
				cancelling, err := r.isCancelling(ctx, exec)
				if err != nil {
					return 0, err
				}
				if cancelling {
					p.MarkCancelled()
					return stepCancelled, nil
				}
				p.MarkFailed("task cancelled by backend")
				return r.finishStep(ctx, exec, p, stepFailed, logger)
			case backend.TaskStateCleaning:
				if p.Status != domain.PluginStatusCleaning {
					p.MarkCleaning()
				}
			}

			exec.Touch()
			if err := r.persist(ctx, exec); err != nil {
				return 0, err
			}
		}

		cancelling, err := r.isCancelling(ctx, exec)
		if err != nil {
			return 0, err
		}
		if cancelling {
			return stepCancelled, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// finishStep сохраняет финальный статус шага.
func (r *Runner) finishStep(ctx context.Context, exec *domain.WorkflowExecution, p *domain.PluginExecution, outcome stepOutcome, logger *slog.Logger) (stepOutcome, error) {
	exec.Touch()
	if err := r.persist(ctx, exec); err != nil {
		return 0, err
	}

	var elapsed time.Duration
	if p.StartedAt != nil && p.FinishedAt != nil {
		elapsed = p.FinishedAt.Sub(*p.StartedAt)
	}
	telemetry.StepDuration.WithLabelValues(string(p.Type), string(p.Status)).Observe(elapsed.Seconds())

	logger.Info("step completed",
		"status", p.Status,
		"processed", p.Progress.ProcessedRecords,
		"errors", p.Progress.ErrorRecords,
		"duration", elapsed,
	)
	return outcome, nil
}

// cancelTask просит backend остановить задачу шага. Ошибка не мешает
// отмене execution: задача в любом случае больше не отслеживается.
func (r *Runner) cancelTask(ctx context.Context, exec *domain.WorkflowExecution, p *domain.PluginExecution, logger *slog.Logger) {
	reason := "cancelled by " + exec.CancelledBy
	if err := r.backend.Cancel(ctx, p.ExternalTaskID, reason); err != nil {
		logger.Warn("failed to cancel backend task",
			"external_task_id", p.ExternalTaskID,
			"error", err,
		)
	}
}

// cancel останавливает задачу в backend, если шаг ещё выполняется, и
// переводит execution и все незавершённые шаги в CANCELLED.
func (r *Runner) cancel(ctx context.Context, exec *domain.WorkflowExecution, logger *slog.Logger) error {
	for i := range exec.Plugins {
		p := &exec.Plugins[i]
		if p.ExternalTaskID != "" && !p.Status.IsTerminal() {
			r.cancelTask(ctx, exec, p, logger)
		}
	}

	exec.MarkCancelled()
	if err := r.persist(ctx, exec); err != nil {
		return err
	}
	telemetry.ExecutionsCompleted.WithLabelValues(string(exec.Status)).Inc()
	logger.Info("execution cancelled", "cancelled_by", exec.CancelledBy)
	return nil
}

// fail переводит execution в FAILED. Оставшиеся шаги не запускаются.
func (r *Runner) fail(ctx context.Context, exec *domain.WorkflowExecution, logger *slog.Logger) error {
	exec.MarkFailed()
	if err := r.persist(ctx, exec); err != nil {
		return err
	}
	telemetry.ExecutionsCompleted.WithLabelValues(string(exec.Status)).Inc()
	logger.Warn("execution failed", "duration", executionDuration(exec))
	return nil
}

// isCancelling перечитывает флаг отмены из хранилища.
func (r *Runner) isCancelling(ctx context.Context, exec *domain.WorkflowExecution) (bool, error) {
	var cancelling bool
	op := func() error {
		var err error
		cancelling, err = r.executions.IsCancelling(ctx, exec.ID)
		return permanentIfNotFound(err)
	}
	if err := backoff.Retry(op, r.storeBackOff(ctx)); err != nil {
		return false, fmt.Errorf("check cancelling %s: %w", exec.ID, err)
	}
	if !cancelling {
		return false, nil
	}

	fresh, err := r.load(ctx, exec.ID)
	if err != nil {
		return false, err
	}
	exec.Cancelling = true
	exec.CancelledBy = fresh.CancelledBy
	return true, nil
}

func (r *Runner) load(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error) {
	var exec *domain.WorkflowExecution
	op := func() error {
		var err error
		exec, err = r.executions.GetByID(ctx, id)
		return permanentIfNotFound(err)
	}
	if err := backoff.Retry(op, r.storeBackOff(ctx)); err != nil {
		return nil, fmt.Errorf("load execution %s: %w", id, err)
	}
	return exec, nil
}

// persist сохраняет execution, повторяя временные ошибки хранилища.
func (r *Runner) persist(ctx context.Context, exec *domain.WorkflowExecution) error {
	op := func() error {
		return permanentIfNotFound(r.executions.Update(ctx, exec))
	}
	if err := backoff.Retry(op, r.storeBackOff(ctx)); err != nil {
		return fmt.Errorf("persist execution %s: %w", exec.ID, err)
	}
	return nil
}

func (r *Runner) storeBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, r.storeRetries), ctx)
}

func permanentIfNotFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return backoff.Permanent(err)
	}
	return err
}

func failMessage(status backend.TaskStatus) string {
	if status.Message != "" {
		return status.Message
	}
	return "task failed"
}

func executionDuration(exec *domain.WorkflowExecution) time.Duration {
	if exec.StartedAt == nil || exec.FinishedAt == nil {
		return 0
	}
	return exec.FinishedAt.Sub(*exec.StartedAt)
}
