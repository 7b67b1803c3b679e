package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/engine"
	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/repo"
	"github.com/shaiso/Metis/internal/telemetry"
)

// Результаты срабатывания (метка метрики SchedulesFired).
const (
	resultFired    = "fired"
	resultSkipped  = "skipped"
	resultRejected = "rejected"
	resultError    = "error"
)

// Enqueuer — постановка execution по расписанию. Реализуется orchestrator.Service.
type Enqueuer interface {
	EnqueueScheduled(ctx context.Context, datasetID string, priority int) (*domain.WorkflowExecution, error)
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	schedules repo.ScheduleStore
	enqueuer  Enqueuer
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules repo.ScheduleStore
	Enqueuer  Enqueuer
	Logger    *slog.Logger
	BatchSize int // количество schedules за один запрос (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedules: cfg.Schedules,
		enqueuer:  cfg.Enqueuer,
		logger:    logger,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules страницами по BatchSize
// 2. Для каждого ставит execution в очередь тем же путём, что и ручной запуск
// 3. Сдвигает next_due_at (ONCE выключается)
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	var due, fired int
	offset := 0
	for {
		schedules, err := s.schedules.ListDue(ctx, now, offset, s.batchSize)
		if err != nil {
			return fmt.Errorf("list due schedules: %w", err)
		}
		due += len(schedules)

		// Обработанные schedules перестают быть due, поэтому offset
		// сдвигается только на те, что остались на месте
		stillDue := 0
		for i := range schedules {
			sched := &schedules[i]

			ok, err := s.processSchedule(ctx, sched, now)
			if err != nil {
				s.logger.Error("failed to process schedule",
					"schedule_id", sched.ID,
					"dataset_id", sched.DatasetID,
					"error", err,
				)
				stillDue++
				continue
			}
			if ok {
				fired++
			}
		}

		if len(schedules) < s.batchSize {
			break
		}
		offset += stillDue
	}

	if due > 0 {
		s.logger.Info("scheduler tick completed",
			"due", due,
			"executions_created", fired,
		)
	}
	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если execution был создан.
//
// Отказ в запуске (активный execution, нет workflow, нет предшественника)
// пропускает слот и сдвигает next_due_at. Прочие ошибки оставляют
// schedule due до следующего тика.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.ScheduledWorkflow, now time.Time) (bool, error) {
	logger := telemetry.WithDatasetID(s.logger, sched.DatasetID).With("schedule_id", sched.ID)

	var executionID *uuid.UUID
	exec, err := s.enqueuer.EnqueueScheduled(ctx, sched.DatasetID, sched.Priority)
	switch {
	case err == nil:
		executionID = &exec.ID
		telemetry.SchedulesFired.WithLabelValues(resultFired).Inc()
		logger.Info("created execution from schedule",
			"execution_id", exec.ID,
			"frequency", sched.Frequency,
		)
	case errors.Is(err, orchestrator.ErrWorkflowExecutionAlreadyExists):
		telemetry.SchedulesFired.WithLabelValues(resultSkipped).Inc()
		logger.Info("dataset has an active execution, skipping slot", "reason", err)
	case isRejection(err):
		telemetry.SchedulesFired.WithLabelValues(resultRejected).Inc()
		logger.Warn("scheduled execution rejected, skipping slot", "reason", err)
	default:
		telemetry.SchedulesFired.WithLabelValues(resultError).Inc()
		return false, fmt.Errorf("enqueue execution: %w", err)
	}

	nextDue, err := NextDue(sched, now)
	if err != nil {
		// Schedule некорректный — выключаем, иначе он срабатывал бы каждый тик
		logger.Error("failed to calculate next due, disabling schedule", "error", err)
		nextDue = nil
	}

	sched.RecordRun(executionID, nextDue)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return executionID != nil, fmt.Errorf("update schedule: %w", err)
	}

	if nextDue == nil {
		logger.Info("schedule disabled after last run")
	}
	return executionID != nil, nil
}

func isRejection(err error) bool {
	return errors.Is(err, orchestrator.ErrNoDatasetFound) ||
		errors.Is(err, orchestrator.ErrNoWorkflowFound) ||
		errors.Is(err, engine.ErrPluginExecutionNotAllowed) ||
		errors.Is(err, engine.ErrBadContent)
}
