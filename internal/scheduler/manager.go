package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/lock"
	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/repo"
)

// Manager — операции над scheduled workflows.
//
// У датасета не больше одного расписания. Расписание можно создать только
// для датасета, у которого есть workflow.
type Manager struct {
	schedules repo.ScheduleStore
	datasets  repo.DatasetStore
	workflows repo.WorkflowStore
	locker    lock.Locker
	logger    *slog.Logger
	now       func() time.Time
}

// ManagerConfig — конфигурация Manager.
type ManagerConfig struct {
	Schedules repo.ScheduleStore
	Datasets  repo.DatasetStore
	Workflows repo.WorkflowStore
	Locker    lock.Locker // default: lock.NewKeyed()
	Logger    *slog.Logger
}

// NewManager создаёт Manager.
func NewManager(cfg ManagerConfig) *Manager {
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewKeyed()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		schedules: cfg.Schedules,
		datasets:  cfg.Datasets,
		workflows: cfg.Workflows,
		locker:    locker,
		logger:    logger,
		now:       time.Now,
	}
}

// Create создаёт расписание и вычисляет первый запуск.
func (m *Manager) Create(ctx context.Context, sched *domain.ScheduledWorkflow) error {
	if err := ValidateSchedule(sched); err != nil {
		return err
	}
	if err := m.checkDataset(ctx, sched.DatasetID); err != nil {
		return err
	}
	if err := m.checkWorkflow(ctx, sched.DatasetID); err != nil {
		return err
	}

	now := m.now()
	sched.ID = uuid.New()
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}
	sched.CreatedAt = now
	sched.UpdatedAt = now
	sched.LastRunAt = nil
	sched.LastExecutionID = nil
	if err := m.planFirstRun(sched, now); err != nil {
		return err
	}

	err := lock.With(ctx, m.locker, scheduleLockKey(sched.DatasetID), func() error {
		existing, err := m.findByDataset(ctx, sched.DatasetID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: dataset %s has schedule %s",
				ErrScheduledWorkflowAlreadyExists, sched.DatasetID, existing.ID)
		}
		if err := m.schedules.Create(ctx, sched); err != nil {
			return fmt.Errorf("create schedule: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("schedule created",
		"schedule_id", sched.ID,
		"dataset_id", sched.DatasetID,
		"frequency", sched.Frequency,
		"next_due_at", sched.NextDueAt,
	)
	return nil
}

// Update заменяет параметры расписания и пересчитывает следующий запуск.
// История срабатываний сохраняется.
func (m *Manager) Update(ctx context.Context, sched *domain.ScheduledWorkflow) error {
	stored, err := m.Get(ctx, sched.ID)
	if err != nil {
		return err
	}

	sched.DatasetID = stored.DatasetID
	if err := ValidateSchedule(sched); err != nil {
		return err
	}
	if err := m.checkWorkflow(ctx, stored.DatasetID); err != nil {
		return err
	}

	now := m.now()
	stored.PointerDate = sched.PointerDate
	stored.Frequency = sched.Frequency
	stored.CronExpr = sched.CronExpr
	if sched.Timezone != "" {
		stored.Timezone = sched.Timezone
	}
	stored.Priority = sched.Priority
	stored.Enabled = sched.Enabled
	stored.UpdatedAt = now
	if err := m.planFirstRun(stored, now); err != nil {
		return err
	}

	if err := m.schedules.Update(ctx, stored); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNoScheduledWorkflowFound, sched.ID)
		}
		return fmt.Errorf("update schedule: %w", err)
	}

	*sched = *stored
	m.logger.Info("schedule updated",
		"schedule_id", sched.ID,
		"dataset_id", sched.DatasetID,
		"enabled", sched.Enabled,
		"next_due_at", sched.NextDueAt,
	)
	return nil
}

// Get возвращает расписание по ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledWorkflow, error) {
	sched, err := m.schedules.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoScheduledWorkflowFound, id)
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// GetByDataset возвращает расписание датасета.
func (m *Manager) GetByDataset(ctx context.Context, datasetID string) (*domain.ScheduledWorkflow, error) {
	sched, err := m.findByDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, fmt.Errorf("%w: dataset %s", ErrNoScheduledWorkflowFound, datasetID)
	}
	return sched, nil
}

// List возвращает расписания по фильтру.
func (m *Manager) List(ctx context.Context, filter repo.ScheduleFilter) ([]domain.ScheduledWorkflow, error) {
	list, err := m.schedules.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return list, nil
}

// Delete удаляет расписание.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	if err := m.schedules.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNoScheduledWorkflowFound, id)
		}
		return fmt.Errorf("delete schedule: %w", err)
	}
	m.logger.Info("schedule deleted", "schedule_id", id)
	return nil
}

// planFirstRun выставляет NextDueAt для включённого расписания.
func (m *Manager) planFirstRun(sched *domain.ScheduledWorkflow, now time.Time) error {
	if !sched.Enabled {
		sched.NextDueAt = nil
		return nil
	}
	next, err := InitialNextDue(sched, now)
	if err != nil {
		return fmt.Errorf("calculate next due: %w", err)
	}
	sched.NextDueAt = next
	return nil
}

func (m *Manager) findByDataset(ctx context.Context, datasetID string) (*domain.ScheduledWorkflow, error) {
	list, err := m.schedules.List(ctx, repo.ScheduleFilter{DatasetID: datasetID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find schedule: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (m *Manager) checkDataset(ctx context.Context, datasetID string) error {
	if _, err := m.datasets.GetByID(ctx, datasetID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", orchestrator.ErrNoDatasetFound, datasetID)
		}
		return fmt.Errorf("get dataset: %w", err)
	}
	return nil
}

func (m *Manager) checkWorkflow(ctx context.Context, datasetID string) error {
	if _, err := m.workflows.GetByDataset(ctx, datasetID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: dataset %s", orchestrator.ErrNoWorkflowFound, datasetID)
		}
		return fmt.Errorf("get workflow: %w", err)
	}
	return nil
}

func scheduleLockKey(datasetID string) string {
	return "schedule:" + datasetID
}
