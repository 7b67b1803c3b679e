package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Metis/internal/backend"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/engine"
	"github.com/shaiso/Metis/internal/lock"
	"github.com/shaiso/Metis/internal/repo"
	"github.com/shaiso/Metis/internal/telemetry"
)

// Default configuration values.
const (
	defaultExecutionsPerRequest = 5
	defaultCommitSettleTime     = 5 * time.Minute
	defaultListLimit            = 100

	// maxTaskLogRange — строк лога задачи за один запрос.
	maxTaskLogRange = 100
)

// Источники создания execution (метка метрики ExecutionsEnqueued).
const (
	SourceManual   = "manual"
	SourceAdHoc    = "adhoc"
	SourceSchedule = "schedule"
)

// Queue — очередь запуска executions. Реализуется mq.Publisher.
type Queue interface {
	PublishExecution(ctx context.Context, executionID uuid.UUID, priority int) error
}

// Service — операции над workflows и executions.
type Service struct {
	executions repo.ExecutionStore
	workflows  repo.WorkflowStore
	datasets   repo.DatasetStore
	queue      Queue
	locker     lock.Locker
	validator  *engine.Validator
	backend    backend.Client

	executionsPerRequest int
	maxServedExecutions  int
	commitSettleTime     time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// ServiceConfig — конфигурация Service.
type ServiceConfig struct {
	Executions repo.ExecutionStore
	Workflows  repo.WorkflowStore
	Datasets   repo.DatasetStore
	Queue      Queue
	Locker     lock.Locker // default: lock.NewKeyed()

	// Backend — для чтения логов и отчётов задач. Без него эти запросы
	// возвращают ErrBackendNotConfigured.
	Backend backend.Client

	ExecutionsPerRequest int           // размер страницы overview (default: 5)
	MaxServedExecutions  int           // предел выдачи overview, 0 — без предела
	CommitSettleTime     time.Duration // задержка готовности preview/publish (default: 5m)

	Logger *slog.Logger
}

// NewService создаёт Service.
func NewService(cfg ServiceConfig) *Service {
	perRequest := cfg.ExecutionsPerRequest
	if perRequest <= 0 {
		perRequest = defaultExecutionsPerRequest
	}

	settle := cfg.CommitSettleTime
	if settle <= 0 {
		settle = defaultCommitSettleTime
	}

	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewKeyed()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		executions:           cfg.Executions,
		workflows:            cfg.Workflows,
		datasets:             cfg.Datasets,
		queue:                cfg.Queue,
		locker:               locker,
		validator:            engine.NewValidator(cfg.Executions),
		backend:              cfg.Backend,
		executionsPerRequest: perRequest,
		maxServedExecutions:  max(cfg.MaxServedExecutions, 0),
		commitSettleTime:     settle,
		logger:               logger,
		now:                  time.Now,
	}
}

// Validator возвращает правила порядка шагов поверх хранилища Service.
func (s *Service) Validator() *engine.Validator {
	return s.validator
}

// RegisterDataset регистрирует датасет или обновляет его имя и поставщика.
func (s *Service) RegisterDataset(ctx context.Context, ds *domain.Dataset) error {
	if ds.ID == "" {
		return engine.NewValidationError("", "id", "dataset id is required", engine.ErrBadContent)
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = s.now()
	}
	if err := s.datasets.Upsert(ctx, ds); err != nil {
		return fmt.Errorf("upsert dataset: %w", err)
	}
	return nil
}

// GetDataset возвращает датасет.
func (s *Service) GetDataset(ctx context.Context, datasetID string) (*domain.Dataset, error) {
	ds, err := s.datasets.GetByID(ctx, datasetID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoDatasetFound, datasetID)
		}
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return ds, nil
}

// CreateWorkflow создаёт workflow датасета.
func (s *Service) CreateWorkflow(ctx context.Context, datasetID string, steps []domain.PluginConfig) (*domain.Workflow, error) {
	if _, err := s.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	if err := engine.ValidateSteps(steps); err != nil {
		return nil, err
	}

	now := s.now()
	wf := &domain.Workflow{
		ID:        uuid.New(),
		DatasetID: datasetID,
		Steps:     cloneSteps(steps),
		CreatedAt: now,
		UpdatedAt: now,
	}
	domain.SortSteps(wf.Steps)

	if err := s.workflows.Create(ctx, wf); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: dataset %s", ErrWorkflowAlreadyExists, datasetID)
		}
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	s.logger.Info("workflow created",
		"dataset_id", datasetID,
		"workflow_id", wf.ID,
		"steps", len(wf.Steps),
	)
	return wf, nil
}

// UpdateWorkflow заменяет шаги workflow датасета.
func (s *Service) UpdateWorkflow(ctx context.Context, datasetID string, steps []domain.PluginConfig) (*domain.Workflow, error) {
	wf, err := s.GetWorkflow(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := engine.ValidateSteps(steps); err != nil {
		return nil, err
	}

	wf.Steps = cloneSteps(steps)
	domain.SortSteps(wf.Steps)
	wf.UpdatedAt = s.now()

	if err := s.workflows.Update(ctx, wf); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: dataset %s", ErrNoWorkflowFound, datasetID)
		}
		return nil, fmt.Errorf("update workflow: %w", err)
	}

	s.logger.Info("workflow updated", "dataset_id", datasetID, "workflow_id", wf.ID)
	return wf, nil
}

// GetWorkflow возвращает workflow датасета.
func (s *Service) GetWorkflow(ctx context.Context, datasetID string) (*domain.Workflow, error) {
	wf, err := s.workflows.GetByDataset(ctx, datasetID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: dataset %s", ErrNoWorkflowFound, datasetID)
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

// DeleteWorkflow удаляет workflow датасета. Executions остаются.
func (s *Service) DeleteWorkflow(ctx context.Context, datasetID string) error {
	if err := s.workflows.Delete(ctx, datasetID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: dataset %s", ErrNoWorkflowFound, datasetID)
		}
		return fmt.Errorf("delete workflow: %w", err)
	}
	s.logger.Info("workflow deleted", "dataset_id", datasetID)
	return nil
}

// EnqueueExecution создаёт execution из сохранённого workflow датасета и
// ставит его в очередь.
//
// enforced задаёт тип предшественника для первого шага; пустая строка
// означает цепочку по умолчанию.
func (s *Service) EnqueueExecution(ctx context.Context, datasetID string, enforced domain.PluginType, priority int) (*domain.WorkflowExecution, error) {
	return s.enqueueWorkflow(ctx, datasetID, enforced, priority, SourceManual)
}

// EnqueueScheduled — EnqueueExecution для срабатывания расписания.
func (s *Service) EnqueueScheduled(ctx context.Context, datasetID string, priority int) (*domain.WorkflowExecution, error) {
	return s.enqueueWorkflow(ctx, datasetID, "", priority, SourceSchedule)
}

func (s *Service) enqueueWorkflow(ctx context.Context, datasetID string, enforced domain.PluginType, priority int, source string) (*domain.WorkflowExecution, error) {
	if _, err := s.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	wf, err := s.GetWorkflow(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateSequence(ctx, datasetID, wf.Steps, enforced); err != nil {
		return nil, err
	}

	exec := domain.NewWorkflowExecution(datasetID, wf.ID, wf.Steps, priority, enforced)
	return s.submit(ctx, exec, source)
}

// EnqueueAdHoc запускает переданные шаги, не сохраняя их как workflow датасета.
func (s *Service) EnqueueAdHoc(ctx context.Context, datasetID string, steps []domain.PluginConfig, enforced domain.PluginType, priority int) (*domain.WorkflowExecution, error) {
	if _, err := s.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	if err := engine.ValidateSteps(steps); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateSequence(ctx, datasetID, steps, enforced); err != nil {
		return nil, err
	}

	exec := domain.NewWorkflowExecution(datasetID, uuid.Nil, cloneSteps(steps), priority, enforced)
	return s.submit(ctx, exec, SourceAdHoc)
}

// submit создаёт execution под блокировкой датасета и публикует его.
// Публикация идёт уже после снятия блокировки.
func (s *Service) submit(ctx context.Context, exec *domain.WorkflowExecution, source string) (*domain.WorkflowExecution, error) {
	err := lock.With(ctx, s.locker, exec.DatasetID, func() error {
		activeID, err := s.executions.ExistsActiveForDataset(ctx, exec.DatasetID)
		if err != nil {
			return fmt.Errorf("check active execution: %w", err)
		}
		if activeID != uuid.Nil {
			return fmt.Errorf("%w: dataset %s has active execution %s",
				ErrWorkflowExecutionAlreadyExists, exec.DatasetID, activeID)
		}

		if err := s.executions.Create(ctx, exec); err != nil {
			if errors.Is(err, repo.ErrAlreadyExists) {
				return fmt.Errorf("%w: dataset %s", ErrWorkflowExecutionAlreadyExists, exec.DatasetID)
			}
			return fmt.Errorf("create execution: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.ExecutionsEnqueued.WithLabelValues(source).Inc()

	logger := telemetry.WithExecutionID(telemetry.WithDatasetID(s.logger, exec.DatasetID), exec.ID.String())
	logger.Info("execution created",
		"source", source,
		"priority", exec.Priority,
		"steps", len(exec.Plugins),
	)

	if s.queue != nil {
		if err := s.queue.PublishExecution(ctx, exec.ID, exec.Priority); err != nil {
			// Execution уже в хранилище, Dispatcher подберёт его через recovery poll
			logger.Warn("failed to publish execution", "error", err)
		}
	}

	return exec, nil
}

// CancelExecution запрашивает отмену активного execution.
//
// Отмена кооперативная: Runner увидит флаг на ближайшей проверке.
// actor обязателен; domain.SystemCancelActor зарезервирован за reaper.
func (s *Service) CancelExecution(ctx context.Context, executionID uuid.UUID, actor string) error {
	switch actor {
	case "":
		return engine.NewValidationError("", "actor", "cancel actor is required", engine.ErrBadContent)
	case domain.SystemCancelActor:
		return engine.NewValidationError("", "actor", "actor "+actor+" is reserved", engine.ErrBadContent)
	}

	err := s.executions.RequestCancel(ctx, executionID, actor)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, repo.ErrInvalidState):
		return fmt.Errorf("%w: %s", ErrNoActiveExecutionFound, executionID)
	default:
		return fmt.Errorf("request cancel: %w", err)
	}

	s.logger.Info("execution cancel requested",
		"execution_id", executionID,
		"cancelled_by", actor,
	)
	return nil
}

// GetExecution возвращает execution по ID.
func (s *Service) GetExecution(ctx context.Context, executionID uuid.UUID) (*domain.WorkflowExecution, error) {
	exec, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoExecutionFound, executionID)
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

// ListExecutions возвращает executions по фильтру, новые первыми.
func (s *Service) ListExecutions(ctx context.Context, filter repo.ExecutionFilter) ([]domain.WorkflowExecution, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	filter.Offset = max(filter.Offset, 0)

	list, err := s.executions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return list, nil
}

// GetOverview возвращает страницы overview начиная с firstPage.
func (s *Service) GetOverview(ctx context.Context, filter repo.OverviewFilter, firstPage, pageCount int) (repo.ResultList[repo.ExecutionOverview], error) {
	page := repo.NewPagination(s.executionsPerRequest, s.maxServedExecutions, firstPage, pageCount)
	result, err := s.executions.Overview(ctx, filter, page)
	if err != nil {
		return repo.ResultList[repo.ExecutionOverview]{}, fmt.Errorf("overview: %w", err)
	}
	return result, nil
}

// DeleteDatasetExecutions удаляет все executions датасета.
// Пока у датасета есть активный execution, возвращает ErrExecutionInProgress.
func (s *Service) DeleteDatasetExecutions(ctx context.Context, datasetID string) (int, error) {
	var deleted int
	err := lock.With(ctx, s.locker, datasetID, func() error {
		activeID, err := s.executions.ExistsActiveForDataset(ctx, datasetID)
		if err != nil {
			return fmt.Errorf("check active execution: %w", err)
		}
		if activeID != uuid.Nil {
			return fmt.Errorf("%w: dataset %s has active execution %s", ErrExecutionInProgress, datasetID, activeID)
		}

		deleted, err = s.executions.DeleteByDataset(ctx, datasetID)
		if err != nil {
			return fmt.Errorf("delete executions: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("dataset executions deleted", "dataset_id", datasetID, "count", deleted)
	return deleted, nil
}

// GetTaskLogs возвращает строки лога задачи backend с номерами from..to.
// Служебная информация backend из строк удаляется.
func (s *Service) GetTaskLogs(ctx context.Context, externalTaskID string, from, to int) ([]backend.SubTaskLog, error) {
	if from < 0 || to < from {
		return nil, engine.NewValidationError("", "from", fmt.Sprintf("invalid range %d..%d", from, to), engine.ErrBadContent)
	}
	if to-from >= maxTaskLogRange {
		return nil, engine.NewValidationError("", "to", fmt.Sprintf("range exceeds %d lines", maxTaskLogRange), engine.ErrBadContent)
	}
	if err := s.checkExternalTask(ctx, externalTaskID); err != nil {
		return nil, err
	}

	logs, err := s.backend.TaskLogs(ctx, externalTaskID, from, to)
	if err != nil {
		return nil, fmt.Errorf("task logs: %w", err)
	}
	for i := range logs {
		logs[i].Additional = ""
	}
	return logs, nil
}

// GetTaskReport возвращает отчёт об ошибках задачи backend.
func (s *Service) GetTaskReport(ctx context.Context, externalTaskID string) (backend.TaskReport, error) {
	if err := s.checkExternalTask(ctx, externalTaskID); err != nil {
		return backend.TaskReport{}, err
	}

	report, err := s.backend.TaskReport(ctx, externalTaskID)
	if err != nil {
		return backend.TaskReport{}, fmt.Errorf("task report: %w", err)
	}
	return report, nil
}

// checkExternalTask проверяет, что задача принадлежит шагу одного из executions.
func (s *Service) checkExternalTask(ctx context.Context, externalTaskID string) error {
	if s.backend == nil {
		return ErrBackendNotConfigured
	}
	if externalTaskID == "" {
		return fmt.Errorf("%w: empty task id", ErrNoExternalTaskFound)
	}
	if _, err := s.executions.GetByExternalTaskID(ctx, externalTaskID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNoExternalTaskFound, externalTaskID)
		}
		return fmt.Errorf("get execution by task: %w", err)
	}
	return nil
}

func cloneSteps(steps []domain.PluginConfig) []domain.PluginConfig {
	out := make([]domain.PluginConfig, len(steps))
	copy(out, steps)
	return out
}
