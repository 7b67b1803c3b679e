package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Metis/internal/domain"
)

// ExecutionStore — хранилище executions.
//
// Реализации: ExecutionRepo (Postgres) и memstore.ExecutionStore.
type ExecutionStore interface {
	Create(ctx context.Context, exec *domain.WorkflowExecution) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error)
	GetByExternalTaskID(ctx context.Context, externalTaskID string) (*domain.WorkflowExecution, error)
	Update(ctx context.Context, exec *domain.WorkflowExecution) error
	IsCancelling(ctx context.Context, id uuid.UUID) (bool, error)

	// RequestCancel выставляет флаг отмены активному execution.
	// Для финального execution возвращает ErrInvalidState.
	RequestCancel(ctx context.Context, id uuid.UUID, actor string) error

	// ExistsActiveForDataset возвращает ID execution в INQUEUE/RUNNING
	// или uuid.Nil, если активного нет.
	ExistsActiveForDataset(ctx context.Context, datasetID string) (uuid.UUID, error)

	// LatestOrFirstFinishedPlugin возвращает самый ранний (wantFirst) или
	// самый поздний FINISHED шаг одного из типов по времени завершения.
	// requireValidData отбрасывает шаги без валидных данных.
	// Возвращает nil, nil, если подходящего шага нет.
	LatestOrFirstFinishedPlugin(ctx context.Context, datasetID string, types []domain.PluginType, wantFirst, requireValidData bool) (*domain.PluginExecution, error)

	Overview(ctx context.Context, filter OverviewFilter, page Pagination) (ResultList[ExecutionOverview], error)
	List(ctx context.Context, filter ExecutionFilter) ([]domain.WorkflowExecution, error)
	DeleteByDataset(ctx context.Context, datasetID string) (int, error)
}

// WorkflowStore — хранилище workflows.
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	GetByDataset(ctx context.Context, datasetID string) (*domain.Workflow, error)
	Update(ctx context.Context, wf *domain.Workflow) error
	Delete(ctx context.Context, datasetID string) error
}

// DatasetStore — чтение датасетов.
type DatasetStore interface {
	Upsert(ctx context.Context, ds *domain.Dataset) error
	GetByID(ctx context.Context, id string) (*domain.Dataset, error)
}

// ScheduleStore — хранилище scheduled workflows.
type ScheduleStore interface {
	Create(ctx context.Context, s *domain.ScheduledWorkflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledWorkflow, error)
	List(ctx context.Context, filter ScheduleFilter) ([]domain.ScheduledWorkflow, error)
	ListDue(ctx context.Context, now time.Time, offset, limit int) ([]domain.ScheduledWorkflow, error)
	Update(ctx context.Context, s *domain.ScheduledWorkflow) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// OverviewFilter — фильтры overview. Пустой фильтр не ограничивает выборку.
//
// PluginStatuses, PluginTypes и диапазон дат применяются к одному шагу:
// execution попадает в выборку, если хотя бы один его шаг удовлетворяет
// всем заданным условиям.
type OverviewFilter struct {
	DatasetIDs     []string
	PluginStatuses []domain.PluginStatus
	PluginTypes    []domain.PluginType
	StartedFrom    *time.Time // включительно
	StartedTo      *time.Time // не включительно
}

// HasPluginFilter возвращает true, если задано хоть одно условие на шаги.
func (f OverviewFilter) HasPluginFilter() bool {
	return len(f.PluginStatuses) > 0 || len(f.PluginTypes) > 0 || f.StartedFrom != nil || f.StartedTo != nil
}

// ExecutionOverview — строка overview: execution и его датасет.
type ExecutionOverview struct {
	Execution domain.WorkflowExecution `json:"execution"`
	Dataset   domain.Dataset           `json:"dataset"`
}

// ExecutionFilter — параметры фильтрации executions.
type ExecutionFilter struct {
	DatasetIDs []string
	Statuses   []domain.WorkflowStatus
	Limit      int
	Offset     int
}

// ScheduleFilter — параметры фильтрации scheduled workflows.
type ScheduleFilter struct {
	DatasetID string
	Enabled   *bool
	Limit     int
	Offset    int
}

var (
	_ ExecutionStore = (*ExecutionRepo)(nil)
	_ WorkflowStore  = (*WorkflowRepo)(nil)
	_ DatasetStore   = (*DatasetRepo)(nil)
	_ ScheduleStore  = (*ScheduleRepo)(nil)
)
