// Package memstore — хранилища в памяти с той же семантикой, что и Postgres-репозитории.
//
// Используются в тестах и для локального запуска без БД.
// Все методы возвращают копии: изменение результата не меняет хранилище.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/repo"
)

// Stores — набор хранилищ в памяти.
type Stores struct {
	Executions *ExecutionStore
	Workflows  *WorkflowStore
	Datasets   *DatasetStore
	Schedules  *ScheduleStore
}

// New создаёт пустой набор хранилищ.
func New() *Stores {
	datasets := &DatasetStore{items: make(map[string]domain.Dataset)}
	return &Stores{
		Executions: &ExecutionStore{items: make(map[uuid.UUID]domain.WorkflowExecution), datasets: datasets},
		Workflows:  &WorkflowStore{items: make(map[string]domain.Workflow)},
		Datasets:   datasets,
		Schedules:  &ScheduleStore{items: make(map[uuid.UUID]domain.ScheduledWorkflow)},
	}
}

// --- Executions ---

// ExecutionStore — executions в памяти.
type ExecutionStore struct {
	mu       sync.RWMutex
	items    map[uuid.UUID]domain.WorkflowExecution
	datasets *DatasetStore
}

var _ repo.ExecutionStore = (*ExecutionStore)(nil)

// Create сохраняет execution. Второй активный execution датасета — ErrAlreadyExists.
func (s *ExecutionStore) Create(_ context.Context, exec *domain.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[exec.ID]; ok {
		return fmt.Errorf("%w: execution %s", repo.ErrAlreadyExists, exec.ID)
	}
	if exec.Status.IsActive() {
		for _, e := range s.items {
			if e.DatasetID == exec.DatasetID && e.Status.IsActive() {
				return fmt.Errorf("%w: active execution for dataset %s", repo.ErrAlreadyExists, exec.DatasetID)
			}
		}
	}
	s.items[exec.ID] = copyExecution(*exec)
	return nil
}

// GetByID возвращает execution по ID.
func (s *ExecutionStore) GetByID(_ context.Context, id uuid.UUID) (*domain.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := copyExecution(e)
	return &c, nil
}

// GetByExternalTaskID возвращает execution по идентификатору задачи backend.
func (s *ExecutionStore) GetByExternalTaskID(_ context.Context, externalTaskID string) (*domain.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.items {
		for _, p := range e.Plugins {
			if p.ExternalTaskID != "" && p.ExternalTaskID == externalTaskID {
				c := copyExecution(e)
				return &c, nil
			}
		}
	}
	return nil, repo.ErrNotFound
}

// Update сохраняет execution. Флаг отмены активного execution не перезаписывается.
func (s *ExecutionStore) Update(_ context.Context, exec *domain.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.items[exec.ID]
	if !ok {
		return repo.ErrNotFound
	}

	next := copyExecution(*exec)
	if next.Status.IsActive() {
		next.Cancelling = stored.Cancelling
	}
	if stored.CancelledBy != "" {
		next.CancelledBy = stored.CancelledBy
	}
	s.items[exec.ID] = next
	return nil
}

// RequestCancel выставляет флаг отмены активному execution.
func (s *ExecutionStore) RequestCancel(_ context.Context, id uuid.UUID, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[id]
	if !ok {
		return repo.ErrNotFound
	}
	if !e.Status.IsActive() {
		return repo.ErrInvalidState
	}
	e.RequestCancel(actor)
	s.items[id] = e
	return nil
}

// IsCancelling возвращает флаг отмены.
func (s *ExecutionStore) IsCancelling(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	return e.Cancelling, nil
}

// ExistsActiveForDataset возвращает ID активного execution датасета или uuid.Nil.
func (s *ExecutionStore) ExistsActiveForDataset(_ context.Context, datasetID string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.items {
		if e.DatasetID == datasetID && e.Status.IsActive() {
			return e.ID, nil
		}
	}
	return uuid.Nil, nil
}

// LatestOrFirstFinishedPlugin ищет завершённый шаг среди executions датасета.
func (s *ExecutionStore) LatestOrFirstFinishedPlugin(_ context.Context, datasetID string, types []domain.PluginType, wantFirst, requireValidData bool) (*domain.PluginExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.PluginExecution
	for _, e := range s.items {
		if e.DatasetID != datasetID {
			continue
		}
		for i := range e.Plugins {
			p := e.Plugins[i]
			if p.Status != domain.PluginStatusFinished || p.FinishedAt == nil || !slices.Contains(types, p.Type) {
				continue
			}
			if requireValidData && !p.HasValidData() {
				continue
			}
			if best == nil ||
				(wantFirst && p.FinishedAt.Before(*best.FinishedAt)) ||
				(!wantFirst && p.FinishedAt.After(*best.FinishedAt)) {
				best = &p
			}
		}
	}
	return best, nil
}

// Overview возвращает executions в порядке bucket, затем created_at DESC.
func (s *ExecutionStore) Overview(_ context.Context, filter repo.OverviewFilter, page repo.Pagination) (repo.ResultList[repo.ExecutionOverview], error) {
	s.mu.RLock()
	var matched []repo.ExecutionOverview
	for _, e := range s.items {
		if !matchesOverview(e, filter) {
			continue
		}
		// Как и JOIN в Postgres: execution без датасета в overview не попадает.
		ds, err := s.datasets.GetByID(context.Background(), e.DatasetID)
		if err != nil {
			continue
		}
		matched = append(matched, repo.ExecutionOverview{Execution: copyExecution(e), Dataset: *ds})
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b repo.ExecutionOverview) int {
		if c := cmp.Compare(a.Execution.Status.OverviewBucket(), b.Execution.Status.OverviewBucket()); c != 0 {
			return c
		}
		if c := b.Execution.CreatedAt.Compare(a.Execution.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Execution.ID.String(), b.Execution.ID.String())
	})

	return repo.NewResultList(paginate(matched, page.Skip, page.Limit), page), nil
}

// List возвращает executions с фильтрацией, от новых к старым.
func (s *ExecutionStore) List(_ context.Context, filter repo.ExecutionFilter) ([]domain.WorkflowExecution, error) {
	s.mu.RLock()
	var matched []domain.WorkflowExecution
	for _, e := range s.items {
		if len(filter.DatasetIDs) > 0 && !slices.Contains(filter.DatasetIDs, e.DatasetID) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, e.Status) {
			continue
		}
		matched = append(matched, copyExecution(e))
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.WorkflowExecution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return paginate(matched, filter.Offset, limit), nil
}

// DeleteByDataset удаляет все executions датасета.
func (s *ExecutionStore) DeleteByDataset(_ context.Context, datasetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.items {
		if e.DatasetID == datasetID {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func matchesOverview(e domain.WorkflowExecution, f repo.OverviewFilter) bool {
	if len(f.DatasetIDs) > 0 && !slices.Contains(f.DatasetIDs, e.DatasetID) {
		return false
	}
	if !f.HasPluginFilter() {
		return true
	}
	return slices.ContainsFunc(e.Plugins, func(p domain.PluginExecution) bool {
		if len(f.PluginStatuses) > 0 && !slices.Contains(f.PluginStatuses, p.Status) {
			return false
		}
		if len(f.PluginTypes) > 0 && !slices.Contains(f.PluginTypes, p.Type) {
			return false
		}
		if f.StartedFrom != nil && (p.StartedAt == nil || p.StartedAt.Before(*f.StartedFrom)) {
			return false
		}
		if f.StartedTo != nil && (p.StartedAt == nil || !p.StartedAt.Before(*f.StartedTo)) {
			return false
		}
		return true
	})
}

func copyExecution(e domain.WorkflowExecution) domain.WorkflowExecution {
	e.Plugins = slices.Clone(e.Plugins)
	return e
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) || limit <= 0 {
		return nil
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

// --- Workflows ---

// WorkflowStore — workflows в памяти, по одному на датасет.
type WorkflowStore struct {
	mu    sync.RWMutex
	items map[string]domain.Workflow
}

var _ repo.WorkflowStore = (*WorkflowStore)(nil)

// Create сохраняет workflow.
func (s *WorkflowStore) Create(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[wf.DatasetID]; ok {
		return fmt.Errorf("%w: workflow for dataset %s", repo.ErrAlreadyExists, wf.DatasetID)
	}
	s.items[wf.DatasetID] = copyWorkflow(*wf)
	return nil
}

// GetByDataset возвращает workflow датасета.
func (s *WorkflowStore) GetByDataset(_ context.Context, datasetID string) (*domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.items[datasetID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := copyWorkflow(wf)
	return &c, nil
}

// Update заменяет workflow датасета.
func (s *WorkflowStore) Update(_ context.Context, wf *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.items[wf.DatasetID]
	if !ok {
		return repo.ErrNotFound
	}
	next := copyWorkflow(*wf)
	next.ID = stored.ID
	next.CreatedAt = stored.CreatedAt
	s.items[wf.DatasetID] = next
	return nil
}

// Delete удаляет workflow датасета.
func (s *WorkflowStore) Delete(_ context.Context, datasetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[datasetID]; !ok {
		return repo.ErrNotFound
	}
	delete(s.items, datasetID)
	return nil
}

func copyWorkflow(wf domain.Workflow) domain.Workflow {
	wf.Steps = slices.Clone(wf.Steps)
	return wf
}

// --- Datasets ---

// DatasetStore — датасеты в памяти.
type DatasetStore struct {
	mu    sync.RWMutex
	items map[string]domain.Dataset
}

var _ repo.DatasetStore = (*DatasetStore)(nil)

// Upsert регистрирует датасет.
func (s *DatasetStore) Upsert(_ context.Context, ds *domain.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.items[ds.ID]; ok {
		stored.Name = ds.Name
		stored.Provider = ds.Provider
		s.items[ds.ID] = stored
		return nil
	}
	s.items[ds.ID] = *ds
	return nil
}

// GetByID возвращает датасет по ID.
func (s *DatasetStore) GetByID(_ context.Context, id string) (*domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &ds, nil
}

// --- Schedules ---

// ScheduleStore — scheduled workflows в памяти.
type ScheduleStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]domain.ScheduledWorkflow
}

var _ repo.ScheduleStore = (*ScheduleStore)(nil)

// Create сохраняет расписание.
func (s *ScheduleStore) Create(_ context.Context, sched *domain.ScheduledWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[sched.ID]; ok {
		return fmt.Errorf("%w: scheduled workflow %s", repo.ErrAlreadyExists, sched.ID)
	}
	s.items[sched.ID] = *sched
	return nil
}

// GetByID возвращает расписание по ID.
func (s *ScheduleStore) GetByID(_ context.Context, id uuid.UUID) (*domain.ScheduledWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &sched, nil
}

// List возвращает расписания с фильтрацией, от новых к старым.
func (s *ScheduleStore) List(_ context.Context, filter repo.ScheduleFilter) ([]domain.ScheduledWorkflow, error) {
	s.mu.RLock()
	var matched []domain.ScheduledWorkflow
	for _, sched := range s.items {
		if filter.DatasetID != "" && sched.DatasetID != filter.DatasetID {
			continue
		}
		if filter.Enabled != nil && sched.Enabled != *filter.Enabled {
			continue
		}
		matched = append(matched, sched)
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.ScheduledWorkflow) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return paginate(matched, filter.Offset, limit), nil
}

// ListDue возвращает страницу расписаний, готовых к запуску.
func (s *ScheduleStore) ListDue(_ context.Context, now time.Time, offset, limit int) ([]domain.ScheduledWorkflow, error) {
	s.mu.RLock()
	var due []domain.ScheduledWorkflow
	for _, sched := range s.items {
		if sched.IsDue(now) {
			due = append(due, sched)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(due, func(a, b domain.ScheduledWorkflow) int {
		if c := a.NextDueAt.Compare(*b.NextDueAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return paginate(due, offset, limit), nil
}

// Update сохраняет расписание.
func (s *ScheduleStore) Update(_ context.Context, sched *domain.ScheduledWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[sched.ID]; !ok {
		return repo.ErrNotFound
	}
	s.items[sched.ID] = *sched
	return nil
}

// Delete удаляет расписание.
func (s *ScheduleStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.items, id)
	return nil
}
