package domain

import (
	"time"

	"github.com/google/uuid"
)

// SystemCancelActor — cancelled_by для отмены, инициированной системой
// (превышен лимит длительности execution).
const SystemCancelActor = "SYSTEM_MINUTE_CAP_EXPIRE"

// WorkflowExecution — один запуск workflow для датасета.
//
// Создаётся при запросе запуска (вручную, по расписанию или ad-hoc).
// Во время выполнения его меняет только runner, владеющий execution.
// Удаляется только при очистке датасета.
type WorkflowExecution struct {
	// ID — уникальный идентификатор execution.
	ID uuid.UUID `json:"id"`

	// DatasetID — датасет, для которого выполняется workflow.
	DatasetID string `json:"dataset_id"`

	// WorkflowID — workflow, из которого построен execution.
	// uuid.Nil для ad-hoc запусков.
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Priority — приоритет в очереди, больше = раньше.
	Priority int `json:"priority"`

	// Status — текущий статус.
	Status WorkflowStatus `json:"status"`

	// Cancelling — запрошена отмена, runner ещё не отреагировал.
	Cancelling bool `json:"cancelling"`

	// CancelledBy — кто запросил отмену (пользователь или SystemCancelActor).
	CancelledBy string `json:"cancelled_by,omitempty"`

	// EnforcedPredecessor — явно заданный тип предшественника для первого шага.
	EnforcedPredecessor PluginType `json:"enforced_predecessor,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// UpdatedAt — время последнего изменения состояния.
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Plugins — шаги в порядке выполнения.
	Plugins []PluginExecution `json:"plugins"`
}

// NewWorkflowExecution создаёт execution в статусе INQUEUE из включённых шагов.
func NewWorkflowExecution(datasetID string, workflowID uuid.UUID, steps []PluginConfig, priority int, enforced PluginType) *WorkflowExecution {
	enabled := EnabledSteps(steps)

	plugins := make([]PluginExecution, len(enabled))
	for i, step := range enabled {
		plugins[i] = PluginExecution{
			ID:     uuid.New(),
			Type:   step.Type,
			Status: PluginStatusInQueue,
			Config: step,
		}
	}

	return &WorkflowExecution{
		ID:                  uuid.New(),
		DatasetID:           datasetID,
		WorkflowID:          workflowID,
		Priority:            priority,
		Status:              WorkflowStatusInQueue,
		EnforcedPredecessor: enforced,
		CreatedAt:           time.Now(),
		Plugins:             plugins,
	}
}

// IsActive возвращает true для INQUEUE и RUNNING.
func (e *WorkflowExecution) IsActive() bool {
	return e.Status.IsActive()
}

// Touch обновляет UpdatedAt.
func (e *WorkflowExecution) Touch() {
	now := time.Now()
	e.UpdatedAt = &now
}

// MarkRunning переводит execution в RUNNING.
// StartedAt сохраняется, если execution возобновляется.
func (e *WorkflowExecution) MarkRunning() {
	now := time.Now()
	e.Status = WorkflowStatusRunning
	if e.StartedAt == nil {
		e.StartedAt = &now
	}
	e.UpdatedAt = &now
}

// MarkFinished переводит execution в FINISHED.
func (e *WorkflowExecution) MarkFinished() {
	e.finish(WorkflowStatusFinished)
}

// MarkFailed переводит execution в FAILED.
func (e *WorkflowExecution) MarkFailed() {
	e.finish(WorkflowStatusFailed)
}

// MarkCancelled переводит execution и все незавершённые шаги в CANCELLED.
func (e *WorkflowExecution) MarkCancelled() {
	for i := range e.Plugins {
		if !e.Plugins[i].Status.IsTerminal() {
			e.Plugins[i].MarkCancelled()
		}
	}
	e.Cancelling = false
	e.finish(WorkflowStatusCancelled)
}

// RequestCancel выставляет флаг отмены. Пустой actor означает отмену системой.
func (e *WorkflowExecution) RequestCancel(actor string) {
	if actor == "" {
		actor = SystemCancelActor
	}
	e.Cancelling = true
	e.CancelledBy = actor
	e.Touch()
}

func (e *WorkflowExecution) finish(status WorkflowStatus) {
	now := time.Now()
	e.Status = status
	e.UpdatedAt = &now
	e.FinishedAt = &now
}

// Plugin возвращает шаг по типу или nil.
func (e *WorkflowExecution) Plugin(t PluginType) *PluginExecution {
	for i := range e.Plugins {
		if e.Plugins[i].Type == t {
			return &e.Plugins[i]
		}
	}
	return nil
}

// PluginExecution — экземпляр шага внутри execution.
type PluginExecution struct {
	// ID — уникальный идентификатор шага.
	ID uuid.UUID `json:"id"`

	// Type — тип шага.
	Type PluginType `json:"type"`

	// Status — текущий статус шага.
	Status PluginStatus `json:"status"`

	// StartedAt — время отправки задачи в backend.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// UpdatedAt — время последнего обновления прогресса или статуса.
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// ExternalTaskID — идентификатор задачи во внешнем backend.
	ExternalTaskID string `json:"external_task_id,omitempty"`

	// Progress — последний снимок прогресса.
	Progress Progress `json:"progress"`

	// FailMessage — сообщение об ошибке для FAILED.
	FailMessage string `json:"fail_message,omitempty"`

	// Config — конфигурация, с которой запущен шаг.
	Config PluginConfig `json:"config"`

	// Linkage — ревизия предшественника, которую шаг взял на вход.
	Linkage *Linkage `json:"linkage,omitempty"`
}

// Progress — снимок прогресса задачи в backend.
type Progress struct {
	// ExpectedRecords — ожидаемое количество записей (0, если неизвестно).
	ExpectedRecords int `json:"expected_records"`

	// ProcessedRecords — обработано записей.
	ProcessedRecords int `json:"processed_records"`

	// ErrorRecords — записей с ошибками.
	ErrorRecords int `json:"error_records"`
}

// Linkage — ссылка на выход шага-предшественника.
type Linkage struct {
	// PluginID — шаг-предшественник.
	PluginID uuid.UUID `json:"plugin_id"`

	// RevisionName — имя ревизии (тип шага-предшественника).
	RevisionName string `json:"revision_name"`

	// RevisionTimestamp — метка ревизии (время старта предшественника).
	RevisionTimestamp time.Time `json:"revision_timestamp"`
}

// LinkageFrom строит Linkage на выход завершённого шага.
func LinkageFrom(p *PluginExecution) *Linkage {
	l := &Linkage{
		PluginID:     p.ID,
		RevisionName: string(p.Type),
	}
	switch {
	case p.StartedAt != nil:
		l.RevisionTimestamp = *p.StartedAt
	case p.FinishedAt != nil:
		l.RevisionTimestamp = *p.FinishedAt
	}
	return l
}

// MarkSubmitted переводит шаг в RUNNING после отправки задачи в backend.
func (p *PluginExecution) MarkSubmitted(externalTaskID string) {
	now := time.Now()
	p.Status = PluginStatusRunning
	p.ExternalTaskID = externalTaskID
	p.FailMessage = ""
	p.StartedAt = &now
	p.UpdatedAt = &now
}

// UpdateProgress сохраняет снимок прогресса.
func (p *PluginExecution) UpdateProgress(progress Progress) {
	now := time.Now()
	p.Progress = progress
	p.UpdatedAt = &now
}

// MarkCleaning переводит шаг в CLEANING.
func (p *PluginExecution) MarkCleaning() {
	now := time.Now()
	p.Status = PluginStatusCleaning
	p.UpdatedAt = &now
}

// MarkFinished переводит шаг в FINISHED.
func (p *PluginExecution) MarkFinished() {
	p.finish(PluginStatusFinished)
}

// MarkFailed переводит шаг в FAILED с сообщением.
func (p *PluginExecution) MarkFailed(msg string) {
	p.FailMessage = msg
	p.finish(PluginStatusFailed)
}

// MarkCancelled переводит шаг в CANCELLED.
func (p *PluginExecution) MarkCancelled() {
	p.finish(PluginStatusCancelled)
}

func (p *PluginExecution) finish(status PluginStatus) {
	now := time.Now()
	p.Status = status
	p.UpdatedAt = &now
	p.FinishedAt = &now
}

// DataStatus вычисляет пригодность результата шага.
func (p *PluginExecution) DataStatus() DataStatus {
	if p.Progress.ProcessedRecords > p.Progress.ErrorRecords {
		return DataStatusValid
	}
	return DataStatusInvalid
}

// HasValidData возвращает true для FINISHED шага с валидными данными.
func (p *PluginExecution) HasValidData() bool {
	return p.Status == PluginStatusFinished && p.DataStatus() == DataStatusValid
}
