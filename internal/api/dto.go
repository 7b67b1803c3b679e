package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/repo"
)

// Dataset DTOs

// RegisterDatasetRequest — запрос на регистрацию датасета.
type RegisterDatasetRequest struct {
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
}

// Workflow DTOs

// WorkflowRequest — запрос на создание или замену workflow.
type WorkflowRequest struct {
	Steps []domain.PluginConfig `json:"steps"`
}

// Execution DTOs

// EnqueueExecutionRequest — запрос на запуск workflow.
// Непустой Steps запускает ad-hoc шаги вместо сохранённого workflow.
type EnqueueExecutionRequest struct {
	EnforcedPredecessor domain.PluginType     `json:"enforced_predecessor,omitempty"`
	Priority            int                   `json:"priority"`
	Steps               []domain.PluginConfig `json:"steps,omitempty"`
}

// CancelExecutionRequest — запрос на отмену execution.
type CancelExecutionRequest struct {
	Actor string `json:"actor,omitempty"`
}

// DeleteExecutionsResponse — результат очистки executions датасета.
type DeleteExecutionsResponse struct {
	DatasetID string `json:"dataset_id"`
	Deleted   int    `json:"deleted"`
}

// OverviewRow — строка overview.
type OverviewRow struct {
	ExecutionID uuid.UUID             `json:"execution_id"`
	DatasetID   string                `json:"dataset_id"`
	DatasetName string                `json:"dataset_name,omitempty"`
	Provider    string                `json:"provider,omitempty"`
	Status      domain.WorkflowStatus `json:"status"`
	Cancelling  bool                  `json:"cancelling"`
	CancelledBy string                `json:"cancelled_by,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
	Plugins     []PluginRow           `json:"plugins"`
}

// PluginRow — шаг в строке overview.
type PluginRow struct {
	Type       domain.PluginType   `json:"type"`
	Status     domain.PluginStatus `json:"status"`
	Progress   domain.Progress     `json:"progress"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// OverviewResponse — страница overview.
type OverviewResponse struct {
	Results               []OverviewRow `json:"results"`
	MaxResultCountReached bool          `json:"max_result_count_reached"`
}

// OverviewFromRepo конвертирует результат overview в OverviewResponse.
func OverviewFromRepo(list repo.ResultList[repo.ExecutionOverview]) OverviewResponse {
	rows := make([]OverviewRow, len(list.Results))
	for i, item := range list.Results {
		e := item.Execution
		row := OverviewRow{
			ExecutionID: e.ID,
			DatasetID:   e.DatasetID,
			DatasetName: item.Dataset.Name,
			Provider:    item.Dataset.Provider,
			Status:      e.Status,
			Cancelling:  e.Cancelling,
			CancelledBy: e.CancelledBy,
			CreatedAt:   e.CreatedAt,
			StartedAt:   e.StartedAt,
			FinishedAt:  e.FinishedAt,
			Plugins:     make([]PluginRow, len(e.Plugins)),
		}
		for j, p := range e.Plugins {
			row.Plugins[j] = PluginRow{
				Type:       p.Type,
				Status:     p.Status,
				Progress:   p.Progress,
				StartedAt:  p.StartedAt,
				FinishedAt: p.FinishedAt,
			}
		}
		rows[i] = row
	}
	return OverviewResponse{Results: rows, MaxResultCountReached: list.MaxResultCountReached}
}

// SummaryStep — шаг в сводке датасета.
type SummaryStep struct {
	ExecutionStepID uuid.UUID         `json:"id"`
	Type            domain.PluginType `json:"type"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	Progress        domain.Progress   `json:"progress"`
}

// SummaryResponse — сводка последних завершённых шагов датасета.
type SummaryResponse struct {
	DatasetID    string       `json:"dataset_id"`
	LastHarvest  *SummaryStep `json:"last_harvest,omitempty"`
	FirstPublish *SummaryStep `json:"first_publish,omitempty"`
	LastPreview  *SummaryStep `json:"last_preview,omitempty"`
	LastPublish  *SummaryStep `json:"last_publish,omitempty"`
	PreviewReady bool         `json:"preview_ready"`
	PublishReady bool         `json:"publish_ready"`
}

// SummaryFromDomain конвертирует сводку датасета в SummaryResponse.
func SummaryFromDomain(s *orchestrator.DatasetExecutionSummary) SummaryResponse {
	return SummaryResponse{
		DatasetID:    s.DatasetID,
		LastHarvest:  summaryStep(s.LastHarvest),
		FirstPublish: summaryStep(s.FirstPublish),
		LastPreview:  summaryStep(s.LastPreview),
		LastPublish:  summaryStep(s.LastPublish),
		PreviewReady: s.PreviewReady,
		PublishReady: s.PublishReady,
	}
}

func summaryStep(p *domain.PluginExecution) *SummaryStep {
	if p == nil {
		return nil
	}
	return &SummaryStep{
		ExecutionStepID: p.ID,
		Type:            p.Type,
		FinishedAt:      p.FinishedAt,
		Progress:        p.Progress,
	}
}

// Schedule DTOs

// ScheduleRequest — запрос на создание или замену расписания.
type ScheduleRequest struct {
	PointerDate time.Time                `json:"pointer_date"`
	Frequency   domain.ScheduleFrequency `json:"frequency"`
	CronExpr    string                   `json:"cron_expr,omitempty"`
	Timezone    string                   `json:"timezone,omitempty"`
	Priority    int                      `json:"priority"`
	Enabled     *bool                    `json:"enabled,omitempty"` // default: true
}

// toDomain строит расписание датасета из запроса.
func (r ScheduleRequest) toDomain(datasetID string) *domain.ScheduledWorkflow {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &domain.ScheduledWorkflow{
		DatasetID:   datasetID,
		PointerDate: r.PointerDate,
		Frequency:   r.Frequency,
		CronExpr:    r.CronExpr,
		Timezone:    r.Timezone,
		Priority:    r.Priority,
		Enabled:     enabled,
	}
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с расписанием.
type ScheduleResponse struct {
	ID              uuid.UUID                `json:"id"`
	DatasetID       string                   `json:"dataset_id"`
	PointerDate     time.Time                `json:"pointer_date"`
	Frequency       domain.ScheduleFrequency `json:"frequency"`
	CronExpr        string                   `json:"cron_expr,omitempty"`
	Timezone        string                   `json:"timezone"`
	Priority        int                      `json:"priority"`
	Enabled         bool                     `json:"enabled"`
	NextDueAt       *time.Time               `json:"next_due_at,omitempty"`
	LastRunAt       *time.Time               `json:"last_run_at,omitempty"`
	LastExecutionID *uuid.UUID               `json:"last_execution_id,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.ScheduledWorkflow в ScheduleResponse.
func ScheduleFromDomain(s *domain.ScheduledWorkflow) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:              s.ID,
		DatasetID:       s.DatasetID,
		PointerDate:     s.PointerDate,
		Frequency:       s.Frequency,
		CronExpr:        s.CronExpr,
		Timezone:        s.Timezone,
		Priority:        s.Priority,
		Enabled:         s.Enabled,
		NextDueAt:       s.NextDueAt,
		LastRunAt:       s.LastRunAt,
		LastExecutionID: s.LastExecutionID,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}
