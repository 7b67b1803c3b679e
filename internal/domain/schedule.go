package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleFrequency — частота запуска scheduled workflow.
type ScheduleFrequency string

const (
	// FrequencyOnce — один запуск в PointerDate.
	FrequencyOnce ScheduleFrequency = "ONCE"

	// FrequencyDaily — каждый день во время PointerDate.
	FrequencyDaily ScheduleFrequency = "DAILY"

	// FrequencyWeekly — каждую неделю в день недели PointerDate.
	FrequencyWeekly ScheduleFrequency = "WEEKLY"

	// FrequencyMonthly — каждый месяц в число PointerDate.
	FrequencyMonthly ScheduleFrequency = "MONTHLY"
)

// IsValid возвращает true для известной частоты.
func (f ScheduleFrequency) IsValid() bool {
	switch f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// ScheduledWorkflow — расписание автоматического запуска workflow датасета.
//
// Scheduler проверяет NextDueAt и ставит execution в очередь тем же путём,
// что и ручной запуск (с блокировкой датасета).
type ScheduledWorkflow struct {
	// ID — уникальный идентификатор расписания.
	ID uuid.UUID `json:"id"`

	// DatasetID — датасет, workflow которого запускается.
	DatasetID string `json:"dataset_id"`

	// PointerDate — опорная дата: первый запуск и время суток/дня для повторов.
	PointerDate time.Time `json:"pointer_date"`

	// Frequency — частота запуска.
	Frequency ScheduleFrequency `json:"frequency"`

	// CronExpr — cron-выражение, если задано, заменяет Frequency для повторов.
	// Формат: "минуты часы дни месяцы дни_недели".
	CronExpr string `json:"cron_expr,omitempty"`

	// Timezone — часовой пояс для вычисления времени. По умолчанию "UTC".
	Timezone string `json:"timezone"`

	// Priority — приоритет создаваемых executions.
	Priority int `json:"priority"`

	// Enabled — если false, scheduler игнорирует расписание.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего срабатывания.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastExecutionID — execution, созданный последним срабатыванием.
	LastExecutionID *uuid.UUID `json:"last_execution_id,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDue проверяет, пора ли запускать.
func (s *ScheduledWorkflow) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// RecordRun записывает срабатывание и следующее время запуска.
// Для ONCE расписание выключается.
func (s *ScheduledWorkflow) RecordRun(executionID *uuid.UUID, nextDue *time.Time) {
	now := time.Now()
	s.LastRunAt = &now
	if executionID != nil {
		s.LastExecutionID = executionID
	}
	s.NextDueAt = nextDue
	if nextDue == nil {
		s.Enabled = false
	}
	s.UpdatedAt = now
}
