// Package backend — клиент внешнего backend, выполняющего шаги workflow.
//
// Backend обрабатывает записи сам; оркестратор только отправляет задачу,
// опрашивает её статус и при необходимости отменяет.
package backend

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/shaiso/Metis/internal/domain"
)

// Классы ошибок вызовов backend.
var (
	// ErrTransient — сетевая или временная ошибка, вызов можно повторить.
	ErrTransient = errors.New("backend transient error")

	// ErrPermanent — backend отклонил вызов, повтор не поможет.
	ErrPermanent = errors.New("backend permanent error")
)

// TaskState — состояние задачи в backend.
type TaskState string

// Состояния задачи.
const (
	TaskStateQueued     TaskState = "QUEUED"
	TaskStateProcessing TaskState = "PROCESSING"
	TaskStateCleaning   TaskState = "CLEANING"
	TaskStateSucceeded  TaskState = "SUCCEEDED"
	TaskStateFailed     TaskState = "FAILED"
	TaskStateCancelled  TaskState = "CANCELLED"
)

// IsTerminal возвращает true, если задача больше не изменится.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// Submission — задача на выполнение одного шага.
type Submission struct {
	ExecutionID uuid.UUID           `json:"execution_id"`
	PluginID    uuid.UUID           `json:"plugin_id"`
	DatasetID   string              `json:"dataset_id"`
	Type        domain.PluginType   `json:"type"`
	Config      domain.PluginConfig `json:"config"`

	// Predecessor — ревизия, которую шаг берёт на вход. nil для harvest.
	Predecessor *domain.Linkage `json:"predecessor,omitempty"`
}

// TaskStatus — снимок состояния задачи.
type TaskStatus struct {
	State            TaskState `json:"state"`
	ExpectedRecords  int       `json:"expected_records"`
	ProcessedRecords int       `json:"processed_records"`
	ErrorRecords     int       `json:"error_records"`
	Message          string    `json:"message,omitempty"`
}

// Progress возвращает прогресс в формате домена.
func (s TaskStatus) Progress() domain.Progress {
	return domain.Progress{
		ExpectedRecords:  s.ExpectedRecords,
		ProcessedRecords: s.ProcessedRecords,
		ErrorRecords:     s.ErrorRecords,
	}
}

// SubTaskLog — строка лога задачи: одна обработанная запись.
type SubTaskLog struct {
	Number     int    `json:"number"`
	Resource   string `json:"resource"`
	State      string `json:"state"`
	Info       string `json:"info,omitempty"`
	Additional string `json:"additional_info,omitempty"`
}

// TaskError — один тип ошибки в отчёте задачи.
type TaskError struct {
	ErrorType   string   `json:"error_type"`
	Message     string   `json:"message"`
	Occurrences int      `json:"occurrences"`
	Identifiers []string `json:"identifiers,omitempty"`
}

// TaskReport — отчёт об ошибках задачи.
type TaskReport struct {
	TaskID string      `json:"task_id"`
	Errors []TaskError `json:"errors"`
}

// Client — контракт backend.
//
// Реализации возвращают ошибки, обёрнутые в ErrTransient или ErrPermanent.
type Client interface {
	Submit(ctx context.Context, sub Submission) (taskID string, err error)
	Status(ctx context.Context, taskID string) (TaskStatus, error)
	Cancel(ctx context.Context, taskID, reason string) error

	// TaskLogs возвращает строки лога с номерами from..to включительно.
	TaskLogs(ctx context.Context, taskID string, from, to int) ([]SubTaskLog, error)

	// TaskReport возвращает отчёт об ошибках с примерами идентификаторов
	// записей для каждого типа ошибки.
	TaskReport(ctx context.Context, taskID string) (TaskReport, error)
}

// IsTransient сообщает, можно ли повторить вызов.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
