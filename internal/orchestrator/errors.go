package orchestrator

import "errors"

// Ошибки оркестратора.
//
// Ошибки отказа в запросе возвращаются вызывающему до создания записи в
// очереди. Ошибки правил порядка шагов приходят из engine
// (engine.ErrPluginExecutionNotAllowed, engine.ErrBadContent).
var (
	// ErrNoDatasetFound — датасет не зарегистрирован.
	ErrNoDatasetFound = errors.New("no dataset found")

	// ErrNoWorkflowFound — у датасета нет workflow.
	ErrNoWorkflowFound = errors.New("no workflow found")

	// ErrWorkflowAlreadyExists — у датасета уже есть workflow.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	// ErrWorkflowExecutionAlreadyExists — у датасета уже есть активный execution.
	ErrWorkflowExecutionAlreadyExists = errors.New("workflow execution already exists")

	// ErrNoActiveExecutionFound — execution не найден или уже завершён.
	ErrNoActiveExecutionFound = errors.New("no active execution found")

	// ErrNoExecutionFound — execution не найден.
	ErrNoExecutionFound = errors.New("no execution found")

	// ErrExecutionInProgress — операция запрещена, пока у датасета есть
	// активный execution.
	ErrExecutionInProgress = errors.New("execution in progress")

	// ErrNoExternalTaskFound — ни один шаг не ссылается на задачу backend.
	ErrNoExternalTaskFound = errors.New("no external task found")

	// ErrBackendNotConfigured — Service создан без клиента backend.
	ErrBackendNotConfigured = errors.New("backend not configured")

	// ErrOrchestratorStopped — dispatcher остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
