package domain

// WorkflowStatus — статус выполнения workflow.
//
// Жизненный цикл:
//
//	INQUEUE → RUNNING → FINISHED
//	                  ↘ FAILED
//	         (или)  → CANCELLED (из INQUEUE или RUNNING)
type WorkflowStatus string

const (
	// WorkflowStatusInQueue — execution создан и ждёт в очереди.
	WorkflowStatusInQueue WorkflowStatus = "INQUEUE"

	// WorkflowStatusRunning — execution выполняется runner'ом.
	WorkflowStatusRunning WorkflowStatus = "RUNNING"

	// WorkflowStatusFinished — все шаги завершены успешно.
	WorkflowStatusFinished WorkflowStatus = "FINISHED"

	// WorkflowStatusFailed — один из шагов завершился ошибкой.
	WorkflowStatusFailed WorkflowStatus = "FAILED"

	// WorkflowStatusCancelled — execution отменён.
	WorkflowStatusCancelled WorkflowStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusFinished, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive возвращает true для INQUEUE и RUNNING.
func (s WorkflowStatus) IsActive() bool {
	return s == WorkflowStatusInQueue || s == WorkflowStatusRunning
}

// OverviewBucket — порядок статуса в overview: INQUEUE, затем RUNNING, затем остальные.
func (s WorkflowStatus) OverviewBucket() int {
	switch s {
	case WorkflowStatusInQueue:
		return 1
	case WorkflowStatusRunning:
		return 2
	default:
		return 3
	}
}

// ActiveStatuses — статусы, в которых у датасета может быть только один execution.
var ActiveStatuses = []WorkflowStatus{WorkflowStatusInQueue, WorkflowStatusRunning}

// PluginStatus — статус шага внутри execution.
//
// Жизненный цикл:
//
//	INQUEUE → RUNNING → (CLEANING) → FINISHED
//	                              ↘ FAILED
//	       (или)      → CANCELLED
type PluginStatus string

const (
	// PluginStatusInQueue — шаг ещё не запускался.
	PluginStatusInQueue PluginStatus = "INQUEUE"

	// PluginStatusRunning — задача отправлена в backend и выполняется.
	PluginStatusRunning PluginStatus = "RUNNING"

	// PluginStatusCleaning — backend закончил обработку и убирает за собой.
	PluginStatusCleaning PluginStatus = "CLEANING"

	// PluginStatusFinished — шаг завершён.
	PluginStatusFinished PluginStatus = "FINISHED"

	// PluginStatusFailed — шаг завершился ошибкой.
	PluginStatusFailed PluginStatus = "FAILED"

	// PluginStatusCancelled — шаг отменён.
	PluginStatusCancelled PluginStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s PluginStatus) IsTerminal() bool {
	switch s {
	case PluginStatusFinished, PluginStatusFailed, PluginStatusCancelled:
		return true
	default:
		return false
	}
}

// DataStatus — пригодность результата шага в качестве входа для следующего.
type DataStatus string

const (
	// DataStatusValid — обработано больше записей, чем ошибок.
	DataStatusValid DataStatus = "VALID"

	// DataStatusInvalid — шаг завершён, но данных для следующего шага нет.
	DataStatusInvalid DataStatus = "INVALID"
)
