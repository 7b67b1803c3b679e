package scheduler

import "errors"

// Ошибки планировщика.
var (
	// ErrNoScheduledWorkflowFound — расписание не найдено.
	ErrNoScheduledWorkflowFound = errors.New("no scheduled workflow found")

	// ErrScheduledWorkflowAlreadyExists — у датасета уже есть расписание.
	ErrScheduledWorkflowAlreadyExists = errors.New("scheduled workflow already exists")
)
