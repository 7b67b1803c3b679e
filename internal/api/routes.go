package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		RequestID(h.logger),
		Logging(h.logger),
	)

	// Datasets
	mux.Handle("PUT /api/v1/datasets/{id}", chain(http.HandlerFunc(h.RegisterDataset)))
	mux.Handle("GET /api/v1/datasets/{id}", chain(http.HandlerFunc(h.GetDataset)))
	mux.Handle("GET /api/v1/datasets/{id}/summary", chain(http.HandlerFunc(h.GetDatasetSummary)))

	// Workflows
	mux.Handle("POST /api/v1/datasets/{id}/workflow", chain(http.HandlerFunc(h.CreateWorkflow)))
	mux.Handle("PUT /api/v1/datasets/{id}/workflow", chain(http.HandlerFunc(h.UpdateWorkflow)))
	mux.Handle("GET /api/v1/datasets/{id}/workflow", chain(http.HandlerFunc(h.GetWorkflow)))
	mux.Handle("DELETE /api/v1/datasets/{id}/workflow", chain(http.HandlerFunc(h.DeleteWorkflow)))

	// Executions
	mux.Handle("POST /api/v1/datasets/{id}/executions", chain(http.HandlerFunc(h.EnqueueExecution)))
	mux.Handle("DELETE /api/v1/datasets/{id}/executions", chain(http.HandlerFunc(h.DeleteDatasetExecutions)))
	mux.Handle("GET /api/v1/executions", chain(http.HandlerFunc(h.ListExecutions)))
	mux.Handle("GET /api/v1/executions/{id}", chain(http.HandlerFunc(h.GetExecution)))
	mux.Handle("POST /api/v1/executions/{id}/cancel", chain(http.HandlerFunc(h.CancelExecution)))
	mux.Handle("GET /api/v1/overview", chain(http.HandlerFunc(h.GetOverview)))

	// Backend tasks
	mux.Handle("GET /api/v1/tasks/{taskID}/logs", chain(http.HandlerFunc(h.GetTaskLogs)))
	mux.Handle("GET /api/v1/tasks/{taskID}/report", chain(http.HandlerFunc(h.GetTaskReport)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/datasets/{id}/schedule", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/datasets/{id}/schedule", chain(http.HandlerFunc(h.GetDatasetSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
}
