package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/repo"
)

// EnqueueExecution ставит workflow датасета в очередь.
// Со steps в теле запускает ad-hoc шаги.
// POST /api/v1/datasets/{id}/executions
func (h *Handler) EnqueueExecution(w http.ResponseWriter, r *http.Request) {
	var req EnqueueExecutionRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.EnforcedPredecessor != "" && !req.EnforcedPredecessor.IsValid() {
		BadRequest(w, "invalid enforced_predecessor")
		return
	}

	datasetID := r.PathValue("id")

	var (
		exec *domain.WorkflowExecution
		err  error
	)
	if len(req.Steps) > 0 {
		exec, err = h.service.EnqueueAdHoc(r.Context(), datasetID, req.Steps, req.EnforcedPredecessor, req.Priority)
	} else {
		exec, err = h.service.EnqueueExecution(r.Context(), datasetID, req.EnforcedPredecessor, req.Priority)
	}
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}

	Accepted(w, exec)
}

// DeleteDatasetExecutions удаляет историю executions датасета.
// DELETE /api/v1/datasets/{id}/executions
func (h *Handler) DeleteDatasetExecutions(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")

	n, err := h.service.DeleteDatasetExecutions(r.Context(), datasetID)
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}
	Success(w, DeleteExecutionsResponse{DatasetID: datasetID, Deleted: n})
}

// ListExecutions возвращает executions с фильтрацией.
// GET /api/v1/executions?dataset_id=...&status=...&limit=...&offset=...
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repo.ExecutionFilter{
		DatasetIDs: q["dataset_id"],
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	for _, s := range q["status"] {
		filter.Statuses = append(filter.Statuses, domain.WorkflowStatus(s))
	}

	execs, err := h.service.ListExecutions(r.Context(), filter)
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}

	List(w, execs, len(execs))
}

// GetExecution возвращает execution по ID.
// GET /api/v1/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	exec, err := h.service.GetExecution(r.Context(), id)
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}

	Success(w, exec)
}

// CancelExecution запрашивает отмену execution.
// Отмена асинхронная: runner завершит execution на следующей проверке.
// POST /api/v1/executions/{id}/cancel
func (h *Handler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid execution id")
		return
	}

	var req CancelExecutionRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if HandleServiceError(w, requestLogger(r), h.service.CancelExecution(r.Context(), id, req.Actor)) {
		return
	}

	exec, err := h.service.GetExecution(r.Context(), id)
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}
	Accepted(w, exec)
}

// GetOverview возвращает overview executions.
// GET /api/v1/overview?dataset_id=...&plugin_type=...&plugin_status=...&started_from=...&started_to=...&first_page=...&page_count=...
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repo.OverviewFilter{DatasetIDs: q["dataset_id"]}
	for _, s := range q["plugin_type"] {
		t, err := domain.ParsePluginType(s)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		filter.PluginTypes = append(filter.PluginTypes, t)
	}
	for _, s := range q["plugin_status"] {
		filter.PluginStatuses = append(filter.PluginStatuses, domain.PluginStatus(s))
	}

	var ok bool
	if filter.StartedFrom, ok = queryTime(w, r, "started_from"); !ok {
		return
	}
	if filter.StartedTo, ok = queryTime(w, r, "started_to"); !ok {
		return
	}

	list, err := h.service.GetOverview(r.Context(), filter, queryInt(r, "first_page", 0), queryInt(r, "page_count", 1))
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}

	Success(w, OverviewFromRepo(list))
}

// queryTime читает RFC 3339 время из query. При ошибке отвечает 400.
func queryTime(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		BadRequest(w, "invalid "+name+": expected RFC 3339 time")
		return nil, false
	}
	return &t, true
}
