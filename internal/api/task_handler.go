package api

import (
	"net/http"
	"strconv"
)

// GetTaskLogs возвращает строки лога задачи backend.
// GET /api/v1/tasks/{taskID}/logs?from=...&to=...
func (h *Handler) GetTaskLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := strconv.Atoi(q.Get("from"))
	if err != nil {
		BadRequest(w, "invalid from")
		return
	}
	to, err := strconv.Atoi(q.Get("to"))
	if err != nil {
		BadRequest(w, "invalid to")
		return
	}

	logs, err := h.service.GetTaskLogs(r.Context(), r.PathValue("taskID"), from, to)
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}
	List(w, logs, len(logs))
}

// GetTaskReport возвращает отчёт об ошибках задачи backend.
// GET /api/v1/tasks/{taskID}/report
func (h *Handler) GetTaskReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetTaskReport(r.Context(), r.PathValue("taskID"))
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}
	Success(w, report)
}
