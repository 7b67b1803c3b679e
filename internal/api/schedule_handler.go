package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Metis/internal/repo"
)

// ListSchedules возвращает список расписаний с фильтрацией.
// GET /api/v1/schedules?dataset_id=...&enabled=...&limit=...&offset=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := repo.ScheduleFilter{
		DatasetID: r.URL.Query().Get("dataset_id"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}

	if enabledStr := r.URL.Query().Get("enabled"); enabledStr != "" {
		enabled := enabledStr == "true"
		filter.Enabled = &enabled
	}

	schedules, err := h.schedules.List(r.Context(), filter)
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}

	result := make([]ScheduleResponse, len(schedules))
	for i := range schedules {
		result[i] = ScheduleFromDomain(&schedules[i])
	}

	List(w, result, len(result))
}

// CreateSchedule создаёт расписание датасета.
// POST /api/v1/datasets/{id}/schedule
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sched := req.toDomain(r.PathValue("id"))
	if HandleServiceError(w, requestLogger(r), h.schedules.Create(r.Context(), sched)) {
		return
	}

	Created(w, ScheduleFromDomain(sched))
}

// GetDatasetSchedule возвращает расписание датасета.
// GET /api/v1/datasets/{id}/schedule
func (h *Handler) GetDatasetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.schedules.GetByDataset(r.Context(), r.PathValue("id"))
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}

	Success(w, ScheduleFromDomain(sched))
}

// GetSchedule возвращает расписание по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	sched, err := h.schedules.Get(r.Context(), id)
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}

	Success(w, ScheduleFromDomain(sched))
}

// UpdateSchedule заменяет параметры расписания.
// PUT /api/v1/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req ScheduleRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sched := req.toDomain("")
	sched.ID = id
	if HandleServiceError(w, requestLogger(r), h.schedules.Update(r.Context(), sched)) {
		return
	}

	Success(w, ScheduleFromDomain(sched))
}

// SetScheduleEnabled включает или выключает расписание.
// PUT /api/v1/schedules/{id}/enabled
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req SetEnabledRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sched, err := h.schedules.Get(r.Context(), id)
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}

	// Включение пересчитывает следующий запуск от текущего момента
	sched.Enabled = req.Enabled
	if HandleServiceError(w, requestLogger(r), h.schedules.Update(r.Context(), sched)) {
		return
	}

	Success(w, ScheduleFromDomain(sched))
}

// DeleteSchedule удаляет расписание.
// DELETE /api/v1/schedules/{id}
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	if HandleServiceError(w, requestLogger(r), h.schedules.Delete(r.Context(), id)) {
		return
	}

	NoContent(w)
}
