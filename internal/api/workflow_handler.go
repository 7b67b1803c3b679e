package api

import (
	"net/http"
)

// CreateWorkflow создаёт workflow датасета.
// POST /api/v1/datasets/{id}/workflow
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	wf, err := h.service.CreateWorkflow(r.Context(), r.PathValue("id"), req.Steps)
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}
	Created(w, wf)
}

// UpdateWorkflow заменяет шаги workflow датасета.
// PUT /api/v1/datasets/{id}/workflow
func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	wf, err := h.service.UpdateWorkflow(r.Context(), r.PathValue("id"), req.Steps)
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}
	Success(w, wf)
}

// GetWorkflow возвращает workflow датасета.
// GET /api/v1/datasets/{id}/workflow
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.service.GetWorkflow(r.Context(), r.PathValue("id"))
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}
	Success(w, wf)
}

// DeleteWorkflow удаляет workflow датасета.
// DELETE /api/v1/datasets/{id}/workflow
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if HandleServiceError(w, requestLogger(r), h.service.DeleteWorkflow(r.Context(), r.PathValue("id"))) {
		return
	}
	NoContent(w)
}
