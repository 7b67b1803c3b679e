package api

import (
	"net/http"

	"github.com/shaiso/Metis/internal/domain"
)

// RegisterDataset регистрирует датасет или обновляет его имя и поставщика.
// PUT /api/v1/datasets/{id}
func (h *Handler) RegisterDataset(w http.ResponseWriter, r *http.Request) {
	var req RegisterDatasetRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	ds := &domain.Dataset{
		ID:       r.PathValue("id"),
		Name:     req.Name,
		Provider: req.Provider,
	}
	if existing, err := h.service.GetDataset(r.Context(), ds.ID); err == nil {
		ds.CreatedAt = existing.CreatedAt
	}

	if HandleServiceError(w, requestLogger(r), h.service.RegisterDataset(r.Context(), ds)) {
		return
	}
	Success(w, ds)
}

// GetDataset возвращает датасет.
// GET /api/v1/datasets/{id}
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := h.service.GetDataset(r.Context(), r.PathValue("id"))
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}
	Success(w, ds)
}

// GetDatasetSummary возвращает сводку последних шагов датасета.
// GET /api/v1/datasets/{id}/summary
func (h *Handler) GetDatasetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetDatasetExecutionSummary(r.Context(), r.PathValue("id"))
	if HandleServiceError(w, requestLogger(r), err) {
		return
	}
	Success(w, SummaryFromDomain(summary))
}
