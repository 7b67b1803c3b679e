package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shaiso/Metis/internal/backend"
	"github.com/shaiso/Metis/internal/engine"
	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/scheduler"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest          ErrorCode = "BAD_REQUEST"
	ErrCodeBadContent          ErrorCode = "BAD_CONTENT"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodeExecutionNotAllowed ErrorCode = "PLUGIN_EXECUTION_NOT_ALLOWED"
	ErrCodeBackend             ErrorCode = "BACKEND_ERROR"
	ErrCodeUnavailable         ErrorCode = "UNAVAILABLE"
	ErrCodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// Accepted отправляет ответ 202: execution поставлен в очередь.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// NoContent отправляет ответ без тела (204).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// HandleServiceError преобразует ошибку Service или Manager в HTTP ответ.
// Возвращает false, если ошибки нет.
//
//   - 400 — BadContent (с полем, если оно известно)
//   - 404 — нет датасета, workflow, execution или расписания
//   - 409 — workflow, активный execution или расписание уже существуют
//   - 422 — нарушен порядок шагов
//   - 502 — backend ответил ошибкой
//   - 503 — клиент backend не настроен
func HandleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, engine.ErrBadContent):
		detail := ErrorDetail{Code: ErrCodeBadContent, Message: err.Error()}
		var vErr *engine.ValidationError
		if errors.As(err, &vErr) {
			detail.Field = vErr.Field
		}
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: detail})

	case errors.Is(err, orchestrator.ErrNoDatasetFound),
		errors.Is(err, orchestrator.ErrNoWorkflowFound),
		errors.Is(err, orchestrator.ErrNoExecutionFound),
		errors.Is(err, orchestrator.ErrNoActiveExecutionFound),
		errors.Is(err, orchestrator.ErrNoExternalTaskFound),
		errors.Is(err, scheduler.ErrNoScheduledWorkflowFound):
		Error(w, http.StatusNotFound, ErrCodeNotFound, err.Error())

	case errors.Is(err, orchestrator.ErrWorkflowAlreadyExists),
		errors.Is(err, orchestrator.ErrWorkflowExecutionAlreadyExists),
		errors.Is(err, orchestrator.ErrExecutionInProgress),
		errors.Is(err, scheduler.ErrScheduledWorkflowAlreadyExists):
		Error(w, http.StatusConflict, ErrCodeConflict, err.Error())

	case errors.Is(err, engine.ErrPluginExecutionNotAllowed):
		Error(w, http.StatusUnprocessableEntity, ErrCodeExecutionNotAllowed, err.Error())

	case errors.Is(err, backend.ErrTransient), errors.Is(err, backend.ErrPermanent):
		logger.Warn("backend call failed", "error", err)
		Error(w, http.StatusBadGateway, ErrCodeBackend, err.Error())

	case errors.Is(err, orchestrator.ErrBackendNotConfigured):
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())

	default:
		InternalError(w, logger, err)
	}
	return true
}

// decodeBody читает JSON тело запроса. Пустое тело допустимо.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// queryInt читает целый query параметр, при ошибке возвращает defaultVal.
func queryInt(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
