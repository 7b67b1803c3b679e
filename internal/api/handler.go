package api

import (
	"log/slog"
	"net/http"

	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/scheduler"
	"github.com/shaiso/Metis/internal/telemetry"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	service   *orchestrator.Service
	schedules *scheduler.Manager
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Service   *orchestrator.Service
	Schedules *scheduler.Manager
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:   cfg.Service,
		schedules: cfg.Schedules,
		logger:    logger,
	}
}

// requestLogger возвращает логгер запроса из контекста (с request_id).
func requestLogger(r *http.Request) *slog.Logger {
	return telemetry.FromContext(r.Context())
}
