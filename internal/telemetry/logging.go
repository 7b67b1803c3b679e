package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel переводит строковый уровень в slog.Level.
// Возможные значения: DEBUG, INFO, WARN, ERROR.
// По умолчанию: INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер.
//
// Формат вывода:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
func SetupLogger(level, format string) *slog.Logger {
	logger := NewLogger(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}

// NewLogger создаёт логгер, пишущий в w.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Ключи контекста для передачи данных в логгер.
type ctxKey string

const (
	// CtxLogger — ключ для логгера в контексте.
	CtxLogger ctxKey = "logger"
)

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithExecutionID возвращает логгер с добавленным execution_id.
func WithExecutionID(logger *slog.Logger, executionID string) *slog.Logger {
	return logger.With("execution_id", executionID)
}

// WithDatasetID возвращает логгер с добавленным dataset_id.
func WithDatasetID(logger *slog.Logger, datasetID string) *slog.Logger {
	return logger.With("dataset_id", datasetID)
}

// WithPluginType возвращает логгер с добавленным plugin_type.
func WithPluginType(logger *slog.Logger, pluginType string) *slog.Logger {
	return logger.With("plugin_type", pluginType)
}
