package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Metis/internal/telemetry"
)

// RequestIDHeader — заголовок с идентификатором запроса.
const RequestIDHeader = "X-Request-ID"

// Middleware — функция-обёртка для http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain применяет middleware в порядке слева направо.
// Chain(m1, m2)(handler) = m1(m2(handler))
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// RequestID проставляет X-Request-ID, если клиент его не передал,
// и возвращает его в ответе. Логгер запроса с request_id кладётся в контекст.
func RequestID(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
				r.Header.Set(RequestIDHeader, id)
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := telemetry.WithLogger(r.Context(), logger.With("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Logging логирует HTTP запросы.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Обёртка для захвата статуса ответа
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			if rw.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration", time.Since(start),
				"request_id", r.Header.Get(RequestIDHeader),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// Recovery восстанавливается после паники.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
					)
					Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter — обёртка для захвата статуса ответа.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}
