package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"github.com/shaiso/Metis/internal/telemetry"
)

const defaultHTTPTimeout = 30 * time.Second

// IdempotencyKeyHeader — заголовок, по которому backend узнаёт повтор Submit.
const IdempotencyKeyHeader = "Idempotency-Key"

// RetryConfig — границы повторов для временных ошибок.
type RetryConfig struct {
	MaxRetries      uint64        // повторов после первой попытки
	InitialInterval time.Duration // первая пауза
	MaxInterval     time.Duration // максимальная пауза
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	return c
}

// BackOff строит политику повторов для ctx.
func (c RetryConfig) BackOff(ctx context.Context) backoff.BackOff {
	c = c.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialInterval
	exp.MaxInterval = c.MaxInterval
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, c.MaxRetries), ctx)
}

// HTTPConfig — конфигурация HTTP-клиента backend.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	Retry   RetryConfig
	Logger  *slog.Logger

	// HTTPClient — клиент для запросов. По умолчанию http.Client с Timeout.
	HTTPClient *http.Client
}

// HTTPClient — backend поверх JSON HTTP API.
//
// Эндпоинты:
//
//	POST {base}/tasks                           — Submission → {"task_id": "..."}
//	GET  {base}/tasks/{id}                      — TaskStatus
//	POST {base}/tasks/{id}/cancel               — {"reason": "..."}
//	GET  {base}/tasks/{id}/logs?from=&to=       — []SubTaskLog
//	GET  {base}/tasks/{id}/report[?error_type=] — TaskReport
//
// 5xx, 429 и сетевые ошибки повторяются, остальные 4xx — постоянные.
// Submit несёт Idempotency-Key = PluginID: повтор после таймаута не
// создаёт вторую задачу.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	retry   RetryConfig
	logger  *slog.Logger
}

// NewHTTPClient создаёт HTTP-клиент backend.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.HTTPClient,
		retry:   cfg.Retry,
		logger:  cfg.Logger,
	}
}

var _ Client = (*HTTPClient)(nil)

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Submit отправляет задачу и возвращает её идентификатор.
func (c *HTTPClient) Submit(ctx context.Context, sub Submission) (string, error) {
	var resp submitResponse
	header := http.Header{}
	header.Set(IdempotencyKeyHeader, sub.PluginID.String())
	if err := c.call(ctx, "submit", http.MethodPost, "/tasks", header, sub, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("%w: submit returned empty task id", ErrPermanent)
	}
	return resp.TaskID, nil
}

// Status возвращает текущее состояние задачи.
func (c *HTTPClient) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	var status TaskStatus
	err := c.call(ctx, "status", http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, nil, &status)
	return status, err
}

// Cancel запрашивает отмену задачи.
func (c *HTTPClient) Cancel(ctx context.Context, taskID, reason string) error {
	return c.call(ctx, "cancel", http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/cancel", nil, cancelRequest{Reason: reason}, nil)
}

// TaskLogs возвращает строки лога задачи from..to.
func (c *HTTPClient) TaskLogs(ctx context.Context, taskID string, from, to int) ([]SubTaskLog, error) {
	q := url.Values{}
	q.Set("from", strconv.Itoa(from))
	q.Set("to", strconv.Itoa(to))

	var logs []SubTaskLog
	err := c.call(ctx, "logs", http.MethodGet, "/tasks/"+url.PathEscape(taskID)+"/logs?"+q.Encode(), nil, nil, &logs)
	return logs, err
}

// TaskReport возвращает отчёт об ошибках задачи.
//
// Сводный отчёт приходит без идентификаторов; примеры записей
// запрашиваются отдельно по каждому типу ошибки.
func (c *HTTPClient) TaskReport(ctx context.Context, taskID string) (TaskReport, error) {
	path := "/tasks/" + url.PathEscape(taskID) + "/report"

	var report TaskReport
	if err := c.call(ctx, "report", http.MethodGet, path, nil, nil, &report); err != nil {
		return TaskReport{}, err
	}

	for i := range report.Errors {
		e := &report.Errors[i]
		var detailed TaskReport
		q := url.Values{"error_type": {e.ErrorType}}
		if err := c.call(ctx, "report", http.MethodGet, path+"?"+q.Encode(), nil, nil, &detailed); err != nil {
			return TaskReport{}, err
		}
		if len(detailed.Errors) > 0 {
			e.Identifiers = detailed.Errors[0].Identifiers
		}
	}
	return report, nil
}

// call выполняет запрос с повторами временных ошибок.
func (c *HTTPClient) call(ctx context.Context, name, method, path string, header http.Header, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: marshal %s request: %v", ErrPermanent, name, err)
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		err := c.do(ctx, method, path, header, payload, out)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("backend call failed, retrying",
			"call", name,
			"attempt", attempt,
			"error", err,
		)
		return err
	}

	err := backoff.Retry(op, c.retry.BackOff(ctx))
	if err != nil {
		class := "permanent"
		if IsTransient(err) {
			class = "transient"
		}
		telemetry.BackendErrors.WithLabelValues(name, class).Inc()
		return fmt.Errorf("backend %s: %w", name, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, header http.Header, payload []byte, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrPermanent, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 400 {
		errMsg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", ErrTransient, errMsg)
		}
		return fmt.Errorf("%w: %s", ErrPermanent, errMsg)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrPermanent, err)
	}
	return nil
}

// truncate обрезает строку до maxLen байт, не разрезая UTF-8 символ.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
