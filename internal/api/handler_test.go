package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Metis/internal/backend"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/repo/memstore"
	"github.com/shaiso/Metis/internal/scheduler"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWith(t, memstore.New(), nil)
}

func newTestServerWith(t *testing.T, stores *memstore.Stores, be backend.Client) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := NewHandler(Config{
		Service: orchestrator.NewService(orchestrator.ServiceConfig{
			Executions: stores.Executions,
			Workflows:  stores.Workflows,
			Datasets:   stores.Datasets,
			Backend:    be,
			Logger:     logger,
		}),
		Schedules: scheduler.NewManager(scheduler.ManagerConfig{
			Schedules: stores.Schedules,
			Datasets:  stores.Datasets,
			Workflows: stores.Workflows,
			Logger:    logger,
		}),
		Logger: logger,
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func errorCode(t *testing.T, data []byte) ErrorCode {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp.Error.Code
}

var harvestSteps = WorkflowRequest{Steps: []domain.PluginConfig{
	{Type: domain.PluginTypeHarvest, Enabled: true, URL: "https://example.org/oai", MetadataFormat: "edm"},
	{Type: domain.PluginTypeValidateExternal, Enabled: true},
}}

func TestAPI_WorkflowAndExecutionLifecycle(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodPut, "/api/v1/datasets/ds-1", RegisterDatasetRequest{Name: "Paintings"})
	require.Equal(t, http.StatusOK, status)

	status, _ = do(t, srv, http.MethodPost, "/api/v1/datasets/ds-1/workflow", harvestSteps)
	require.Equal(t, http.StatusCreated, status)

	status, data := do(t, srv, http.MethodPost, "/api/v1/datasets/ds-1/workflow", harvestSteps)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, ErrCodeConflict, errorCode(t, data))

	status, data = do(t, srv, http.MethodPost, "/api/v1/datasets/ds-1/executions", EnqueueExecutionRequest{Priority: 2})
	require.Equal(t, http.StatusAccepted, status)

	var created struct {
		Data domain.WorkflowExecution `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, domain.WorkflowStatusInQueue, created.Data.Status)
	assert.Equal(t, 2, created.Data.Priority)
	require.Len(t, created.Data.Plugins, 2)

	status, _ = do(t, srv, http.MethodPost, "/api/v1/datasets/ds-1/executions", nil)
	assert.Equal(t, http.StatusConflict, status, "one active execution per dataset")

	status, _ = do(t, srv, http.MethodDelete, "/api/v1/datasets/ds-1/executions", nil)
	assert.Equal(t, http.StatusConflict, status, "history kept while execution is active")

	status, data = do(t, srv, http.MethodPost, "/api/v1/executions/"+created.Data.ID.String()+"/cancel", CancelExecutionRequest{Actor: "alice"})
	require.Equal(t, http.StatusAccepted, status)
	var cancelled struct {
		Data domain.WorkflowExecution `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &cancelled))
	assert.True(t, cancelled.Data.Cancelling)
	assert.Equal(t, "alice", cancelled.Data.CancelledBy)

	status, _ = do(t, srv, http.MethodGet, "/api/v1/executions/"+created.Data.ID.String(), nil)
	assert.Equal(t, http.StatusOK, status)

	status, data = do(t, srv, http.MethodGet, "/api/v1/overview?dataset_id=ds-1", nil)
	require.Equal(t, http.StatusOK, status)
	var overview struct {
		Data OverviewResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &overview))
	require.Len(t, overview.Data.Results, 1)
	assert.Equal(t, "Paintings", overview.Data.Results[0].DatasetName)
}

func TestAPI_ErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodPut, "/api/v1/datasets/ds-1", RegisterDatasetRequest{Name: "Maps"})
	require.Equal(t, http.StatusOK, status)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   ErrorCode
	}{
		{
			name:   "unknown dataset",
			method: http.MethodPost, path: "/api/v1/datasets/missing/executions",
			status: http.StatusNotFound, code: ErrCodeNotFound,
		},
		{
			name:   "dataset without workflow",
			method: http.MethodPost, path: "/api/v1/datasets/ds-1/executions",
			status: http.StatusNotFound, code: ErrCodeNotFound,
		},
		{
			name:   "publish without preview",
			method: http.MethodPost, path: "/api/v1/datasets/ds-1/executions",
			body: EnqueueExecutionRequest{Steps: []domain.PluginConfig{
				{Type: domain.PluginTypeIndexPublish, Enabled: true},
			}},
			status: http.StatusUnprocessableEntity, code: ErrCodeExecutionNotAllowed,
		},
		{
			name:   "bad step content",
			method: http.MethodPost, path: "/api/v1/datasets/ds-1/workflow",
			body: WorkflowRequest{Steps: []domain.PluginConfig{
				{Type: domain.PluginTypeHarvest, Enabled: true, URL: "not a url"},
			}},
			status: http.StatusBadRequest, code: ErrCodeBadContent,
		},
		{
			name:   "unknown execution",
			method: http.MethodGet, path: "/api/v1/executions/" + "8d0f1a56-6d5b-4c1e-9a0e-1b2c3d4e5f60",
			status: http.StatusNotFound, code: ErrCodeNotFound,
		},
		{
			name:   "invalid execution id",
			method: http.MethodPost, path: "/api/v1/executions/not-a-uuid/cancel",
			status: http.StatusBadRequest, code: ErrCodeBadRequest,
		},
		{
			name:   "cancel without actor",
			method: http.MethodPost, path: "/api/v1/executions/" + "8d0f1a56-6d5b-4c1e-9a0e-1b2c3d4e5f60" + "/cancel",
			status: http.StatusBadRequest, code: ErrCodeBadContent,
		},
		{
			name:   "cancel as system actor",
			method: http.MethodPost, path: "/api/v1/executions/" + "8d0f1a56-6d5b-4c1e-9a0e-1b2c3d4e5f60" + "/cancel",
			body:   CancelExecutionRequest{Actor: domain.SystemCancelActor},
			status: http.StatusBadRequest, code: ErrCodeBadContent,
		},
		{
			name:   "task logs without backend",
			method: http.MethodGet, path: "/api/v1/tasks/task-1/logs?from=1&to=2",
			status: http.StatusServiceUnavailable, code: ErrCodeUnavailable,
		},
		{
			name:   "task logs without range",
			method: http.MethodGet, path: "/api/v1/tasks/task-1/logs",
			status: http.StatusBadRequest, code: ErrCodeBadRequest,
		},
		{
			name:   "invalid overview time",
			method: http.MethodGet, path: "/api/v1/overview?started_from=yesterday",
			status: http.StatusBadRequest, code: ErrCodeBadRequest,
		},
		{
			name:   "schedule without workflow",
			method: http.MethodPost, path: "/api/v1/datasets/ds-1/schedule",
			body:   ScheduleRequest{PointerDate: time.Now().Add(time.Hour), Frequency: domain.FrequencyDaily},
			status: http.StatusNotFound, code: ErrCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status, string(data))
			assert.Equal(t, tt.code, errorCode(t, data))
		})
	}
}

func TestAPI_Schedules(t *testing.T) {
	srv := newTestServer(t)

	do(t, srv, http.MethodPut, "/api/v1/datasets/ds-1", RegisterDatasetRequest{Name: "Letters"})
	status, _ := do(t, srv, http.MethodPost, "/api/v1/datasets/ds-1/workflow", harvestSteps)
	require.Equal(t, http.StatusCreated, status)

	pointer := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Minute)
	status, data := do(t, srv, http.MethodPost, "/api/v1/datasets/ds-1/schedule", ScheduleRequest{
		PointerDate: pointer,
		Frequency:   domain.FrequencyWeekly,
	})
	require.Equal(t, http.StatusCreated, status, string(data))

	var created struct {
		Data ScheduleResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &created))
	assert.True(t, created.Data.Enabled)
	require.NotNil(t, created.Data.NextDueAt)
	assert.True(t, created.Data.NextDueAt.Equal(pointer))

	status, _ = do(t, srv, http.MethodPost, "/api/v1/datasets/ds-1/schedule", ScheduleRequest{
		PointerDate: pointer,
		Frequency:   domain.FrequencyDaily,
	})
	assert.Equal(t, http.StatusConflict, status)

	path := "/api/v1/schedules/" + created.Data.ID.String()
	status, data = do(t, srv, http.MethodPut, path+"/enabled", SetEnabledRequest{Enabled: false})
	require.Equal(t, http.StatusOK, status)
	var disabled struct {
		Data ScheduleResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &disabled))
	assert.False(t, disabled.Data.Enabled)
	assert.Nil(t, disabled.Data.NextDueAt)

	status, _ = do(t, srv, http.MethodGet, "/api/v1/datasets/ds-1/schedule", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, srv, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, srv, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_RequestID(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/datasets/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

// taskBackend — backend.Client с заранее заданными логами и отчётами.
type taskBackend struct {
	logs   []backend.SubTaskLog
	report backend.TaskReport
	err    error
}

func (b *taskBackend) Submit(context.Context, backend.Submission) (string, error) {
	return "", backend.ErrPermanent
}

func (b *taskBackend) Status(context.Context, string) (backend.TaskStatus, error) {
	return backend.TaskStatus{}, backend.ErrPermanent
}

func (b *taskBackend) Cancel(context.Context, string, string) error { return nil }

func (b *taskBackend) TaskLogs(context.Context, string, int, int) ([]backend.SubTaskLog, error) {
	return b.logs, b.err
}

func (b *taskBackend) TaskReport(context.Context, string) (backend.TaskReport, error) {
	return b.report, b.err
}

func TestAPI_TaskLogsAndReport(t *testing.T) {
	stores := memstore.New()
	exec := domain.NewWorkflowExecution("ds-1", uuid.New(), harvestSteps.Steps, 0, "")
	exec.Plugins[0].MarkSubmitted("task-7")
	require.NoError(t, stores.Executions.Create(context.Background(), exec))

	be := &taskBackend{
		logs: []backend.SubTaskLog{
			{Number: 1, Resource: "rec-1", State: "ERROR", Info: "bad xml", Additional: "internal"},
		},
		report: backend.TaskReport{
			TaskID: "task-7",
			Errors: []backend.TaskError{{ErrorType: "e1", Message: "Error0", Occurrences: 2, Identifiers: []string{"id-1"}}},
		},
	}
	srv := newTestServerWith(t, stores, be)

	status, data := do(t, srv, http.MethodGet, "/api/v1/tasks/task-7/logs?from=1&to=10", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var logs struct {
		Data []backend.SubTaskLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &logs))
	require.Len(t, logs.Data, 1)
	assert.Equal(t, "bad xml", logs.Data[0].Info)
	assert.Empty(t, logs.Data[0].Additional)

	status, data = do(t, srv, http.MethodGet, "/api/v1/tasks/task-7/report", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var report struct {
		Data backend.TaskReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Data.Errors, 1)
	assert.Equal(t, []string{"id-1"}, report.Data.Errors[0].Identifiers)

	status, data = do(t, srv, http.MethodGet, "/api/v1/tasks/task-8/report", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, ErrCodeNotFound, errorCode(t, data))

	be.err = fmt.Errorf("%w: HTTP 503", backend.ErrTransient)
	status, data = do(t, srv, http.MethodGet, "/api/v1/tasks/task-7/report", nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, ErrCodeBackend, errorCode(t, data))
}
