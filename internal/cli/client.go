package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// DatasetResponse — датасет из API.
type DatasetResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider,omitempty"`
	CreatedAt string `json:"created_at"`
}

// StepConfig — конфигурация шага workflow. Читается из YAML файла workflow.
type StepConfig struct {
	Type           string            `json:"type" yaml:"type"`
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	URL            string            `json:"url,omitempty" yaml:"url,omitempty"`
	MetadataFormat string            `json:"metadata_format,omitempty" yaml:"metadata_format,omitempty"`
	SetSpec        string            `json:"set_spec,omitempty" yaml:"set_spec,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// WorkflowResponse — workflow из API.
type WorkflowResponse struct {
	ID        string       `json:"id"`
	DatasetID string       `json:"dataset_id"`
	Steps     []StepConfig `json:"steps"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
}

// Progress — счётчики записей шага.
type Progress struct {
	ExpectedRecords  int `json:"expected_records"`
	ProcessedRecords int `json:"processed_records"`
	ErrorRecords     int `json:"error_records"`
}

// PluginResponse — шаг execution из API.
type PluginResponse struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Status         string   `json:"status"`
	StartedAt      string   `json:"started_at,omitempty"`
	FinishedAt     string   `json:"finished_at,omitempty"`
	ExternalTaskID string   `json:"external_task_id,omitempty"`
	Progress       Progress `json:"progress"`
	FailMessage    string   `json:"fail_message,omitempty"`
}

// ExecutionResponse — execution из API.
type ExecutionResponse struct {
	ID                  string           `json:"id"`
	DatasetID           string           `json:"dataset_id"`
	WorkflowID          string           `json:"workflow_id"`
	Priority            int              `json:"priority"`
	Status              string           `json:"status"`
	Cancelling          bool             `json:"cancelling"`
	CancelledBy         string           `json:"cancelled_by,omitempty"`
	EnforcedPredecessor string           `json:"enforced_predecessor,omitempty"`
	CreatedAt           string           `json:"created_at"`
	StartedAt           string           `json:"started_at,omitempty"`
	FinishedAt          string           `json:"finished_at,omitempty"`
	Plugins             []PluginResponse `json:"plugins"`
}

// OverviewRow — строка overview из API.
type OverviewRow struct {
	ExecutionID string           `json:"execution_id"`
	DatasetID   string           `json:"dataset_id"`
	DatasetName string           `json:"dataset_name,omitempty"`
	Status      string           `json:"status"`
	Cancelling  bool             `json:"cancelling"`
	CreatedAt   string           `json:"created_at"`
	StartedAt   string           `json:"started_at,omitempty"`
	Plugins     []PluginResponse `json:"plugins"`
}

// OverviewResponse — страница overview из API.
type OverviewResponse struct {
	Results               []OverviewRow `json:"results"`
	MaxResultCountReached bool          `json:"max_result_count_reached"`
}

// SummaryStep — шаг в сводке датасета.
type SummaryStep struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	FinishedAt string   `json:"finished_at,omitempty"`
	Progress   Progress `json:"progress"`
}

// SummaryResponse — сводка датасета из API.
type SummaryResponse struct {
	DatasetID    string       `json:"dataset_id"`
	LastHarvest  *SummaryStep `json:"last_harvest,omitempty"`
	FirstPublish *SummaryStep `json:"first_publish,omitempty"`
	LastPreview  *SummaryStep `json:"last_preview,omitempty"`
	LastPublish  *SummaryStep `json:"last_publish,omitempty"`
	PreviewReady bool         `json:"preview_ready"`
	PublishReady bool         `json:"publish_ready"`
}

// ScheduleResponse — расписание из API.
type ScheduleResponse struct {
	ID              string `json:"id"`
	DatasetID       string `json:"dataset_id"`
	PointerDate     string `json:"pointer_date"`
	Frequency       string `json:"frequency"`
	CronExpr        string `json:"cron_expr,omitempty"`
	Timezone        string `json:"timezone"`
	Priority        int    `json:"priority"`
	Enabled         bool   `json:"enabled"`
	NextDueAt       string `json:"next_due_at,omitempty"`
	LastRunAt       string `json:"last_run_at,omitempty"`
	LastExecutionID string `json:"last_execution_id,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// TaskLogLine — строка лога задачи backend.
type TaskLogLine struct {
	Number   int    `json:"number"`
	Resource string `json:"resource"`
	State    string `json:"state"`
	Info     string `json:"info,omitempty"`
}

// TaskError — тип ошибки в отчёте задачи.
type TaskError struct {
	ErrorType   string   `json:"error_type"`
	Message     string   `json:"message"`
	Occurrences int      `json:"occurrences"`
	Identifiers []string `json:"identifiers,omitempty"`
}

// TaskReport — отчёт об ошибках задачи backend.
type TaskReport struct {
	TaskID string      `json:"task_id"`
	Errors []TaskError `json:"errors"`
}

// DeleteExecutionsResponse — результат очистки истории датасета.
type DeleteExecutionsResponse struct {
	DatasetID string `json:"dataset_id"`
	Deleted   int    `json:"deleted"`
}

// --- Request types ---

// RegisterDatasetRequest — регистрация датасета.
type RegisterDatasetRequest struct {
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
}

// WorkflowRequest — шаги workflow. Формат YAML файла, который принимает
// `metis workflow create --file`.
type WorkflowRequest struct {
	Steps []StepConfig `json:"steps" yaml:"steps"`
}

// EnqueueExecutionRequest — запуск workflow.
type EnqueueExecutionRequest struct {
	EnforcedPredecessor string       `json:"enforced_predecessor,omitempty"`
	Priority            int          `json:"priority"`
	Steps               []StepConfig `json:"steps,omitempty"`
}

// ScheduleRequest — создание или замена расписания.
type ScheduleRequest struct {
	PointerDate time.Time `json:"pointer_date"`
	Frequency   string    `json:"frequency"`
	CronExpr    string    `json:"cron_expr,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	Priority    int       `json:"priority"`
	Enabled     *bool     `json:"enabled,omitempty"`
}

// ListExecutionsOpts — параметры фильтрации executions.
type ListExecutionsOpts struct {
	DatasetIDs []string
	Statuses   []string
	Limit      int
	Offset     int
}

// OverviewOpts — параметры overview.
type OverviewOpts struct {
	DatasetIDs     []string
	PluginTypes    []string
	PluginStatuses []string
	FirstPage      int
	PageCount      int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Field   string `json:"field,omitempty"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Field   string
}

// Error реализует интерфейс error.
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для Metis API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Datasets ---

// RegisterDataset регистрирует датасет.
func (c *Client) RegisterDataset(id string, req RegisterDatasetRequest) (*DatasetResponse, error) {
	var ds DatasetResponse
	err := c.put("/api/v1/datasets/"+url.PathEscape(id), req, &ds)
	return &ds, err
}

// GetDataset возвращает датасет.
func (c *Client) GetDataset(id string) (*DatasetResponse, error) {
	var ds DatasetResponse
	err := c.get("/api/v1/datasets/"+url.PathEscape(id), &ds)
	return &ds, err
}

// GetSummary возвращает сводку датасета.
func (c *Client) GetSummary(datasetID string) (*SummaryResponse, error) {
	var summary SummaryResponse
	err := c.get("/api/v1/datasets/"+url.PathEscape(datasetID)+"/summary", &summary)
	return &summary, err
}

// DeleteExecutions удаляет историю executions датасета.
func (c *Client) DeleteExecutions(datasetID string) (*DeleteExecutionsResponse, error) {
	var res DeleteExecutionsResponse
	err := c.doData(http.MethodDelete, "/api/v1/datasets/"+url.PathEscape(datasetID)+"/executions", nil, &res)
	return &res, err
}

// --- Workflows ---

// CreateWorkflow создаёт workflow датасета.
func (c *Client) CreateWorkflow(datasetID string, req WorkflowRequest) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.post(workflowPath(datasetID), req, &wf)
	return &wf, err
}

// UpdateWorkflow заменяет шаги workflow.
func (c *Client) UpdateWorkflow(datasetID string, req WorkflowRequest) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.put(workflowPath(datasetID), req, &wf)
	return &wf, err
}

// GetWorkflow возвращает workflow датасета.
func (c *Client) GetWorkflow(datasetID string) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.get(workflowPath(datasetID), &wf)
	return &wf, err
}

// DeleteWorkflow удаляет workflow датасета.
func (c *Client) DeleteWorkflow(datasetID string) error {
	return c.delete(workflowPath(datasetID))
}

func workflowPath(datasetID string) string {
	return "/api/v1/datasets/" + url.PathEscape(datasetID) + "/workflow"
}

// --- Executions ---

// EnqueueExecution ставит workflow датасета в очередь.
func (c *Client) EnqueueExecution(datasetID string, req EnqueueExecutionRequest) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post("/api/v1/datasets/"+url.PathEscape(datasetID)+"/executions", req, &exec)
	return &exec, err
}

// ListExecutions возвращает executions с фильтрацией.
func (c *Client) ListExecutions(opts ListExecutionsOpts) ([]ExecutionResponse, error) {
	params := url.Values{}
	for _, id := range opts.DatasetIDs {
		params.Add("dataset_id", id)
	}
	for _, s := range opts.Statuses {
		params.Add("status", s)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var execs []ExecutionResponse
	err := c.list("/api/v1/executions", params, &execs)
	return execs, err
}

// GetExecution возвращает execution по ID.
func (c *Client) GetExecution(id string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.get("/api/v1/executions/"+url.PathEscape(id), &exec)
	return &exec, err
}

// CancelExecution запрашивает отмену execution.
func (c *Client) CancelExecution(id, actor string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	body := map[string]string{"actor": actor}
	err := c.post("/api/v1/executions/"+url.PathEscape(id)+"/cancel", body, &exec)
	return &exec, err
}

// Overview возвращает страницы overview.
func (c *Client) Overview(opts OverviewOpts) (*OverviewResponse, error) {
	params := url.Values{}
	for _, id := range opts.DatasetIDs {
		params.Add("dataset_id", id)
	}
	for _, t := range opts.PluginTypes {
		params.Add("plugin_type", t)
	}
	for _, s := range opts.PluginStatuses {
		params.Add("plugin_status", s)
	}
	params.Set("first_page", strconv.Itoa(opts.FirstPage))
	if opts.PageCount > 0 {
		params.Set("page_count", strconv.Itoa(opts.PageCount))
	}

	var overview OverviewResponse
	err := c.get("/api/v1/overview?"+params.Encode(), &overview)
	return &overview, err
}

// --- Backend tasks ---

// TaskLogs возвращает строки лога задачи from..to.
func (c *Client) TaskLogs(taskID string, from, to int) ([]TaskLogLine, error) {
	params := url.Values{}
	params.Set("from", strconv.Itoa(from))
	params.Set("to", strconv.Itoa(to))

	var logs []TaskLogLine
	err := c.list("/api/v1/tasks/"+url.PathEscape(taskID)+"/logs", params, &logs)
	return logs, err
}

// TaskReport возвращает отчёт об ошибках задачи.
func (c *Client) TaskReport(taskID string) (*TaskReport, error) {
	var report TaskReport
	err := c.get("/api/v1/tasks/"+url.PathEscape(taskID)+"/report", &report)
	return &report, err
}

// --- Schedules ---

// ListSchedules возвращает расписания. Если datasetID не пустой — фильтрует.
func (c *Client) ListSchedules(datasetID string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if datasetID != "" {
		params.Set("dataset_id", datasetID)
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт расписание датасета.
func (c *Client) CreateSchedule(datasetID string, req ScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/datasets/"+url.PathEscape(datasetID)+"/schedule", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает расписание по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+url.PathEscape(id), &schedule)
	return &schedule, err
}

// UpdateSchedule заменяет параметры расписания.
func (c *Client) UpdateSchedule(id string, req ScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+url.PathEscape(id), req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет расписание.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + url.PathEscape(id))
}

// SetScheduleEnabled включает или выключает расписание.
func (c *Client) SetScheduleEnabled(id string, enabled bool) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": enabled}
	err := c.put("/api/v1/schedules/"+url.PathEscape(id)+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return &APIError{
		Status:  resp.StatusCode,
		Code:    er.Error.Code,
		Message: er.Error.Message,
		Field:   er.Error.Field,
	}
}
