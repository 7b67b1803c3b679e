package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Metis/internal/domain"
)

// ExecutionRepo — репозиторий для работы с workflow executions.
//
// Шаги хранятся одним JSONB-массивом в колонке plugins: execution —
// единица изменения, и runner всегда пишет его целиком.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

const executionColumns = `
	e.id, e.dataset_id, e.workflow_id, e.priority, e.status, e.cancelling,
	e.cancelled_by, e.enforced_predecessor, e.created_at, e.started_at,
	e.updated_at, e.finished_at, e.plugins`

// Create создаёт новый execution.
func (r *ExecutionRepo) Create(ctx context.Context, exec *domain.WorkflowExecution) error {
	pluginsJSON, err := marshalPlugins(exec.Plugins)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_executions (id, dataset_id, workflow_id, priority, status, cancelling,
		                                 cancelled_by, enforced_predecessor, created_at, started_at,
		                                 updated_at, finished_at, plugins)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.pool.Exec(ctx, query,
		exec.ID,
		exec.DatasetID,
		nullUUID(&exec.WorkflowID),
		exec.Priority,
		exec.Status,
		exec.Cancelling,
		nullString(exec.CancelledBy),
		nullString(string(exec.EnforcedPredecessor)),
		exec.CreatedAt,
		exec.StartedAt,
		exec.UpdatedAt,
		exec.FinishedAt,
		pluginsJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: active execution for dataset %s", ErrAlreadyExists, exec.DatasetID)
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetByID возвращает execution по ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions e WHERE e.id = $1`
	return scanExecution(r.pool.QueryRow(ctx, query, id))
}

// GetByExternalTaskID возвращает execution, один из шагов которого
// отправлен в backend с указанным идентификатором задачи.
func (r *ExecutionRepo) GetByExternalTaskID(ctx context.Context, externalTaskID string) (*domain.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions e
		WHERE e.plugins @> jsonb_build_array(jsonb_build_object('external_task_id', $1::text))
		LIMIT 1`
	return scanExecution(r.pool.QueryRow(ctx, query, externalTaskID))
}

// Update сохраняет текущее состояние execution целиком.
func (r *ExecutionRepo) Update(ctx context.Context, exec *domain.WorkflowExecution) error {
	pluginsJSON, err := marshalPlugins(exec.Plugins)
	if err != nil {
		return err
	}

	// Пока execution активен, cancelling и cancelled_by меняет только
	// RequestCancel: копия runner'а может быть старше запроса отмены.
	query := `
		UPDATE workflow_executions
		SET priority = $2, status = $3,
		    cancelling = CASE WHEN $3::text IN ('INQUEUE', 'RUNNING') THEN cancelling ELSE $4 END,
		    cancelled_by = COALESCE(cancelled_by, $5),
		    started_at = $6, updated_at = $7, finished_at = $8, plugins = $9
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		exec.ID,
		exec.Priority,
		exec.Status,
		exec.Cancelling,
		nullString(exec.CancelledBy),
		exec.StartedAt,
		exec.UpdatedAt,
		exec.FinishedAt,
		pluginsJSON,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestCancel атомарно выставляет флаг отмены активному execution.
// Возвращает ErrInvalidState, если execution уже в финальном статусе.
func (r *ExecutionRepo) RequestCancel(ctx context.Context, id uuid.UUID, actor string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET cancelling = TRUE, cancelled_by = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('INQUEUE', 'RUNNING')
	`, id, actor)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// IsCancelling читает флаг отмены напрямую из БД.
func (r *ExecutionRepo) IsCancelling(ctx context.Context, id uuid.UUID) (bool, error) {
	var cancelling bool
	err := r.pool.QueryRow(ctx, `SELECT cancelling FROM workflow_executions WHERE id = $1`, id).Scan(&cancelling)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("get cancelling: %w", err)
	}
	return cancelling, nil
}

// ExistsActiveForDataset возвращает ID активного execution датасета или uuid.Nil.
func (r *ExecutionRepo) ExistsActiveForDataset(ctx context.Context, datasetID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM workflow_executions
		WHERE dataset_id = $1 AND status IN ('INQUEUE', 'RUNNING')
		LIMIT 1
	`, datasetID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("find active execution: %w", err)
	}
	return id, nil
}

// LatestOrFirstFinishedPlugin ищет завершённый шаг среди всех executions датасета.
func (r *ExecutionRepo) LatestOrFirstFinishedPlugin(ctx context.Context, datasetID string, types []domain.PluginType, wantFirst, requireValidData bool) (*domain.PluginExecution, error) {
	if len(types) == 0 {
		return nil, nil
	}

	direction := "DESC"
	if wantFirst {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT p.value
		FROM workflow_executions e
		CROSS JOIN LATERAL jsonb_array_elements(e.plugins) AS p(value)
		WHERE e.dataset_id = $1
		  AND p.value->>'status' = 'FINISHED'
		  AND p.value->>'type' = ANY($2::text[])
		  AND (NOT $3::boolean OR
		       COALESCE((p.value->'progress'->>'processed_records')::int, 0) >
		       COALESCE((p.value->'progress'->>'error_records')::int, 0))
		ORDER BY (p.value->>'finished_at')::timestamptz %s
		LIMIT 1
	`, direction)

	var raw []byte
	err := r.pool.QueryRow(ctx, query, datasetID, pluginTypeArray(types), requireValidData).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find finished plugin: %w", err)
	}

	var plugin domain.PluginExecution
	if err := json.Unmarshal(raw, &plugin); err != nil {
		return nil, fmt.Errorf("unmarshal plugin: %w", err)
	}
	return &plugin, nil
}

// Overview возвращает executions в порядке: INQUEUE, RUNNING, остальные;
// внутри группы — по времени создания от новых к старым.
func (r *ExecutionRepo) Overview(ctx context.Context, filter OverviewFilter, page Pagination) (ResultList[ExecutionOverview], error) {
	if page.Limit == 0 {
		return NewResultList[ExecutionOverview](nil, page), nil
	}

	query := `SELECT ` + executionColumns + `, d.id, d.name, d.provider, d.created_at
		FROM workflow_executions e
		JOIN datasets d ON d.id = e.dataset_id
		WHERE (cardinality($1::text[]) = 0 OR e.dataset_id = ANY($1::text[]))
		  AND (NOT $2::boolean OR EXISTS (
		        SELECT 1 FROM jsonb_array_elements(e.plugins) AS p(value)
		        WHERE (cardinality($3::text[]) = 0 OR p.value->>'status' = ANY($3::text[]))
		          AND (cardinality($4::text[]) = 0 OR p.value->>'type' = ANY($4::text[]))
		          AND ($5::timestamptz IS NULL OR (p.value->>'started_at')::timestamptz >= $5::timestamptz)
		          AND ($6::timestamptz IS NULL OR (p.value->>'started_at')::timestamptz < $6::timestamptz)))
		ORDER BY CASE e.status WHEN 'INQUEUE' THEN 1 WHEN 'RUNNING' THEN 2 ELSE 3 END,
		         e.created_at DESC
		OFFSET $7 LIMIT $8`

	statuses := make([]string, len(filter.PluginStatuses))
	for i, s := range filter.PluginStatuses {
		statuses[i] = string(s)
	}

	rows, err := r.pool.Query(ctx, query,
		textArray(filter.DatasetIDs),
		filter.HasPluginFilter(),
		statuses,
		pluginTypeArray(filter.PluginTypes),
		filter.StartedFrom,
		filter.StartedTo,
		page.Skip,
		page.Limit,
	)
	if err != nil {
		return ResultList[ExecutionOverview]{}, fmt.Errorf("query overview: %w", err)
	}
	defer rows.Close()

	var results []ExecutionOverview
	for rows.Next() {
		var row executionRow
		var ds domain.Dataset
		var provider *string
		dest := append(row.dest(), &ds.ID, &ds.Name, &provider, &ds.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return ResultList[ExecutionOverview]{}, fmt.Errorf("scan overview: %w", err)
		}
		exec, err := row.finish()
		if err != nil {
			return ResultList[ExecutionOverview]{}, err
		}
		if provider != nil {
			ds.Provider = *provider
		}
		results = append(results, ExecutionOverview{Execution: *exec, Dataset: ds})
	}
	if err := rows.Err(); err != nil {
		return ResultList[ExecutionOverview]{}, fmt.Errorf("iterate overview: %w", err)
	}

	return NewResultList(results, page), nil
}

// List возвращает executions с фильтрацией, от новых к старым.
func (r *ExecutionRepo) List(ctx context.Context, filter ExecutionFilter) ([]domain.WorkflowExecution, error) {
	statuses := make([]string, len(filter.Statuses))
	for i, s := range filter.Statuses {
		statuses[i] = string(s)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + executionColumns + `
		FROM workflow_executions e
		WHERE (cardinality($1::text[]) = 0 OR e.dataset_id = ANY($1::text[]))
		  AND (cardinality($2::text[]) = 0 OR e.status = ANY($2::text[]))
		ORDER BY e.created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.pool.Query(ctx, query, textArray(filter.DatasetIDs), statuses, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.WorkflowExecution
	for rows.Next() {
		var row executionRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		exec, err := row.finish()
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	return execs, rows.Err()
}

// DeleteByDataset удаляет все executions датасета.
func (r *ExecutionRepo) DeleteByDataset(ctx context.Context, datasetID string) (int, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM workflow_executions WHERE dataset_id = $1`, datasetID)
	if err != nil {
		return 0, fmt.Errorf("delete executions: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// --- Helpers ---

// executionRow — строка workflow_executions с nullable-колонками.
type executionRow struct {
	exec        domain.WorkflowExecution
	workflowID  *uuid.UUID
	cancelledBy *string
	enforced    *string
	plugins     []byte
}

// dest возвращает адреса для Scan в порядке executionColumns.
func (r *executionRow) dest() []any {
	return []any{
		&r.exec.ID,
		&r.exec.DatasetID,
		&r.workflowID,
		&r.exec.Priority,
		&r.exec.Status,
		&r.exec.Cancelling,
		&r.cancelledBy,
		&r.enforced,
		&r.exec.CreatedAt,
		&r.exec.StartedAt,
		&r.exec.UpdatedAt,
		&r.exec.FinishedAt,
		&r.plugins,
	}
}

// finish переносит nullable-значения и разбирает plugins.
func (r *executionRow) finish() (*domain.WorkflowExecution, error) {
	exec := r.exec
	if r.workflowID != nil {
		exec.WorkflowID = *r.workflowID
	}
	if r.cancelledBy != nil {
		exec.CancelledBy = *r.cancelledBy
	}
	if r.enforced != nil {
		exec.EnforcedPredecessor = domain.PluginType(*r.enforced)
	}
	if r.plugins != nil {
		if err := json.Unmarshal(r.plugins, &exec.Plugins); err != nil {
			return nil, fmt.Errorf("unmarshal plugins: %w", err)
		}
	}
	return &exec, nil
}

// scanExecution сканирует одну строку в WorkflowExecution.
func scanExecution(row pgx.Row) (*domain.WorkflowExecution, error) {
	var r executionRow
	err := row.Scan(r.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	return r.finish()
}

func marshalPlugins(plugins []domain.PluginExecution) ([]byte, error) {
	if plugins == nil {
		plugins = []domain.PluginExecution{}
	}
	data, err := json.Marshal(plugins)
	if err != nil {
		return nil, fmt.Errorf("marshal plugins: %w", err)
	}
	return data, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}

// textArray возвращает непустой срез: nil ушёл бы в БД как NULL,
// и cardinality(NULL) = 0 не сработало бы.
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func pluginTypeArray(types []domain.PluginType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
