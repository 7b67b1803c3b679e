package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Metis/internal/domain"
)

// ScheduleRepo — репозиторий для работы с scheduled workflows.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

const scheduleColumns = `
	id, dataset_id, pointer_date, frequency, cron_expr, timezone, priority,
	enabled, next_due_at, last_run_at, last_execution_id, created_at, updated_at`

// Create создаёт новый scheduled workflow.
func (r *ScheduleRepo) Create(ctx context.Context, s *domain.ScheduledWorkflow) error {
	query := `
		INSERT INTO scheduled_workflows (id, dataset_id, pointer_date, frequency, cron_expr, timezone,
		                                 priority, enabled, next_due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.DatasetID,
		s.PointerDate,
		s.Frequency,
		nullString(s.CronExpr),
		s.Timezone,
		s.Priority,
		s.Enabled,
		s.NextDueAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scheduled workflow: %w", err)
	}
	return nil
}

// GetByID возвращает scheduled workflow по ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledWorkflow, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_workflows WHERE id = $1`
	s, err := scanSchedule(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduled workflow: %w", err)
	}
	return s, nil
}

// List возвращает scheduled workflows с фильтрацией.
func (r *ScheduleRepo) List(ctx context.Context, filter ScheduleFilter) ([]domain.ScheduledWorkflow, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + scheduleColumns + `
		FROM scheduled_workflows
		WHERE ($1::text IS NULL OR dataset_id = $1)
		  AND ($2::boolean IS NULL OR enabled = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, query, nullString(filter.DatasetID), filter.Enabled, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list scheduled workflows: %w", err)
	}
	return collectSchedules(rows)
}

// ListDue возвращает страницу расписаний, готовых к запуску.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, offset, limit int) ([]domain.ScheduledWorkflow, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM scheduled_workflows
		WHERE enabled = TRUE
		  AND next_due_at IS NOT NULL
		  AND next_due_at <= $1
		ORDER BY next_due_at ASC, id ASC
		OFFSET $2 LIMIT $3`
	rows, err := r.pool.Query(ctx, query, now, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list due scheduled workflows: %w", err)
	}
	return collectSchedules(rows)
}

// Update обновляет scheduled workflow.
func (r *ScheduleRepo) Update(ctx context.Context, s *domain.ScheduledWorkflow) error {
	query := `
		UPDATE scheduled_workflows
		SET pointer_date = $2, frequency = $3, cron_expr = $4, timezone = $5, priority = $6,
		    enabled = $7, next_due_at = $8, last_run_at = $9, last_execution_id = $10,
		    updated_at = $11
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		s.ID,
		s.PointerDate,
		s.Frequency,
		nullString(s.CronExpr),
		s.Timezone,
		s.Priority,
		s.Enabled,
		s.NextDueAt,
		s.LastRunAt,
		s.LastExecutionID,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update scheduled workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет scheduled workflow.
func (r *ScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM scheduled_workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func scanSchedule(row pgx.Row) (*domain.ScheduledWorkflow, error) {
	var s domain.ScheduledWorkflow
	var cronExpr *string

	err := row.Scan(
		&s.ID,
		&s.DatasetID,
		&s.PointerDate,
		&s.Frequency,
		&cronExpr,
		&s.Timezone,
		&s.Priority,
		&s.Enabled,
		&s.NextDueAt,
		&s.LastRunAt,
		&s.LastExecutionID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if cronExpr != nil {
		s.CronExpr = *cronExpr
	}
	return &s, nil
}

func collectSchedules(rows pgx.Rows) ([]domain.ScheduledWorkflow, error) {
	defer rows.Close()

	var schedules []domain.ScheduledWorkflow
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled workflow: %w", err)
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}
