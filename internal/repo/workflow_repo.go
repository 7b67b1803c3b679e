package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Metis/internal/domain"
)

// WorkflowRepo — репозиторий для работы с workflows.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

// Create создаёт workflow. Второй workflow для датасета — ErrAlreadyExists.
func (r *WorkflowRepo) Create(ctx context.Context, wf *domain.Workflow) error {
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflows (id, dataset_id, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, wf.ID, wf.DatasetID, stepsJSON, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: workflow for dataset %s", ErrAlreadyExists, wf.DatasetID)
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// GetByDataset возвращает workflow датасета.
func (r *WorkflowRepo) GetByDataset(ctx context.Context, datasetID string) (*domain.Workflow, error) {
	var wf domain.Workflow
	var stepsJSON []byte

	err := r.pool.QueryRow(ctx, `
		SELECT id, dataset_id, steps, created_at, updated_at
		FROM workflows
		WHERE dataset_id = $1
	`, datasetID).Scan(&wf.ID, &wf.DatasetID, &stepsJSON, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &wf.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &wf, nil
}

// Update заменяет шаги workflow.
func (r *WorkflowRepo) Update(ctx context.Context, wf *domain.Workflow) error {
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE workflows SET steps = $2, updated_at = $3 WHERE dataset_id = $1
	`, wf.DatasetID, stepsJSON, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет workflow датасета.
func (r *WorkflowRepo) Delete(ctx context.Context, datasetID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM workflows WHERE dataset_id = $1`, datasetID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
