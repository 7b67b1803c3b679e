package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Metis/internal/domain"
)

// DatasetRepo — репозиторий датасетов.
//
// Датасеты заводит внешняя система; здесь только регистрация и чтение.
type DatasetRepo struct {
	pool *pgxpool.Pool
}

// NewDatasetRepo создаёт новый DatasetRepo.
func NewDatasetRepo(pool *pgxpool.Pool) *DatasetRepo {
	return &DatasetRepo{pool: pool}
}

// Upsert регистрирует датасет или обновляет его имя.
func (r *DatasetRepo) Upsert(ctx context.Context, ds *domain.Dataset) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO datasets (id, name, provider, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, provider = EXCLUDED.provider
	`, ds.ID, ds.Name, nullString(ds.Provider), ds.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert dataset: %w", err)
	}
	return nil
}

// GetByID возвращает датасет по ID.
func (r *DatasetRepo) GetByID(ctx context.Context, id string) (*domain.Dataset, error) {
	var ds domain.Dataset
	var provider *string

	err := r.pool.QueryRow(ctx, `
		SELECT id, name, provider, created_at FROM datasets WHERE id = $1
	`, id).Scan(&ds.ID, &ds.Name, &provider, &ds.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dataset: %w", err)
	}
	if provider != nil {
		ds.Provider = *provider
	}
	return &ds, nil
}
