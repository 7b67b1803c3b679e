package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Metis/internal/domain"
)

// DatasetExecutionSummary — история выполнения шагов датасета.
type DatasetExecutionSummary struct {
	DatasetID string `json:"dataset_id"`

	// LastHarvest — последний завершённый harvest-шаг любого вида.
	LastHarvest *domain.PluginExecution `json:"last_harvest,omitempty"`

	// FirstPublish — первая публикация датасета.
	FirstPublish *domain.PluginExecution `json:"first_publish,omitempty"`

	// LastPreview и LastPublish — последние завершённые шаги индексации.
	LastPreview *domain.PluginExecution `json:"last_preview,omitempty"`
	LastPublish *domain.PluginExecution `json:"last_publish,omitempty"`

	// PreviewReady и PublishReady — результат индексации уже виден
	// (с завершения шага прошло время фиксации).
	PreviewReady bool `json:"preview_ready"`
	PublishReady bool `json:"publish_ready"`
}

// GetDatasetExecutionSummary собирает сводку по истории шагов датасета.
func (s *Service) GetDatasetExecutionSummary(ctx context.Context, datasetID string) (*DatasetExecutionSummary, error) {
	if _, err := s.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}

	summary := &DatasetExecutionSummary{DatasetID: datasetID}

	queries := []struct {
		dst       **domain.PluginExecution
		types     []domain.PluginType
		wantFirst bool
	}{
		{&summary.LastHarvest, []domain.PluginType{domain.PluginTypeHarvest, domain.PluginTypeHTTPHarvest}, false},
		{&summary.FirstPublish, []domain.PluginType{domain.PluginTypeIndexPublish}, true},
		{&summary.LastPreview, []domain.PluginType{domain.PluginTypeIndexPreview}, false},
		{&summary.LastPublish, []domain.PluginType{domain.PluginTypeIndexPublish}, false},
	}
	for _, q := range queries {
		p, err := s.executions.LatestOrFirstFinishedPlugin(ctx, datasetID, q.types, q.wantFirst, false)
		if err != nil {
			return nil, fmt.Errorf("dataset summary %v: %w", q.types, err)
		}
		*q.dst = p
	}

	now := s.now()
	summary.PreviewReady = s.settled(summary.LastPreview, now)
	summary.PublishReady = s.settled(summary.LastPublish, now)
	return summary, nil
}

// settled возвращает true, если шаг завершён раньше, чем now - commitSettleTime.
func (s *Service) settled(p *domain.PluginExecution, now time.Time) bool {
	if p == nil || p.FinishedAt == nil {
		return false
	}
	return p.FinishedAt.Add(s.commitSettleTime).Before(now)
}
