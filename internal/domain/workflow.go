package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Workflow — каталог конфигураций шагов для датасета.
//
// У датасета не больше одного workflow. Шаги хранятся в порядке цепочки
// (см. PluginType.Order), по одному на тип. Выключенные шаги сохраняются
// для истории и повторного использования конфигурации.
type Workflow struct {
	// ID — уникальный идентификатор workflow.
	ID uuid.UUID `json:"id"`

	// DatasetID — датасет, которому принадлежит workflow.
	DatasetID string `json:"dataset_id"`

	// Steps — конфигурации шагов.
	Steps []PluginConfig `json:"steps"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// PluginConfig — конфигурация одного шага.
type PluginConfig struct {
	// Type — тип шага.
	Type PluginType `json:"type" yaml:"type" validate:"required,plugin_type"`

	// Enabled — шаг будет запущен при выполнении workflow.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// URL — адрес источника для harvest-шагов.
	URL string `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`

	// MetadataFormat — формат метаданных OAI-PMH.
	MetadataFormat string `json:"metadata_format,omitempty" yaml:"metadata_format,omitempty" validate:"omitempty,max=64"`

	// SetSpec — набор OAI-PMH.
	SetSpec string `json:"set_spec,omitempty" yaml:"set_spec,omitempty" validate:"omitempty,max=256"`

	// Parameters — дополнительные параметры, передаются в backend как есть.
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty" validate:"omitempty,dive,keys,required,endkeys"`
}

// EnabledSteps возвращает включённые шаги в порядке цепочки.
func (w *Workflow) EnabledSteps() []PluginConfig {
	return EnabledSteps(w.Steps)
}

// Step возвращает конфигурацию шага по типу.
func (w *Workflow) Step(t PluginType) (PluginConfig, bool) {
	for _, s := range w.Steps {
		if s.Type == t {
			return s, true
		}
	}
	return PluginConfig{}, false
}

// EnabledSteps фильтрует включённые шаги и сортирует их по порядку цепочки.
func EnabledSteps(steps []PluginConfig) []PluginConfig {
	var enabled []PluginConfig
	for _, s := range steps {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	SortSteps(enabled)
	return enabled
}

// SortSteps сортирует шаги по порядку цепочки.
func SortSteps(steps []PluginConfig) {
	slices.SortStableFunc(steps, func(a, b PluginConfig) int {
		return a.Type.Order() - b.Type.Order()
	})
}
