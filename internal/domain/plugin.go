package domain

import (
	"fmt"
	"slices"
)

// PluginType — тип шага (plugin) workflow.
//
// Типы образуют фиксированную цепочку:
//
//	HARVEST | HTTP_HARVEST → VALIDATE_EXTERNAL → TRANSFORM → VALIDATE_INTERNAL
//	  → NORMALIZE → ENRICH → MEDIA_PROCESS → INDEX_PREVIEW → INDEX_PUBLISH
type PluginType string

const (
	// PluginTypeHarvest — harvest по OAI-PMH.
	PluginTypeHarvest PluginType = "HARVEST"

	// PluginTypeHTTPHarvest — harvest архива по HTTP.
	PluginTypeHTTPHarvest PluginType = "HTTP_HARVEST"

	// PluginTypeValidateExternal — валидация по внешней схеме.
	PluginTypeValidateExternal PluginType = "VALIDATE_EXTERNAL"

	// PluginTypeTransform — XSLT-трансформация.
	PluginTypeTransform PluginType = "TRANSFORM"

	// PluginTypeValidateInternal — валидация по внутренней схеме.
	PluginTypeValidateInternal PluginType = "VALIDATE_INTERNAL"

	// PluginTypeNormalize — нормализация.
	PluginTypeNormalize PluginType = "NORMALIZE"

	// PluginTypeEnrich — обогащение.
	PluginTypeEnrich PluginType = "ENRICH"

	// PluginTypeMediaProcess — обработка медиа.
	PluginTypeMediaProcess PluginType = "MEDIA_PROCESS"

	// PluginTypeIndexPreview — индексация в preview.
	PluginTypeIndexPreview PluginType = "INDEX_PREVIEW"

	// PluginTypeIndexPublish — индексация в publish.
	PluginTypeIndexPublish PluginType = "INDEX_PUBLISH"
)

// pluginRule — строка таблицы порядка.
type pluginRule struct {
	typ          PluginType
	predecessors []PluginType
}

// pluginTable — статическая таблица порядка. Индекс строки задаёт порядок шага.
var pluginTable = []pluginRule{
	{PluginTypeHarvest, nil},
	{PluginTypeHTTPHarvest, nil},
	{PluginTypeValidateExternal, HarvestGroup},
	{PluginTypeTransform, []PluginType{PluginTypeValidateExternal}},
	{PluginTypeValidateInternal, []PluginType{PluginTypeTransform}},
	{PluginTypeNormalize, []PluginType{PluginTypeValidateInternal}},
	{PluginTypeEnrich, []PluginType{PluginTypeNormalize}},
	{PluginTypeMediaProcess, []PluginType{PluginTypeEnrich}},
	{PluginTypeIndexPreview, []PluginType{PluginTypeMediaProcess}},
	{PluginTypeIndexPublish, []PluginType{PluginTypeIndexPreview}},
}

// HarvestGroup — типы, которым не нужен предшественник.
var HarvestGroup = []PluginType{PluginTypeHarvest, PluginTypeHTTPHarvest}

// IndexGroup — типы индексации.
var IndexGroup = []PluginType{PluginTypeIndexPreview, PluginTypeIndexPublish}

// AllPluginTypes возвращает все типы в порядке цепочки.
func AllPluginTypes() []PluginType {
	types := make([]PluginType, len(pluginTable))
	for i, r := range pluginTable {
		types[i] = r.typ
	}
	return types
}

// ParsePluginType парсит строку в PluginType.
func ParsePluginType(s string) (PluginType, error) {
	t := PluginType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown plugin type %q", s)
	}
	return t, nil
}

// IsValid возвращает true для известного типа.
func (t PluginType) IsValid() bool {
	return t.Order() >= 0
}

// IsHarvest возвращает true для типов harvest-группы.
func (t PluginType) IsHarvest() bool {
	return slices.Contains(HarvestGroup, t)
}

// Order возвращает позицию типа в цепочке или -1 для неизвестного типа.
func (t PluginType) Order() int {
	for i, r := range pluginTable {
		if r.typ == t {
			return i
		}
	}
	return -1
}

// Predecessors возвращает множество допустимых предшественников.
// Для harvest-группы и неизвестных типов — nil.
func (t PluginType) Predecessors() []PluginType {
	for _, r := range pluginTable {
		if r.typ == t {
			return slices.Clone(r.predecessors)
		}
	}
	return nil
}

// CanFollow проверяет, может ли шаг типа t идти сразу после шага prev.
func (t PluginType) CanFollow(prev PluginType) bool {
	return slices.Contains(t.Predecessors(), prev)
}

// String возвращает строковое представление PluginType.
func (t PluginType) String() string {
	return string(t)
}
