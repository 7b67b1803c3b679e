package engine

import (
	"context"
	"fmt"

	"github.com/shaiso/Metis/internal/domain"
)

// PluginFinder — чтение завершённых шагов. Реализуется repo.ExecutionStore.
type PluginFinder interface {
	LatestOrFirstFinishedPlugin(ctx context.Context, datasetID string, types []domain.PluginType, wantFirst, requireValidData bool) (*domain.PluginExecution, error)
}

// Validator применяет правила порядка шагов к истории датасета.
type Validator struct {
	finder PluginFinder
}

// NewValidator создаёт Validator поверх хранилища executions.
func NewValidator(finder PluginFinder) *Validator {
	return &Validator{finder: finder}
}

// ResolvePredecessor возвращает шаг, на выходе которого будет строиться
// запуск шага requested для датасета.
//
// Порядок правил:
//   - enforced задан: последний FINISHED шаг ровно этого типа с валидными данными;
//   - requested из harvest-группы: nil, предшественник не нужен;
//   - иначе последний FINISHED шаг с валидными данными среди предшественников
//     requested по таблице порядка.
//
// Если подходящего шага нет, возвращает ErrPluginExecutionNotAllowed.
func (v *Validator) ResolvePredecessor(ctx context.Context, requested, enforced domain.PluginType, datasetID string) (*domain.PluginExecution, error) {
	var types []domain.PluginType
	switch {
	case enforced != "":
		if !enforced.IsValid() {
			return nil, fmt.Errorf("%w: unknown enforced plugin type %q", ErrBadContent, enforced)
		}
		types = []domain.PluginType{enforced}
	case requested.IsHarvest():
		return nil, nil
	default:
		types = requested.Predecessors()
		if len(types) == 0 {
			return nil, fmt.Errorf("%w: unknown plugin type %q", ErrPluginExecutionNotAllowed, requested)
		}
	}

	p, err := v.finder.LatestOrFirstFinishedPlugin(ctx, datasetID, types, false, true)
	if err != nil {
		return nil, fmt.Errorf("find predecessor for %s: %w", requested, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s for dataset %s requires a finished %v step with valid data",
			ErrPluginExecutionNotAllowed, requested, datasetID, types)
	}
	return p, nil
}

// ValidateSequence проверяет, что включённые шаги можно запустить подряд.
//
// Первый включённый шаг должен разрешаться через ResolvePredecessor по
// истории датасета. Каждый следующий строится на предыдущем шаге того же
// execution, поэтому должен быть его допустимым последователем.
func (v *Validator) ValidateSequence(ctx context.Context, datasetID string, steps []domain.PluginConfig, enforced domain.PluginType) error {
	enabled := domain.EnabledSteps(steps)
	if len(enabled) == 0 {
		return NewValidationError("", "steps", "workflow has no enabled steps", ErrBadContent)
	}

	if _, err := v.ResolvePredecessor(ctx, enabled[0].Type, enforced, datasetID); err != nil {
		return err
	}

	for i := 1; i < len(enabled); i++ {
		prev, cur := enabled[i-1].Type, enabled[i].Type
		if !cur.CanFollow(prev) {
			return fmt.Errorf("%w: %s cannot follow %s", ErrPluginExecutionNotAllowed, cur, prev)
		}
	}
	return nil
}
