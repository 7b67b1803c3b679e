package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/Metis/internal/domain"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

// validatorInstance возвращает общий экземпляр validator с тегами домена.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})

		_ = v.RegisterValidation("plugin_type", func(fl validator.FieldLevel) bool {
			return domain.PluginType(fl.Field().String()).IsValid()
		})

		validateInst = v
	})
	return validateInst
}

// ValidateSteps проверяет содержимое конфигураций шагов.
//
// Проверяет:
//   - наличие хотя бы одного включённого шага
//   - поля каждого шага (тип, URL, параметры)
//   - уникальность типа шага
//   - наличие URL у включённых harvest-шагов
func ValidateSteps(steps []domain.PluginConfig) error {
	if len(steps) == 0 {
		return NewValidationError("", "steps", "workflow has no steps", ErrBadContent)
	}

	seen := make(map[domain.PluginType]bool, len(steps))
	enabled := 0
	for i, step := range steps {
		if err := validatorInstance().Struct(step); err != nil {
			return convertValidationError(i, step, err)
		}

		if seen[step.Type] {
			return NewValidationError(step.Type.String(), "type",
				fmt.Sprintf("duplicate step type: %s", step.Type), ErrBadContent)
		}
		seen[step.Type] = true

		if !step.Enabled {
			continue
		}
		enabled++

		if step.Type.IsHarvest() && step.URL == "" {
			return NewValidationError(step.Type.String(), "url",
				"harvest step requires a source url", ErrBadContent)
		}
	}

	if enabled == 0 {
		return NewValidationError("", "steps", "workflow has no enabled steps", ErrBadContent)
	}
	return nil
}

// convertValidationError приводит ошибки validator к ValidationError.
func convertValidationError(index int, step domain.PluginConfig, err error) error {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		fe := ves[0]
		field := fmt.Sprintf("steps[%d].%s", index, fe.Field())
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, fe.Tag())
		return NewValidationError(step.Type.String(), field, msg, errors.Join(ErrBadContent, err))
	}
	return NewValidationError(step.Type.String(), "steps", err.Error(), errors.Join(ErrBadContent, err))
}
