package engine

import "errors"

// Ошибки правил выполнения.
var (
	// ErrPluginExecutionNotAllowed — для шага нет допустимого предшественника.
	ErrPluginExecutionNotAllowed = errors.New("plugin execution not allowed")

	// ErrBadContent — конфигурация шагов некорректна.
	ErrBadContent = errors.New("bad workflow content")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Step    string // тип шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Step != "" {
		return "step " + e.Step + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(step, field, message string, err error) *ValidationError {
	return &ValidationError{
		Step:    step,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
