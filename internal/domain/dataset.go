package domain

import "time"

// Dataset — датасет, к которому применяются workflows.
//
// CRUD датасетов живёт во внешней системе; здесь хранится только то,
// что нужно для проверок и overview.
type Dataset struct {
	// ID — идентификатор датасета.
	ID string `json:"id"`

	// Name — имя датасета.
	Name string `json:"name"`

	// Provider — организация-поставщик.
	Provider string `json:"provider,omitempty"`

	// CreatedAt — время регистрации.
	CreatedAt time.Time `json:"created_at"`
}
