// Package cli реализует инструмент командной строки Metis.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Metis API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления workflows, executions и расписаниями.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Metis API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок. Ошибка API возвращается как *APIError
// с HTTP статусом и кодом.
//
//	client := cli.NewClient("http://localhost:8080")
//	exec, err := client.EnqueueExecution("ds-1", cli.EnqueueExecutionRequest{Priority: 1})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: metis overview --json | jq .
//
// ## Workflow файлы
//
// Шаги workflow описываются в YAML (см. LoadWorkflowFile) и передаются
// командам workflow create/update и execution start --file.
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - dataset: register, show, summary, clean
//   - workflow: create, update, show, delete
//   - execution: list, start, show, cancel
//   - overview
//   - schedule: list, create, show, update, delete, enable, disable
//   - task: logs, report
//
// Каждая группа создаётся через фабричную функцию (NewWorkflowCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
