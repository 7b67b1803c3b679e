// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (orchestrator.Service, scheduler.Manager, logger)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (recovery, request id, logging)
//   - response.go          — унифицированные JSON-ответы и отображение ошибок в статусы
//   - dto.go               — Data Transfer Objects (request/response)
//   - dataset_handler.go   — /datasets и сводка датасета
//   - workflow_handler.go  — /datasets/{id}/workflow
//   - execution_handler.go — запуск, отмена, список и overview executions
//   - schedule_handler.go  — /schedules
//   - task_handler.go      — логи и отчёты задач backend
//
// Авторизация не входит в API, её проверяет внешний слой.
package api
