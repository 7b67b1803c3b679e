// Package orchestrator ставит executions в очередь и доводит их до финала.
//
// Состав пакета:
//   - Service: операции над workflows и executions (создание, запуск,
//     отмена, overview, сводка по датасету)
//   - Dispatcher: единственный consumer очереди с ограничением числа
//     одновременно работающих Runner
//   - Runner: автомат INQUEUE → RUNNING → {FINISHED, FAILED, CANCELLED}
//     для одного execution
//   - Reaper: системная отмена executions, превысивших лимит длительности
//
// Состояние execution целиком хранится в repo.ExecutionStore, поэтому
// доставка подтверждается сразу при запуске Runner, а после рестарта
// Dispatcher возобновляет незавершённые executions.
package orchestrator
