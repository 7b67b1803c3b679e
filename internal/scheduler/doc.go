// Package scheduler запускает workflows датасетов по расписанию.
//
// Scheduler периодически проверяет scheduled workflows с истекшим
// next_due_at и ставит executions в очередь через orchestrator.Service,
// тем же путём с блокировкой датасета, что и ручной запуск.
//
// Структура:
//   - scheduler.go — Tick и обработка одного расписания
//   - manager.go   — создание, изменение и удаление расписаний
//   - cron.go      — частота → cron-выражение и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules: scheduleRepo,
//	    Enqueuer:  service,
//	    Logger:    logger,
//	})
//
//	// Вызывается каждый тик
//	if err := sched.Tick(ctx); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через lock.Leader (pg_try_advisory_lock).
// Метод Tick() вызывается только лидером.
package scheduler
