package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunnersInFlight — число работающих runner'ов.
	RunnersInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "metis",
		Subsystem: "dispatcher",
		Name:      "runners_in_flight",
		Help:      "Number of execution runners currently active.",
	})

	// Deliveries — исходы обработки сообщений очереди.
	// outcome: dispatched, requeued, dropped.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metis",
		Subsystem: "dispatcher",
		Name:      "deliveries_total",
		Help:      "Queue deliveries by outcome.",
	}, []string{"outcome"})

	// ExecutionsEnqueued — созданные executions по источнику (manual, scheduled, adhoc).
	ExecutionsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metis",
		Subsystem: "orchestrator",
		Name:      "executions_enqueued_total",
		Help:      "Executions created, by trigger source.",
	}, []string{"source"})

	// ExecutionsCompleted — завершённые executions по финальному статусу.
	ExecutionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metis",
		Subsystem: "runner",
		Name:      "executions_completed_total",
		Help:      "Executions that reached a terminal status.",
	}, []string{"status"})

	// StepDuration — длительность шагов от отправки до финального статуса.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "metis",
		Subsystem: "runner",
		Name:      "step_duration_seconds",
		Help:      "Plugin step duration from submission to terminal status.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"plugin_type", "status"})

	// BackendErrors — ошибки вызовов backend после повторов.
	// call: submit, status, cancel; class: transient, permanent.
	BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metis",
		Subsystem: "backend",
		Name:      "errors_total",
		Help:      "Backend call errors after retries.",
	}, []string{"call", "class"})

	// SchedulesFired — срабатывания расписаний по результату (enqueued, skipped, failed).
	SchedulesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metis",
		Subsystem: "scheduler",
		Name:      "schedules_fired_total",
		Help:      "Scheduled workflow triggers by result.",
	}, []string{"result"})

	// ExecutionsReaped — executions, отменённые системой по лимиту длительности.
	ExecutionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "metis",
		Subsystem: "reaper",
		Name:      "executions_cancelled_total",
		Help:      "Executions cancelled by the system duration cap.",
	})
)
