package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/mq"
	"github.com/shaiso/Metis/internal/repo"
	"github.com/shaiso/Metis/internal/telemetry"
)

// Default configuration values.
const (
	defaultMaxConcurrent    = 10
	defaultRequeueDelay     = 2 * time.Second
	defaultRecoveryInterval = time.Minute
	defaultStaleAfter       = 10 * time.Minute
	defaultRecoveryBatch    = 100
)

// Исходы обработки доставки (метка метрики Deliveries).
const (
	outcomeDispatched = "dispatched"
	outcomeRequeued   = "requeued"
	outcomeDuplicate  = "duplicate"
	outcomeStale      = "stale"
	outcomeUnknown    = "unknown"
	outcomeCancelled  = "cancelled"
	outcomeInvalid    = "invalid"
)

// Dispatcher — единственный consumer очереди executions.
//
// Dispatcher:
//   - Ограничивает число одновременно работающих Runner (MaxConcurrent)
//   - Подтверждает доставку сразу при запуске Runner
//   - Без свободного слота возвращает доставку в очередь с задержкой,
//     не блокируя consumer
//   - При старте заново публикует незавершённые executions
//   - Периодически публикует executions, застрявшие в INQUEUE
//     (polling fallback на случай потерянной публикации)
//   - Заново публикует RUNNING executions, чей Runner прервался с ошибкой
type Dispatcher struct {
	executions repo.ExecutionStore
	queue      Queue
	runner     *Runner
	conn       *mq.Connection

	maxConcurrent    int64
	inFlight         atomic.Int64
	requeueDelay     time.Duration
	recoveryInterval time.Duration
	staleAfter       time.Duration
	batchSize        int

	// Active executions — executions с работающим Runner (executionID → cancel)
	active map[uuid.UUID]context.CancelFunc
	mu     sync.RWMutex

	// Recovery — когда execution последний раз публиковался заново
	republished map[uuid.UUID]time.Time

	consumer *mq.Consumer

	// Runners живут в собственном контексте, отменяемом в Stop
	runCtx    context.Context
	runCancel context.CancelFunc
	runners   sync.WaitGroup

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// DispatcherConfig — конфигурация Dispatcher.
type DispatcherConfig struct {
	Executions repo.ExecutionStore
	Queue      Queue
	Runner     *Runner

	// Conn — подключение к RabbitMQ. Если nil, consumer не запускается
	// и доставки передаются через Dispatch.
	Conn *mq.Connection

	MaxConcurrent    int           // одновременно работающих Runner (default: 10)
	RequeueDelay     time.Duration // задержка возврата в очередь (default: 2s)
	RecoveryInterval time.Duration // интервал recovery poll (default: 1m)
	StaleAfter       time.Duration // возраст INQUEUE для повторной публикации (default: 10m)
	BatchSize        int           // executions за один запрос к хранилищу (default: 100)

	Logger *slog.Logger
}

// NewDispatcher создаёт Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	requeueDelay := cfg.RequeueDelay
	if requeueDelay <= 0 {
		requeueDelay = defaultRequeueDelay
	}

	recoveryInterval := cfg.RecoveryInterval
	if recoveryInterval <= 0 {
		recoveryInterval = defaultRecoveryInterval
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultRecoveryBatch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	return &Dispatcher{
		executions:       cfg.Executions,
		queue:            cfg.Queue,
		runner:           cfg.Runner,
		conn:             cfg.Conn,
		maxConcurrent:    int64(maxConcurrent),
		requeueDelay:     requeueDelay,
		recoveryInterval: recoveryInterval,
		staleAfter:       staleAfter,
		batchSize:        batchSize,
		active:           make(map[uuid.UUID]context.CancelFunc),
		republished:      make(map[uuid.UUID]time.Time),
		runCtx:           runCtx,
		runCancel:        runCancel,
		logger:           logger,
	}
}

// Start запускает Dispatcher.
//
// Запускает:
//   - Повторную публикацию INQUEUE/RUNNING executions
//   - Consumer очереди executions (если задан Conn)
//   - Recovery poll
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.IsStopped() {
		return ErrOrchestratorStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel

	d.logger.Info("starting dispatcher",
		"max_concurrent", d.maxConcurrent,
		"requeue_delay", d.requeueDelay,
		"recovery_interval", d.recoveryInterval,
	)

	if err := d.Rehydrate(ctx); err != nil {
		cancel()
		return fmt.Errorf("rehydrate executions: %w", err)
	}

	if d.conn != nil {
		// Prefetch с запасом: доставки без слота висят неподтверждёнными
		// до отложенного nack
		d.consumer = mq.NewConsumer(d.conn, d.logger, mq.ConsumerConfig{
			Queue:     string(mq.QueueExecutions),
			Handler:   d.HandleDelivery,
			Prefetch:  int(d.maxConcurrent) + 1,
			ManualAck: true,
		})

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("executions consumer error", "error", err)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pollLoop(ctx)
	}()

	d.logger.Info("dispatcher started")
	return nil
}

// Stop останавливает Dispatcher и ждёт завершения Runner.
//
// Прерванные executions остаются RUNNING и возобновляются при следующем
// старте.
func (d *Dispatcher) Stop() {
	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	d.logger.Info("stopping dispatcher...")

	if d.cancelFunc != nil {
		d.cancelFunc()
	}
	if d.consumer != nil {
		d.consumer.Stop()
	}
	d.wg.Wait()

	d.runCancel()
	d.runners.Wait()

	d.logger.Info("dispatcher stopped")
}

// IsStopped проверяет, остановлен ли Dispatcher.
func (d *Dispatcher) IsStopped() bool {
	d.stoppedMu.RLock()
	defer d.stoppedMu.RUnlock()
	return d.stopped
}

// Wait ждёт завершения всех запущенных Runner.
func (d *Dispatcher) Wait() {
	d.runners.Wait()
}

// HandleDelivery — mq.Handler для очереди executions.
func (d *Dispatcher) HandleDelivery(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.ExecutionQueuedPayload](&delivery.Message)
	if err != nil || payload.ExecutionID == uuid.Nil {
		d.logger.Error("invalid execution.queued payload",
			"message_id", delivery.Message.ID,
			"error", err,
		)
		telemetry.Deliveries.WithLabelValues(outcomeInvalid).Inc()
		// Некорректное сообщение — отправляем в DLQ
		return delivery.Nack(false)
	}

	d.Dispatch(ctx, payload.ExecutionID, delivery)
	return nil
}

// Dispatch принимает одну доставку execution.
//
// Подтверждает доставку при запуске Runner, для неизвестных, завершённых
// и уже выполняемых executions. Без свободного слота, после остановки или
// при ошибке хранилища возвращает доставку в очередь через RequeueDelay.
func (d *Dispatcher) Dispatch(ctx context.Context, executionID uuid.UUID, ack mq.Acknowledger) {
	logger := d.logger.With("execution_id", executionID)

	if d.IsStopped() {
		d.requeue(ack, logger)
		return
	}

	if d.isActive(executionID) {
		logger.Debug("execution already running, dropping delivery")
		d.settle(ack, outcomeDuplicate, logger)
		return
	}

	exec, err := d.executions.GetByID(ctx, executionID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		logger.Warn("execution not found, dropping delivery")
		d.settle(ack, outcomeUnknown, logger)
		return
	case err != nil:
		logger.Error("failed to load execution", "error", err)
		d.requeue(ack, logger)
		return
	case !exec.IsActive():
		logger.Debug("execution already completed, dropping delivery", "status", exec.Status)
		d.settle(ack, outcomeStale, logger)
		return
	}

	// Отмена до запуска не требует слота
	if exec.Status == domain.WorkflowStatusInQueue && exec.Cancelling {
		exec.MarkCancelled()
		if err := d.executions.Update(ctx, exec); err != nil {
			logger.Error("failed to cancel queued execution", "error", err)
			d.requeue(ack, logger)
			return
		}
		telemetry.ExecutionsCompleted.WithLabelValues(string(exec.Status)).Inc()
		logger.Info("queued execution cancelled", "cancelled_by", exec.CancelledBy)
		d.settle(ack, outcomeCancelled, logger)
		return
	}

	if !d.tryAcquire() {
		logger.Debug("no free runner slot, requeueing", "in_flight", d.InFlight())
		d.requeue(ack, logger)
		return
	}

	runCtx, cancel := context.WithCancel(d.runCtx)
	if err := d.addActive(executionID, cancel); err != nil {
		cancel()
		d.release()
		d.settle(ack, outcomeDuplicate, logger)
		return
	}

	d.runners.Add(1)
	go func() {
		defer d.runners.Done()
		defer d.release()
		defer d.removeActive(executionID)
		defer cancel()

		if err := d.runner.Run(runCtx, executionID); err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("runner interrupted", "error", err)
				return
			}
			logger.Error("runner stopped before completion", "error", err)
			d.republishLater(executionID, exec.Priority, logger)
		}
	}()

	d.settle(ack, outcomeDispatched, logger)
}

// InFlight возвращает число работающих Runner.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// tryAcquire резервирует слот Runner.
func (d *Dispatcher) tryAcquire() bool {
	for {
		cur := d.inFlight.Load()
		if cur >= d.maxConcurrent {
			return false
		}
		if d.inFlight.CompareAndSwap(cur, cur+1) {
			telemetry.RunnersInFlight.Inc()
			return true
		}
	}
}

// release освобождает слот Runner.
func (d *Dispatcher) release() {
	d.inFlight.Add(-1)
	telemetry.RunnersInFlight.Dec()
}

func (d *Dispatcher) settle(ack mq.Acknowledger, outcome string, logger *slog.Logger) {
	telemetry.Deliveries.WithLabelValues(outcome).Inc()
	if err := ack.Ack(); err != nil {
		logger.Warn("failed to ack delivery", "outcome", outcome, "error", err)
	}
}

// requeue возвращает доставку в очередь через requeueDelay, не блокируя вызывающего.
func (d *Dispatcher) requeue(ack mq.Acknowledger, logger *slog.Logger) {
	telemetry.Deliveries.WithLabelValues(outcomeRequeued).Inc()
	time.AfterFunc(d.requeueDelay, func() {
		if err := ack.Nack(true); err != nil {
			logger.Warn("failed to requeue delivery", "error", err)
		}
	})
}

// republishLater публикует execution заново через requeueDelay.
// Execution остаётся RUNNING без Runner, пока его не доставят снова.
func (d *Dispatcher) republishLater(executionID uuid.UUID, priority int, logger *slog.Logger) {
	if d.queue == nil {
		return
	}
	time.AfterFunc(d.requeueDelay, func() {
		if d.IsStopped() {
			return
		}
		if err := d.queue.PublishExecution(context.Background(), executionID, priority); err != nil {
			// Остаётся recovery poll
			logger.Warn("failed to republish interrupted execution", "error", err)
			return
		}
		d.markRepublished(executionID, time.Now())
		telemetry.Deliveries.WithLabelValues(outcomeRequeued).Inc()
	})
}

// Rehydrate заново публикует все INQUEUE и RUNNING executions.
// Дубликаты безопасны: Dispatch отбрасывает уже выполняемые и завершённые.
func (d *Dispatcher) Rehydrate(ctx context.Context) error {
	if d.queue == nil {
		return nil
	}

	count := 0
	err := d.eachActive(ctx, []domain.WorkflowStatus{domain.WorkflowStatusInQueue, domain.WorkflowStatusRunning},
		func(exec *domain.WorkflowExecution) error {
			if d.isActive(exec.ID) {
				return nil
			}
			if err := d.queue.PublishExecution(ctx, exec.ID, exec.Priority); err != nil {
				return fmt.Errorf("publish %s: %w", exec.ID, err)
			}
			d.markRepublished(exec.ID, time.Now())
			count++
			return nil
		})
	if err != nil {
		return err
	}

	if count > 0 {
		d.logger.Info("rehydrated executions", "count", count)
	}
	return nil
}

// pollLoop — цикл recovery poll.
func (d *Dispatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.recover(ctx)
		}
	}
}

// recover публикует executions, оставшиеся без Runner:
//   - INQUEUE, которые дольше staleAfter не попадали в Runner и не
//     публиковались повторно
//   - RUNNING без работающего Runner (Runner прервался на ошибке хранилища),
//     если они не публиковались повторно за последние staleAfter
func (d *Dispatcher) recover(ctx context.Context) {
	if d.queue == nil {
		return
	}

	now := time.Now()
	seen := make(map[uuid.UUID]bool)
	count := 0

	statuses := []domain.WorkflowStatus{domain.WorkflowStatusInQueue, domain.WorkflowStatusRunning}
	err := d.eachActive(ctx, statuses, func(exec *domain.WorkflowExecution) error {
		seen[exec.ID] = true
		if d.isActive(exec.ID) {
			return nil
		}

		var last time.Time
		if exec.Status == domain.WorkflowStatusInQueue {
			last = exec.CreatedAt
		}
		if t, ok := d.lastRepublished(exec.ID); ok && t.After(last) {
			last = t
		}
		if now.Sub(last) < d.staleAfter {
			return nil
		}

		if err := d.queue.PublishExecution(ctx, exec.ID, exec.Priority); err != nil {
			d.logger.Warn("failed to republish execution", "execution_id", exec.ID, "error", err)
			return nil
		}
		d.markRepublished(exec.ID, now)
		count++
		return nil
	})
	if err != nil {
		d.logger.Error("recovery poll failed", "error", err)
		return
	}

	d.mu.Lock()
	for id := range d.republished {
		if !seen[id] {
			delete(d.republished, id)
		}
	}
	d.mu.Unlock()

	if count > 0 {
		d.logger.Info("republished stale executions", "count", count)
	}
}

// eachActive обходит executions с указанными статусами страницами по batchSize.
func (d *Dispatcher) eachActive(ctx context.Context, statuses []domain.WorkflowStatus, fn func(*domain.WorkflowExecution) error) error {
	for offset := 0; ; offset += d.batchSize {
		list, err := d.executions.List(ctx, repo.ExecutionFilter{
			Statuses: statuses,
			Limit:    d.batchSize,
			Offset:   offset,
		})
		if err != nil {
			return fmt.Errorf("list executions: %w", err)
		}
		for i := range list {
			if err := fn(&list[i]); err != nil {
				return err
			}
		}
		if len(list) < d.batchSize {
			return nil
		}
	}
}

// isActive проверяет, работает ли Runner для execution.
func (d *Dispatcher) isActive(executionID uuid.UUID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, exists := d.active[executionID]
	return exists
}

// addActive добавляет execution в активные.
func (d *Dispatcher) addActive(executionID uuid.UUID, cancel context.CancelFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.active[executionID]; exists {
		return fmt.Errorf("execution %s already running", executionID)
	}
	d.active[executionID] = cancel
	return nil
}

// removeActive удаляет execution из активных.
func (d *Dispatcher) removeActive(executionID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, executionID)
}

// ActiveCount возвращает число executions с работающим Runner.
func (d *Dispatcher) ActiveCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.active)
}

func (d *Dispatcher) markRepublished(executionID uuid.UUID, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.republished[executionID] = at
}

func (d *Dispatcher) lastRepublished(executionID uuid.UUID) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.republished[executionID]
	return t, ok
}
