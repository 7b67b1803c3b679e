package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/repo"
)

// flakyExecutions — ExecutionStore, у которого можно отключить запись.
type flakyExecutions struct {
	repo.ExecutionStore
	failUpdates atomic.Bool
}

func (s *flakyExecutions) Update(ctx context.Context, exec *domain.WorkflowExecution) error {
	if s.failUpdates.Load() {
		return errors.New("store unavailable")
	}
	return s.ExecutionStore.Update(ctx, exec)
}

func newTestDispatcher(env *testEnv, maxConcurrent int) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Executions:    env.stores.Executions,
		Queue:         env.queue,
		Runner:        env.runner,
		MaxConcurrent: maxConcurrent,
		RequeueDelay:  10 * time.Millisecond,
		Logger:        discardLogger(),
	})
}

func TestDispatcher_AdmissionBound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := newTestDispatcher(env, 2)
	defer d.Stop()

	// Service публикует прямо в Dispatcher
	env.service.queue = &loopbackQueue{d: d}

	releases := make(map[string]func())
	for _, id := range []string{"ds-1", "ds-2", "ds-3"} {
		env.addDataset(t, id, domain.PluginTypeHarvest)
		releases[id] = env.backend.hold(id)
	}
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	var peak atomic.Int64
	stopSampling := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stopSampling:
				return
			default:
			}
			if n := int64(d.InFlight()); n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	execs := make(map[string]*domain.WorkflowExecution)
	for _, id := range []string{"ds-1", "ds-2", "ds-3"} {
		exec, err := env.service.EnqueueExecution(ctx, id, "", 0)
		require.NoError(t, err)
		execs[id] = exec
	}

	require.Eventually(t, func() bool {
		return env.execution(t, execs["ds-1"].ID).Plugins[0].Status == domain.PluginStatusRunning &&
			env.execution(t, execs["ds-2"].ID).Plugins[0].Status == domain.PluginStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	// Третий execution ждёт слот, доставка ходит через requeue
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, d.InFlight())
	assert.Equal(t, domain.WorkflowStatusInQueue, env.execution(t, execs["ds-3"].ID).Status)

	releases["ds-1"]()

	require.Eventually(t, func() bool {
		return env.execution(t, execs["ds-1"].ID).Status == domain.WorkflowStatusFinished &&
			env.execution(t, execs["ds-3"].ID).Status == domain.WorkflowStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	releases["ds-2"]()
	releases["ds-3"]()

	require.Eventually(t, func() bool {
		for _, exec := range execs {
			if env.execution(t, exec.ID).Status != domain.WorkflowStatusFinished {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return d.InFlight() == 0 }, time.Second, 5*time.Millisecond)

	close(stopSampling)
	<-sampled

	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.LessOrEqual(t, env.backend.peakRunning(), 2)
}

func TestDispatcher_DropsStaleDeliveries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := newTestDispatcher(env, 2)
	defer d.Stop()

	t.Run("unknown execution", func(t *testing.T) {
		ack := &fakeAck{}
		d.Dispatch(ctx, uuid.New(), ack)
		acked, nacked := ack.counts()
		assert.Equal(t, 1, acked)
		assert.Zero(t, nacked)
	})

	t.Run("completed execution", func(t *testing.T) {
		exec := finishedExecution("ds-done", time.Now(), 10, 0, domain.PluginTypeHarvest)
		require.NoError(t, env.stores.Executions.Create(ctx, exec))

		ack := &fakeAck{}
		d.Dispatch(ctx, exec.ID, ack)
		acked, _ := ack.counts()
		assert.Equal(t, 1, acked)
		assert.Empty(t, env.backend.submittedTypes())
	})

	t.Run("duplicate of running execution", func(t *testing.T) {
		env.addDataset(t, "ds-dup", domain.PluginTypeHarvest)
		release := env.backend.hold("ds-dup")
		defer release()

		exec, err := env.service.EnqueueExecution(ctx, "ds-dup", "", 0)
		require.NoError(t, err)

		first := &fakeAck{}
		d.Dispatch(ctx, exec.ID, first)
		second := &fakeAck{}
		d.Dispatch(ctx, exec.ID, second)

		acked, nacked := second.counts()
		assert.Equal(t, 1, acked)
		assert.Zero(t, nacked)
		assert.Equal(t, 1, d.ActiveCount())

		release()
		require.Eventually(t, func() bool { return d.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	})
}

func TestDispatcher_CancelledWhileQueued(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := newTestDispatcher(env, 1)
	defer d.Stop()

	env.addDataset(t, "ds-1", domain.PluginTypeHarvest)
	exec, err := env.service.EnqueueExecution(ctx, "ds-1", "", 0)
	require.NoError(t, err)
	require.NoError(t, env.service.CancelExecution(ctx, exec.ID, "alice"))

	ack := &fakeAck{}
	d.Dispatch(ctx, exec.ID, ack)

	acked, _ := ack.counts()
	assert.Equal(t, 1, acked)
	assert.Zero(t, d.InFlight(), "cancelled delivery takes no runner slot")

	got := env.execution(t, exec.ID)
	assert.Equal(t, domain.WorkflowStatusCancelled, got.Status)
	assert.Equal(t, "alice", got.CancelledBy)
	assert.Equal(t, domain.PluginStatusCancelled, got.Plugins[0].Status)
	assert.Empty(t, env.backend.submittedTypes())
}

func TestDispatcher_NoSlotRequeues(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := newTestDispatcher(env, 1)
	defer d.Stop()

	env.addDataset(t, "ds-1", domain.PluginTypeHarvest)
	env.addDataset(t, "ds-2", domain.PluginTypeHarvest)
	release := env.backend.hold("ds-1")
	defer release()

	first, err := env.service.EnqueueExecution(ctx, "ds-1", "", 0)
	require.NoError(t, err)
	second, err := env.service.EnqueueExecution(ctx, "ds-2", "", 0)
	require.NoError(t, err)

	d.Dispatch(ctx, first.ID, &fakeAck{})

	ack := &fakeAck{}
	start := time.Now()
	d.Dispatch(ctx, second.ID, ack)
	assert.Less(t, time.Since(start), 10*time.Millisecond, "dispatch never waits for a slot")

	require.Eventually(t, func() bool {
		_, nacked := ack.counts()
		return nacked == 1
	}, time.Second, time.Millisecond)

	acked, _ := ack.counts()
	assert.Zero(t, acked)
	assert.Equal(t, 1, ack.requeued)
	assert.Equal(t, domain.WorkflowStatusInQueue, env.execution(t, second.ID).Status)
}

func TestDispatcher_Rehydrate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := newTestDispatcher(env, 2)
	defer d.Stop()

	env.addDataset(t, "ds-1", domain.PluginTypeHarvest)
	env.addDataset(t, "ds-2", domain.PluginTypeHarvest)

	queued, err := env.service.EnqueueExecution(ctx, "ds-1", "", 0)
	require.NoError(t, err)
	running, err := env.service.EnqueueExecution(ctx, "ds-2", "", 0)
	require.NoError(t, err)

	stored := env.execution(t, running.ID)
	stored.MarkRunning()
	require.NoError(t, env.stores.Executions.Update(ctx, stored))

	require.NoError(t, env.stores.Executions.Create(ctx, finishedExecution("ds-3", time.Now(), 10, 0, domain.PluginTypeHarvest)))

	env.queue.ids = nil
	require.NoError(t, d.Rehydrate(ctx))

	assert.ElementsMatch(t, []uuid.UUID{queued.ID, running.ID}, env.queue.published())
}

func TestDispatcher_StoppedRequeues(t *testing.T) {
	env := newTestEnv(t)
	d := newTestDispatcher(env, 1)
	d.Stop()

	ack := &fakeAck{}
	d.Dispatch(context.Background(), uuid.New(), ack)

	require.Eventually(t, func() bool {
		_, nacked := ack.counts()
		return nacked == 1
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, d.Start(context.Background()), ErrOrchestratorStopped)
}

func TestDispatcher_RepublishesAfterRunnerError(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	store := &flakyExecutions{ExecutionStore: env.stores.Executions}
	runner := NewRunner(RunnerConfig{
		Executions:   store,
		Backend:      env.backend,
		PollInterval: 5 * time.Millisecond,
		StoreRetries: 1,
		Logger:       discardLogger(),
	})
	d := NewDispatcher(DispatcherConfig{
		Executions:    store,
		Queue:         env.queue,
		Runner:        runner,
		MaxConcurrent: 1,
		RequeueDelay:  10 * time.Millisecond,
		Logger:        discardLogger(),
	})
	defer d.Stop()

	env.addDataset(t, "ds-1", domain.PluginTypeHarvest)
	release := env.backend.hold("ds-1")
	defer release()

	exec, err := env.service.EnqueueExecution(ctx, "ds-1", "", 0)
	require.NoError(t, err)
	env.queue.ids = nil

	d.Dispatch(ctx, exec.ID, &fakeAck{})
	require.Eventually(t, func() bool {
		return env.execution(t, exec.ID).Plugins[0].Status == domain.PluginStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	// Хранилище отказывает, пока Runner отслеживает шаг
	store.failUpdates.Store(true)
	release()

	require.Eventually(t, func() bool {
		return d.ActiveCount() == 0 && len(env.queue.published()) == 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uuid.UUID{exec.ID}, env.queue.published())
	assert.Zero(t, d.InFlight())
	assert.Equal(t, domain.WorkflowStatusRunning, env.execution(t, exec.ID).Status)

	// Повторная доставка после восстановления хранилища доводит execution до конца
	store.failUpdates.Store(false)
	d.Dispatch(ctx, exec.ID, &fakeAck{})

	require.Eventually(t, func() bool {
		return env.execution(t, exec.ID).Status == domain.WorkflowStatusFinished
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, env.backend.submittedTypes(), 1, "resumed step is monitored, not resubmitted")

	_, err = env.service.EnqueueExecution(ctx, "ds-1", "", 0)
	assert.NoError(t, err)
}

func TestDispatcher_RecoverOrphanedRunning(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := newTestDispatcher(env, 2)
	defer d.Stop()

	env.addDataset(t, "ds-orphan", domain.PluginTypeHarvest)
	env.addDataset(t, "ds-active", domain.PluginTypeHarvest)

	orphan, err := env.service.EnqueueExecution(ctx, "ds-orphan", "", 0)
	require.NoError(t, err)
	active, err := env.service.EnqueueExecution(ctx, "ds-active", "", 0)
	require.NoError(t, err)

	for _, id := range []uuid.UUID{orphan.ID, active.ID} {
		stored := env.execution(t, id)
		stored.MarkRunning()
		require.NoError(t, env.stores.Executions.Update(ctx, stored))
	}
	require.NoError(t, d.addActive(active.ID, func() {}))
	defer d.removeActive(active.ID)

	env.queue.ids = nil
	d.recover(ctx)
	assert.Equal(t, []uuid.UUID{orphan.ID}, env.queue.published())

	// Недавно опубликованный execution ждёт staleAfter
	d.recover(ctx)
	assert.Equal(t, []uuid.UUID{orphan.ID}, env.queue.published())
}
