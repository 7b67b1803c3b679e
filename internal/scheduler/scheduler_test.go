package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/repo"
)

func (e *testEnv) executions(t *testing.T, datasetID string) []domain.WorkflowExecution {
	t.Helper()
	list, err := e.service.ListExecutions(context.Background(), repo.ExecutionFilter{DatasetIDs: []string{datasetID}})
	require.NoError(t, err)
	return list
}

func TestScheduler_TickFiresDueSchedule(t *testing.T) {
	env := newTestEnv(t, 0)
	env.addDataset(t, "ds-1", true)
	sched := env.dueSchedule(t, "ds-1", domain.FrequencyDaily)

	require.NoError(t, env.scheduler.Tick(context.Background()))

	execs := env.executions(t, "ds-1")
	require.Len(t, execs, 1)
	assert.Equal(t, domain.WorkflowStatusInQueue, execs[0].Status)

	got := env.schedule(t, sched)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.LastExecutionID)
	assert.Equal(t, execs[0].ID, *got.LastExecutionID)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextDueAt)
	assert.True(t, got.NextDueAt.After(time.Now()), "next run moves to the future")
}

func TestScheduler_SkipsSlotWhileExecutionActive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.addDataset(t, "ds-1", true)
	active, err := env.service.EnqueueExecution(ctx, "ds-1", "", 0)
	require.NoError(t, err)
	sched := env.dueSchedule(t, "ds-1", domain.FrequencyDaily)

	require.NoError(t, env.scheduler.Tick(ctx))

	execs := env.executions(t, "ds-1")
	require.Len(t, execs, 1)
	assert.Equal(t, active.ID, execs[0].ID)

	got := env.schedule(t, sched)
	assert.Nil(t, got.LastExecutionID)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.NextDueAt)
	assert.False(t, got.IsDue(time.Now()), "skipped slot is not retried")
}

func TestScheduler_RejectedWithoutWorkflow(t *testing.T) {
	env := newTestEnv(t, 0)
	env.addDataset(t, "ds-1", false)
	sched := env.dueSchedule(t, "ds-1", domain.FrequencyWeekly)

	require.NoError(t, env.scheduler.Tick(context.Background()))

	assert.Empty(t, env.executions(t, "ds-1"))
	got := env.schedule(t, sched)
	assert.Nil(t, got.LastExecutionID)
	assert.False(t, got.IsDue(time.Now()))
}

func TestScheduler_OnceDisabledAfterRun(t *testing.T) {
	env := newTestEnv(t, 0)
	env.addDataset(t, "ds-1", true)
	sched := env.dueSchedule(t, "ds-1", domain.FrequencyOnce)

	require.NoError(t, env.scheduler.Tick(context.Background()))
	require.Len(t, env.executions(t, "ds-1"), 1)

	got := env.schedule(t, sched)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextDueAt)

	// Повторный тик ничего не создаёт
	require.NoError(t, env.scheduler.Tick(context.Background()))
	assert.Len(t, env.executions(t, "ds-1"), 1)
}

func TestScheduler_TickPaging(t *testing.T) {
	env := newTestEnv(t, 1)
	ids := []string{"ds-1", "ds-2", "ds-3"}
	for _, id := range ids {
		env.addDataset(t, id, true)
		env.dueSchedule(t, id, domain.FrequencyDaily)
	}

	require.NoError(t, env.scheduler.Tick(context.Background()))

	for _, id := range ids {
		assert.Len(t, env.executions(t, id), 1, id)
	}
}

type failingEnqueuer struct {
	calls int
}

func (f *failingEnqueuer) EnqueueScheduled(context.Context, string, int) (*domain.WorkflowExecution, error) {
	f.calls++
	return nil, errors.New("database is down")
}

func TestScheduler_TransientErrorKeepsScheduleDue(t *testing.T) {
	env := newTestEnv(t, 1)
	enqueuer := &failingEnqueuer{}
	env.scheduler.enqueuer = enqueuer

	first := env.dueSchedule(t, "ds-1", domain.FrequencyDaily)
	second := env.dueSchedule(t, "ds-2", domain.FrequencyDaily)

	require.NoError(t, env.scheduler.Tick(context.Background()))

	assert.Equal(t, 2, enqueuer.calls, "failed schedule does not hide the next page")
	assert.True(t, env.schedule(t, first).IsDue(time.Now()))
	assert.True(t, env.schedule(t, second).IsDue(time.Now()))
	assert.Nil(t, env.schedule(t, first).LastRunAt)
}

func TestScheduler_InvalidScheduleDisabled(t *testing.T) {
	env := newTestEnv(t, 0)
	env.addDataset(t, "ds-1", true)
	sched := env.dueSchedule(t, "ds-1", domain.FrequencyDaily)

	stored := env.schedule(t, sched)
	stored.Frequency = "HOURLY"
	require.NoError(t, env.stores.Schedules.Update(context.Background(), stored))

	require.NoError(t, env.scheduler.Tick(context.Background()))

	got := env.schedule(t, sched)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextDueAt)
	assert.NotNil(t, got.LastExecutionID, "execution from the last valid slot is kept")
}
