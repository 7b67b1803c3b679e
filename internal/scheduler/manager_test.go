package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/engine"
	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/repo"
)

func newSchedule(datasetID string, pointer time.Time, freq domain.ScheduleFrequency) *domain.ScheduledWorkflow {
	return &domain.ScheduledWorkflow{
		DatasetID:   datasetID,
		PointerDate: pointer,
		Frequency:   freq,
		Enabled:     true,
	}
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.addDataset(t, "ds-1", true)

	pointer := time.Now().Add(24 * time.Hour).Truncate(time.Minute)
	sched := newSchedule("ds-1", pointer, domain.FrequencyDaily)
	require.NoError(t, env.manager.Create(ctx, sched))

	assert.NotEqual(t, uuid.Nil, sched.ID)
	assert.Equal(t, "UTC", sched.Timezone)
	require.NotNil(t, sched.NextDueAt)
	assert.True(t, sched.NextDueAt.Equal(pointer), "future pointer date is the first run")

	got, err := env.manager.GetByDataset(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, sched.ID, got.ID)

	dup := newSchedule("ds-1", pointer, domain.FrequencyWeekly)
	assert.ErrorIs(t, env.manager.Create(ctx, dup), ErrScheduledWorkflowAlreadyExists)
}

func TestManager_CreateDisabled(t *testing.T) {
	env := newTestEnv(t, 0)
	env.addDataset(t, "ds-1", true)

	sched := newSchedule("ds-1", time.Now().Add(-time.Hour), domain.FrequencyOnce)
	sched.Enabled = false
	require.NoError(t, env.manager.Create(context.Background(), sched))
	assert.Nil(t, sched.NextDueAt)
}

func TestManager_CreateErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.addDataset(t, "no-workflow", false)
	pointer := time.Now().Add(time.Hour)

	t.Run("unknown dataset", func(t *testing.T) {
		err := env.manager.Create(ctx, newSchedule("missing", pointer, domain.FrequencyDaily))
		assert.ErrorIs(t, err, orchestrator.ErrNoDatasetFound)
	})

	t.Run("dataset without workflow", func(t *testing.T) {
		err := env.manager.Create(ctx, newSchedule("no-workflow", pointer, domain.FrequencyDaily))
		assert.ErrorIs(t, err, orchestrator.ErrNoWorkflowFound)
	})

	t.Run("bad frequency", func(t *testing.T) {
		err := env.manager.Create(ctx, newSchedule("no-workflow", pointer, "HOURLY"))
		assert.ErrorIs(t, err, engine.ErrBadContent)
	})
}

func TestManager_Update(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	env.addDataset(t, "ds-1", true)

	sched := newSchedule("ds-1", time.Now().Add(time.Hour), domain.FrequencyDaily)
	require.NoError(t, env.manager.Create(ctx, sched))

	update := &domain.ScheduledWorkflow{
		ID:          sched.ID,
		DatasetID:   "other",
		PointerDate: sched.PointerDate,
		Frequency:   domain.FrequencyWeekly,
		Priority:    3,
		Enabled:     false,
	}
	require.NoError(t, env.manager.Update(ctx, update))

	got, err := env.manager.Get(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "ds-1", got.DatasetID, "dataset cannot be changed")
	assert.Equal(t, domain.FrequencyWeekly, got.Frequency)
	assert.Equal(t, 3, got.Priority)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextDueAt)
	assert.Equal(t, "UTC", got.Timezone)
}

func TestManager_NotFound(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	id := uuid.New()

	_, err := env.manager.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNoScheduledWorkflowFound)

	_, err = env.manager.GetByDataset(ctx, "ds-1")
	assert.ErrorIs(t, err, ErrNoScheduledWorkflowFound)

	err = env.manager.Update(ctx, &domain.ScheduledWorkflow{ID: id})
	assert.ErrorIs(t, err, ErrNoScheduledWorkflowFound)

	assert.ErrorIs(t, env.manager.Delete(ctx, id), ErrNoScheduledWorkflowFound)
}

func TestManager_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0)
	for _, id := range []string{"ds-1", "ds-2"} {
		env.addDataset(t, id, true)
		require.NoError(t, env.manager.Create(ctx, newSchedule(id, time.Now().Add(time.Hour), domain.FrequencyMonthly)))
	}

	list, err := env.manager.List(ctx, repo.ScheduleFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, env.manager.Delete(ctx, list[0].ID))

	list, err = env.manager.List(ctx, repo.ScheduleFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
