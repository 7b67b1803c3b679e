package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Metis/internal/domain"
)

func TestReaper_Sweep(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	started := func(datasetID string, at time.Time) *domain.WorkflowExecution {
		exec := domain.NewWorkflowExecution(datasetID, uuid.Nil, stepConfigs(domain.PluginTypeHarvest), 0, "")
		exec.MarkRunning()
		exec.StartedAt = &at
		require.NoError(t, env.stores.Executions.Create(ctx, exec))
		return exec
	}

	now := time.Now()
	old := started("ds-old", now.Add(-2*time.Hour))
	recent := started("ds-recent", now.Add(-10*time.Minute))
	queued := domain.NewWorkflowExecution("ds-queued", uuid.Nil, stepConfigs(domain.PluginTypeHarvest), 0, "")
	queued.CreatedAt = now.Add(-3 * time.Hour)
	require.NoError(t, env.stores.Executions.Create(ctx, queued))

	reaper := NewReaper(ReaperConfig{
		Executions:  env.stores.Executions,
		MaxDuration: time.Hour,
		BatchSize:   1,
		Logger:      discardLogger(),
	})

	n, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := env.execution(t, old.ID)
	assert.True(t, got.Cancelling)
	assert.Equal(t, domain.SystemCancelActor, got.CancelledBy)
	assert.False(t, env.execution(t, recent.ID).Cancelling)
	assert.False(t, env.execution(t, queued.ID).Cancelling, "queued executions are not capped")

	n, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already cancelling executions are skipped")
}

func TestReaper_CancelledByRunner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addDataset(t, "ds-1", domain.PluginTypeHarvest, domain.PluginTypeValidateExternal)
	release := env.backend.hold("ds-1")
	defer release()

	exec, err := env.service.EnqueueExecution(ctx, "ds-1", "", 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- env.runner.Run(ctx, exec.ID) }()

	require.Eventually(t, func() bool {
		return env.execution(t, exec.ID).Plugins[0].Status == domain.PluginStatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	reaper := NewReaper(ReaperConfig{Executions: env.stores.Executions, MaxDuration: time.Hour, Logger: discardLogger()})
	reaper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	n, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after system cancel")
	}

	got := env.execution(t, exec.ID)
	assert.Equal(t, domain.WorkflowStatusCancelled, got.Status)
	assert.Equal(t, domain.SystemCancelActor, got.CancelledBy)
}

func TestReaper_Disabled(t *testing.T) {
	reaper := NewReaper(ReaperConfig{Logger: discardLogger()})
	assert.False(t, reaper.Enabled())

	n, err := reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, reaper.Run(context.Background()))
}
