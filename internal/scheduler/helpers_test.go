package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/orchestrator"
	"github.com/shaiso/Metis/internal/repo/memstore"
)

type testEnv struct {
	stores    *memstore.Stores
	service   *orchestrator.Service
	manager   *Manager
	scheduler *Scheduler
}

func newTestEnv(t *testing.T, batchSize int) *testEnv {
	t.Helper()

	stores := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := orchestrator.NewService(orchestrator.ServiceConfig{
		Executions: stores.Executions,
		Workflows:  stores.Workflows,
		Datasets:   stores.Datasets,
		Logger:     logger,
	})

	return &testEnv{
		stores:  stores,
		service: service,
		manager: NewManager(ManagerConfig{
			Schedules: stores.Schedules,
			Datasets:  stores.Datasets,
			Workflows: stores.Workflows,
			Logger:    logger,
		}),
		scheduler: New(Config{
			Schedules: stores.Schedules,
			Enqueuer:  service,
			Logger:    logger,
			BatchSize: batchSize,
		}),
	}
}

// addDataset регистрирует датасет; withWorkflow добавляет workflow из одного harvest.
func (e *testEnv) addDataset(t *testing.T, datasetID string, withWorkflow bool) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, e.service.RegisterDataset(ctx, &domain.Dataset{ID: datasetID}))
	if !withWorkflow {
		return
	}
	_, err := e.service.CreateWorkflow(ctx, datasetID, []domain.PluginConfig{{
		Type:           domain.PluginTypeHarvest,
		Enabled:        true,
		URL:            "https://example.org/oai",
		MetadataFormat: "edm",
	}})
	require.NoError(t, err)
}

// dueSchedule сохраняет включённое расписание, которое уже пора запускать.
func (e *testEnv) dueSchedule(t *testing.T, datasetID string, freq domain.ScheduleFrequency) *domain.ScheduledWorkflow {
	t.Helper()

	due := time.Now().Add(-time.Minute)
	sched := &domain.ScheduledWorkflow{
		ID:          uuid.New(),
		DatasetID:   datasetID,
		PointerDate: due,
		Frequency:   freq,
		Timezone:    "UTC",
		Enabled:     true,
		NextDueAt:   &due,
		CreatedAt:   due,
		UpdatedAt:   due,
	}
	require.NoError(t, e.stores.Schedules.Create(context.Background(), sched))
	return sched
}

func (e *testEnv) schedule(t *testing.T, sched *domain.ScheduledWorkflow) *domain.ScheduledWorkflow {
	t.Helper()
	got, err := e.stores.Schedules.GetByID(context.Background(), sched.ID)
	require.NoError(t, err)
	return got
}
