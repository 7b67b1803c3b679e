package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Metis/internal/backend"
	"github.com/shaiso/Metis/internal/domain"
	"github.com/shaiso/Metis/internal/repo/memstore"
)

// fakeBackend — backend в памяти.
//
// Задача отвечает PROCESSING, пока закрыт не весь hold для её датасета или
// типа шага, затем финальным статусом из results (по умолчанию SUCCEEDED
// с 10 обработанными записями).
type fakeBackend struct {
	mu         sync.Mutex
	seq        int
	tasks      map[string]*fakeTask
	submitted  []backend.Submission
	cancelled  []string
	results    map[domain.PluginType]backend.TaskStatus
	holds      map[string]chan struct{}
	logs       map[string][]backend.SubTaskLog
	reports    map[string]backend.TaskReport
	running    int
	maxRunning int
}

type fakeTask struct {
	sub       backend.Submission
	done      bool
	cancelled bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tasks:   make(map[string]*fakeTask),
		results: make(map[domain.PluginType]backend.TaskStatus),
		holds:   make(map[string]chan struct{}),
		logs:    make(map[string][]backend.SubTaskLog),
		reports: make(map[string]backend.TaskReport),
	}
}

// hold задерживает задачи датасета или типа шага до вызова возвращённой функции.
func (b *fakeBackend) hold(key string) func() {
	ch := make(chan struct{})
	b.mu.Lock()
	b.holds[key] = ch
	b.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (b *fakeBackend) setResult(t domain.PluginType, status backend.TaskStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[t] = status
}

// addTask регистрирует задачу, отправленную до рестарта.
func (b *fakeBackend) addTask(id string, sub backend.Submission) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[id] = &fakeTask{sub: sub}
	b.running++
}

func (b *fakeBackend) Submit(_ context.Context, sub backend.Submission) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	id := fmt.Sprintf("task-%d", b.seq)
	b.tasks[id] = &fakeTask{sub: sub}
	b.submitted = append(b.submitted, sub)
	b.running++
	b.maxRunning = max(b.maxRunning, b.running)
	return id, nil
}

func (b *fakeBackend) Status(_ context.Context, taskID string) (backend.TaskStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return backend.TaskStatus{}, fmt.Errorf("%w: unknown task %s", backend.ErrPermanent, taskID)
	}
	if t.cancelled {
		return backend.TaskStatus{State: backend.TaskStateCancelled}, nil
	}
	if b.isHeld(t.sub) {
		return backend.TaskStatus{State: backend.TaskStateProcessing, ExpectedRecords: 10, ProcessedRecords: 1}, nil
	}

	res, ok := b.results[t.sub.Type]
	if !ok {
		res = backend.TaskStatus{State: backend.TaskStateSucceeded, ExpectedRecords: 10, ProcessedRecords: 10}
	}
	if res.State.IsTerminal() && !t.done {
		t.done = true
		b.running--
	}
	return res, nil
}

func (b *fakeBackend) Cancel(_ context.Context, taskID, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: unknown task %s", backend.ErrPermanent, taskID)
	}
	t.cancelled = true
	if !t.done {
		t.done = true
		b.running--
	}
	b.cancelled = append(b.cancelled, taskID)
	return nil
}

func (b *fakeBackend) TaskLogs(_ context.Context, taskID string, from, to int) ([]backend.SubTaskLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []backend.SubTaskLog
	for _, l := range b.logs[taskID] {
		if l.Number >= from && l.Number <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (b *fakeBackend) TaskReport(_ context.Context, taskID string) (backend.TaskReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	report, ok := b.reports[taskID]
	if !ok {
		return backend.TaskReport{}, fmt.Errorf("%w: unknown task %s", backend.ErrPermanent, taskID)
	}
	return report, nil
}

func (b *fakeBackend) isHeld(sub backend.Submission) bool {
	for _, key := range []string{sub.DatasetID, string(sub.Type)} {
		ch, ok := b.holds[key]
		if !ok {
			continue
		}
		select {
		case <-ch:
		default:
			return true
		}
	}
	return false
}

func (b *fakeBackend) submittedTypes() []domain.PluginType {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]domain.PluginType, len(b.submitted))
	for i, s := range b.submitted {
		types[i] = s.Type
	}
	return types
}

func (b *fakeBackend) cancelledTasks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

func (b *fakeBackend) peakRunning() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxRunning
}

// recordingQueue запоминает опубликованные executions.
type recordingQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (q *recordingQueue) PublishExecution(_ context.Context, id uuid.UUID, _ int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *recordingQueue) published() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}

// loopbackQueue доставляет опубликованные executions прямо в Dispatcher.
// Nack с requeue доставляет сообщение снова.
type loopbackQueue struct {
	d *Dispatcher
}

func (q *loopbackQueue) PublishExecution(_ context.Context, id uuid.UUID, _ int) error {
	q.deliver(id)
	return nil
}

func (q *loopbackQueue) deliver(id uuid.UUID) {
	ack := &fakeAck{redeliver: func() { q.deliver(id) }}
	q.d.Dispatch(context.Background(), id, ack)
}

// fakeAck — mq.Acknowledger для тестов.
type fakeAck struct {
	mu        sync.Mutex
	acked     int
	nacked    int
	requeued  int
	redeliver func()
}

func (a *fakeAck) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *fakeAck) Nack(requeue bool) error {
	a.mu.Lock()
	a.nacked++
	if requeue {
		a.requeued++
	}
	redeliver := a.redeliver
	a.mu.Unlock()

	if requeue && redeliver != nil {
		go redeliver()
	}
	return nil
}

func (a *fakeAck) counts() (acked, nacked int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acked, a.nacked
}

// testEnv — Service и Runner поверх memstore и fakeBackend.
type testEnv struct {
	stores  *memstore.Stores
	backend *fakeBackend
	queue   *recordingQueue
	service *Service
	runner  *Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	stores := memstore.New()
	be := newFakeBackend()
	queue := &recordingQueue{}
	logger := discardLogger()

	return &testEnv{
		stores:  stores,
		backend: be,
		queue:   queue,
		service: NewService(ServiceConfig{
			Executions:       stores.Executions,
			Workflows:        stores.Workflows,
			Datasets:         stores.Datasets,
			Queue:            queue,
			Backend:          be,
			CommitSettleTime: time.Minute,
			Logger:           logger,
		}),
		runner: NewRunner(RunnerConfig{
			Executions:   stores.Executions,
			Backend:      be,
			PollInterval: 5 * time.Millisecond,
			Logger:       logger,
		}),
	}
}

// addDataset регистрирует датасет с workflow из шагов steps.
func (e *testEnv) addDataset(t *testing.T, datasetID string, steps ...domain.PluginType) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, e.service.RegisterDataset(ctx, &domain.Dataset{ID: datasetID, Name: "Dataset " + datasetID}))
	if len(steps) == 0 {
		return
	}
	_, err := e.service.CreateWorkflow(ctx, datasetID, stepConfigs(steps...))
	require.NoError(t, err)
}

func (e *testEnv) execution(t *testing.T, id uuid.UUID) *domain.WorkflowExecution {
	t.Helper()
	exec, err := e.stores.Executions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return exec
}

func stepConfigs(steps ...domain.PluginType) []domain.PluginConfig {
	cfgs := make([]domain.PluginConfig, len(steps))
	for i, st := range steps {
		cfgs[i] = domain.PluginConfig{Type: st, Enabled: true}
		if st.IsHarvest() {
			cfgs[i].URL = "https://example.org/oai"
			cfgs[i].MetadataFormat = "edm"
		}
	}
	return cfgs
}

// finishedExecution — завершённый execution с шагами, закончившимися в finishedAt.
func finishedExecution(datasetID string, finishedAt time.Time, processed, errs int, steps ...domain.PluginType) *domain.WorkflowExecution {
	exec := domain.NewWorkflowExecution(datasetID, uuid.New(), stepConfigs(steps...), 0, "")
	for i := range exec.Plugins {
		p := &exec.Plugins[i]
		started := finishedAt.Add(-time.Minute)
		finished := finishedAt
		p.Status = domain.PluginStatusFinished
		p.StartedAt = &started
		p.FinishedAt = &finished
		p.Progress = domain.Progress{ExpectedRecords: processed, ProcessedRecords: processed, ErrorRecords: errs}
	}
	exec.Status = domain.WorkflowStatusFinished
	exec.FinishedAt = &finishedAt
	return exec
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
