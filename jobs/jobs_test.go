package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/flooringops/opsdesk/internal/jobs"
	"github.com/flooringops/opsdesk/internal/shared"
	"github.com/flooringops/opsdesk/internal/tasks"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, task *asynq.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type recordingNotifier struct {
	notes []shared.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n shared.Notification) {
	r.notes = append(r.notes, n)
}

type fakeMarker struct {
	ids []int64
	err error
	at  time.Time
}

func (f *fakeMarker) MarkOverdue(_ context.Context, now time.Time) ([]int64, error) {
	f.at = now
	return f.ids, f.err
}

type fakeCounter map[tasks.Kind]int

func (f fakeCounter) Outstanding(context.Context) (map[tasks.Kind]int, error) {
	return f, nil
}

var fixedNow = time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)

func TestNotifierEnqueuesNotifyTask(t *testing.T) {
	queue := &fakeQueue{}
	NewNotifier(queue, nil).Notify(context.Background(), shared.Notification{
		Kind: shared.NotifySuccess, Event: "quote.sent", Entity: "quote", EntityID: 7, Message: "Quote sent",
	})

	require.Len(t, queue.tasks, 1)
	assert.Equal(t, TaskNotifySend, queue.tasks[0].Type())
	var got shared.Notification
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &got))
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.At.IsZero())
	assert.Equal(t, int64(7), got.EntityID)
}

func TestNotifierSwallowsQueueErrors(t *testing.T) {
	queue := &fakeQueue{err: errors.New("redis down")}
	assert.NotPanics(t, func() {
		NewNotifier(queue, nil).Notify(context.Background(), shared.Notification{Event: "job.started"})
	})
	var nilNotifier *Notifier
	nilNotifier.Notify(context.Background(), shared.Notification{})
}

func TestMarkOverdueSweep(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	marker := &fakeMarker{ids: []int64{3, 4}}
	sweeps := &Sweeps{Invoices: marker, Metrics: metrics, clock: func() time.Time { return fixedNow }}

	require.NoError(t, sweeps.HandleMarkOverdue(context.Background(), NewMarkOverdueTask()))
	assert.Equal(t, fixedNow, marker.at)

	marker.err = errors.New("db gone")
	require.Error(t, sweeps.HandleMarkOverdue(context.Background(), NewMarkOverdueTask()))

	count, err := testutil.GatherAndCount(registry, "opsdesk_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one success series and one failure series")
}

func TestQuoteFollowUpNotifiesOnlyWhenDue(t *testing.T) {
	notes := &recordingNotifier{}
	sweeps := &Sweeps{
		Tasks:    fakeCounter{tasks.KindQuoteFollowUp: 2, tasks.KindQuoteExpired: 1, tasks.KindLowStock: 4},
		Notifier: notes,
		clock:    func() time.Time { return fixedNow },
	}
	require.NoError(t, sweeps.HandleQuoteFollowUp(context.Background(), NewQuoteFollowUpTask()))
	require.Len(t, notes.notes, 1)
	assert.Equal(t, "quote.follow_up_due", notes.notes[0].Event)
	assert.Equal(t, "2 quotes need a follow-up, 1 have expired", notes.notes[0].Message)

	sweeps.Tasks = fakeCounter{}
	require.NoError(t, sweeps.HandleQuoteFollowUp(context.Background(), NewQuoteFollowUpTask()))
	assert.Len(t, notes.notes, 1)
}

type fakePruner struct{ olderThan time.Duration }

func (f *fakePruner) Cleanup(_ context.Context, olderThan time.Duration) error {
	f.olderThan = olderThan
	return nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	pruner := &fakePruner{}
	sweeps := &Sweeps{Keys: pruner}
	require.NoError(t, sweeps.HandleIdempotencyCleanup(context.Background(), NewIdempotencyCleanupTask()))
	assert.Equal(t, 30*24*time.Hour, pruner.olderThan)
}

func TestSweepsRequireDependencies(t *testing.T) {
	var sweeps Sweeps
	assert.Error(t, sweeps.HandleMarkOverdue(context.Background(), NewMarkOverdueTask()))
	assert.Error(t, sweeps.HandleQuoteFollowUp(context.Background(), NewQuoteFollowUpTask()))
	assert.Error(t, sweeps.HandleIdempotencyCleanup(context.Background(), NewIdempotencyCleanupTask()))
}

func TestNotifyHandler(t *testing.T) {
	var delivered []shared.Notification
	handler := NotifyHandler(nil, nil, func(_ context.Context, n shared.Notification) error {
		delivered = append(delivered, n)
		return nil
	})

	task, err := NewNotifyTask(shared.Notification{ID: "n-1", Event: "invoice.payment_recorded"})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	require.Len(t, delivered, 1)
	assert.Equal(t, "n-1", delivered[0].ID)

	err = handler(context.Background(), asynq.NewTask(TaskNotifySend, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	require.NoError(t, NotifyHandler(nil, nil, nil)(context.Background(), task))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestJobsHealth(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", h.MountRoutes)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rec
	}

	rec := serve(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3}}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 3, body.Pending)

	rec = serve(NewHandler(fakeInspector{err: asynq.ErrQueueNotFound}, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(NewHandler(fakeInspector{err: errors.New("redis down")}, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewWorkerRejectsDuplicateHandlers(t *testing.T) {
	noop := func(context.Context, *asynq.Task) error { return nil }
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers: []TaskHandler{
			{Type: TaskInvoicesMarkOverdue, Handler: noop},
			{Type: TaskInvoicesMarkOverdue, Handler: noop},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate handler")
}

func TestNilWorkerRun(t *testing.T) {
	var w *Worker
	require.Error(t, w.Run(context.Background()))
}
