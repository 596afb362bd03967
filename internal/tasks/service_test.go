package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flooringops/opsdesk/internal/shared"
)

var (
	office = shared.Actor{ID: "staff-1", Role: shared.RoleStaff}
	fitter = shared.Actor{ID: "inst-1", Role: shared.RoleInstaller}
	clock  = time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)
)

type memoryRepo struct {
	tasks    map[int64]Task
	nextID   int64
	snapshot Snapshot
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{tasks: make(map[int64]Task)}
}

func (r *memoryRepo) Insert(_ context.Context, t Task) (int64, error) {
	r.nextID++
	t.ID = r.nextID
	t.Key = fmt.Sprintf("manual:%d", t.ID)
	t.Source = SourceManual
	t.Kind = KindManual
	t.CreatedAt = clock
	r.tasks[t.ID] = t
	return t.ID, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (*Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *memoryRepo) ListManual(_ context.Context, ownerID string, includeCompleted bool) ([]Task, error) {
	var out []Task
	for _, t := range r.tasks {
		if t.OwnerID != ownerID || (t.Completed && !includeCompleted) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *memoryRepo) Update(_ context.Context, id int64, updates map[string]interface{}) error {
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	for col, v := range updates {
		switch col {
		case "title":
			t.Title = v.(string)
		case "description":
			t.Description = v.(string)
		case "due_date":
			d := v.(time.Time)
			t.DueDate = &d
		case "completed":
			t.Completed = v.(bool)
		}
	}
	r.tasks[id] = t
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, id int64) error {
	if _, ok := r.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.tasks, id)
	return nil
}

func (r *memoryRepo) Snapshot(context.Context, time.Time) (Snapshot, error) {
	return r.snapshot, nil
}

func ptr[T any](v T) *T { return &v }

func sampleSnapshot() Snapshot {
	return Snapshot{
		NewEnquiries: []EnquiryRef{{ID: 1, Name: "Jane Doe", CreatedAt: clock.Add(-time.Hour)}},
		SentQuotes: []QuoteRef{
			{ID: 10, Name: "Hall carpet", Status: "sent", SentAt: ptr(clock.AddDate(0, 0, -8))},
			{ID: 11, Name: "Kitchen vinyl", Status: "sent", SentAt: ptr(clock.AddDate(0, 0, -2))},
			{ID: 12, Name: "Stairs", Status: "sent", SentAt: ptr(clock.AddDate(0, 0, -1)), ExpiryDate: ptr(clock.AddDate(0, 0, -1))},
		},
		ReadyQuotes: []QuoteRef{{ID: 13, Name: "Lounge oak", Status: "ready_for_invoicing"}},
		PendingJobs: []JobRef{
			{ID: 20, Title: "Fit hall", AssignedInstallerID: ptr("inst-1"), ScheduledDate: ptr(clock.AddDate(0, 0, 3))},
			{ID: 21, Title: "Fit kitchen", AssignedInstallerID: ptr("inst-2")},
		},
		RejectedJobs:    []JobRef{{ID: 22, Title: "Fit bedroom", RejectionReason: ptr("van broken")}},
		OverdueInvoices: []InvoiceRef{{ID: 30, InvoiceNumber: "INV-202406-0001", DueDate: clock.AddDate(0, 0, -5), Balance: 60}},
		LowStock:        []StockRef{{ID: 40, Name: "Grout", StockLevel: 2, MinLevel: 5}},
	}
}

func kinds(list []Task) map[Kind][]int64 {
	out := make(map[Kind][]int64)
	for _, t := range list {
		out[t.Kind] = append(out[t.Kind], t.RefID)
	}
	return out
}

func TestDeriveForStaff(t *testing.T) {
	got := kinds(Derive(sampleSnapshot(), office, clock, 7*24*time.Hour))

	assert.Equal(t, []int64{1}, got[KindNewEnquiry])
	assert.Equal(t, []int64{10}, got[KindQuoteFollowUp], "quote sent 2 days ago is not due yet")
	assert.Equal(t, []int64{12}, got[KindQuoteExpired])
	assert.Equal(t, []int64{13}, got[KindReadyToInvoice])
	assert.Equal(t, []int64{20, 21}, got[KindAwaitingAcceptance])
	assert.Equal(t, []int64{22}, got[KindRescheduleJob])
	assert.Equal(t, []int64{30}, got[KindOverdueInvoice])
	assert.Equal(t, []int64{40}, got[KindLowStock])
}

func TestDeriveForInstallerOnlyShowsOwnJobs(t *testing.T) {
	got := Derive(sampleSnapshot(), fitter, clock, 7*24*time.Hour)
	require.Len(t, got, 1)
	assert.Equal(t, KindAwaitingAcceptance, got[0].Kind)
	assert.Equal(t, int64(20), got[0].RefID)
	assert.Equal(t, "awaiting_acceptance:job:20", got[0].Key)
}

func TestDeriveRejectedJobTitleCarriesReason(t *testing.T) {
	got := Derive(Snapshot{RejectedJobs: sampleSnapshot().RejectedJobs}, office, clock, time.Hour)
	require.Len(t, got, 1)
	assert.True(t, strings.HasSuffix(got[0].Title, "(van broken)"))
}

func newTestService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	return NewService(repo, ServiceConfig{Now: func() time.Time { return clock }}), repo
}

func TestListMergesManualAndSystemTasks(t *testing.T) {
	svc, repo := newTestService()
	repo.snapshot = sampleSnapshot()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateTaskRequest{Title: "Order samples", DueDate: ptr(clock.AddDate(0, 0, -10))}, office)
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateTaskRequest{Title: "Someone else's"}, shared.Actor{ID: "staff-2", Role: shared.RoleStaff})
	require.NoError(t, err)

	list, err := svc.List(ctx, ListRequest{}, office)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, "Order samples", list[0].Title, "earliest due date sorts first")
	assert.Equal(t, SourceManual, list[0].Source)
	for _, task := range list {
		assert.NotEqual(t, "Someone else's", task.Title)
	}

	system, err := svc.List(ctx, ListRequest{Source: SourceSystem}, office)
	require.NoError(t, err)
	assert.Len(t, system, len(list)-1)
	for _, task := range system {
		assert.Equal(t, SourceSystem, task.Source)
		assert.Zero(t, task.ID)
	}
}

func TestCompleteAndOwnership(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateTaskRequest{Title: "  Call supplier  ", RefEntity: "quote", RefID: 10}, office)
	require.NoError(t, err)
	assert.Equal(t, "Call supplier", task.Title)

	_, err = svc.Complete(ctx, task.ID, fitter)
	require.ErrorIs(t, err, shared.ErrForbidden)

	done, err := svc.Complete(ctx, task.ID, office)
	require.NoError(t, err)
	assert.True(t, done.Completed)

	open, err := svc.List(ctx, ListRequest{Source: SourceManual}, office)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := svc.List(ctx, ListRequest{Source: SourceManual, IncludeCompleted: true}, office)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.ErrorIs(t, svc.Delete(ctx, task.ID, fitter), ErrNotOwner)
	require.NoError(t, svc.Delete(ctx, task.ID, office))
	_, err = svc.Complete(ctx, task.ID, office)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateTaskRequest{Title: "   "}, office)
	var fieldErrs validator.ValidationErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Equal(t, "title", fieldErrs[0].Field())

	_, err = svc.Create(context.Background(), CreateTaskRequest{Title: "Ref", RefEntity: "planet", RefID: 1}, office)
	assert.Error(t, err)
}

func TestHandlerListRequiresActor(t *testing.T) {
	svc, _ := newTestService()
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/tasks?source=bogus", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), office))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), office))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestOutstandingCountsOfficeView(t *testing.T) {
	repo := newMemoryRepo()
	repo.snapshot = sampleSnapshot()
	svc := NewService(repo, ServiceConfig{Now: func() time.Time { return clock }})

	counts, err := svc.Outstanding(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[KindQuoteFollowUp])
	assert.Equal(t, 1, counts[KindQuoteExpired])
	assert.Equal(t, 2, counts[KindAwaitingAcceptance])
	assert.Zero(t, counts[KindManual])
}
