package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/memstore"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestGLIntegrityCountsViolations(t *testing.T) {
	store := memstore.New()
	store.Bookings().Append(bookings.Booking{Reference: "OK", Lines: []bookings.Line{
		{AccountID: 1, Debit: dec("10"), Credit: decimal.Zero},
		{AccountID: 2, Debit: decimal.Zero, Credit: dec("10")},
	}})
	store.Bookings().Append(bookings.Booking{Reference: "SKEW", Lines: []bookings.Line{
		{AccountID: 1, Debit: dec("10"), Credit: decimal.Zero},
		{AccountID: 2, Debit: decimal.Zero, Credit: dec("9")},
		{AccountID: 3, Debit: decimal.Zero, Credit: decimal.Zero},
	}})

	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewGLIntegrityJob(bookings.NewService(store.Bookings()), nil, metrics)
	task, err := NewGLIntegrityTask("")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1.0, violations(t, registry, "booking_imbalanced"))
	require.Equal(t, 1.0, violations(t, registry, "line_malformed"))
}

type failingChecker struct{}

func (failingChecker) CheckIntegrity(context.Context) (bookings.IntegrityReport, error) {
	return bookings.IntegrityReport{}, errors.New("db down")
}

func TestGLIntegrityRecordsFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewGLIntegrityJob(failingChecker{}, nil, metrics)
	task, err := NewGLIntegrityTask("manual")
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
	families, err := registry.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "odyssey_jobs_failures_total" {
			found = true
			require.Equal(t, 1.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.True(t, found)
}

func TestHandleRejectsBadPayload(t *testing.T) {
	job := NewReceiptAuditJob(memstore.New().Receivables(), nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskReceiptAudit, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReceiptAuditFindsUnbalancedReceipts(t *testing.T) {
	store := memstore.New()
	store.Receivables().PutReceipt(ar.Receipt{Reference: "RC-1", Due: dec("50"), Paid: dec("20"), Remaining: dec("30"), Status: ar.StatusPending})
	store.Receivables().PutReceipt(ar.Receipt{Reference: "RC-2", Due: dec("50"), Paid: dec("20"), Remaining: dec("20"), Status: ar.StatusPending})
	store.Receivables().PutReceipt(ar.Receipt{Reference: "RC-3", Due: dec("50"), Paid: dec("50"), Remaining: decimal.Zero, Status: ar.StatusPending})

	registry := prometheus.NewRegistry()
	job := NewReceiptAuditJob(store.Receivables(), nil, jobmetrics.NewMetrics(registry))
	task, err := NewReceiptAuditTask("")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 2.0, violations(t, registry, "receipt_unbalanced"))
}

type fakeCleaner struct {
	olderThan time.Duration
	pruned    int64
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.pruned, nil
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	cleaner := &fakeCleaner{pruned: 4}
	job := NewIdempotencyCleanupJob(cleaner, 24*time.Hour, nil, nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, cleaner.olderThan)

	task, err = NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, cleaner.olderThan)

	job.Retention = 0
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, cleaner.olderThan)
}

func TestNewTaskByName(t *testing.T) {
	for _, name := range []string{TaskGLIntegrity, TaskReceiptAudit, TaskIdempotencyCleanup} {
		task, err := NewTaskByName(name, "manual", time.Hour)
		require.NoError(t, err)
		require.Equal(t, name, task.Type())
	}
	_, err := NewTaskByName("mail:send", "manual", 0)
	require.Error(t, err)
}

type stubEnqueuer struct{ names []string }

func (s *stubEnqueuer) Trigger(_ context.Context, name string, retention time.Duration) (*asynq.TaskInfo, error) {
	if _, err := NewTaskByName(name, "manual", retention); err != nil {
		return nil, err
	}
	s.names = append(s.names, name)
	return &asynq.TaskInfo{ID: "t-1"}, nil
}

func TestHandlerRunAndHealth(t *testing.T) {
	enq := &stubEnqueuer{}
	router := chi.NewRouter()
	router.Route("/jobs", NewHandler(nil, enq, nil).MountRoutes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/ledger:gl_integrity/run", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"id":"t-1"`)
	require.Equal(t, []string{TaskGLIntegrity}, enq.names)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/unknown/run", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"retry":0,"archived":0}`, rec.Body.String())
}

func violations(t *testing.T, registry *prometheus.Registry, check string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "odyssey_ledger_integrity_violations_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "check" && l.GetValue() == check {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("no violations recorded for %s", check)
	return 0
}
