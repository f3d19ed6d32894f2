package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesLedgerCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.Ledger().ObservePosting("SALES_ORDER", "post")
	metrics.Ledger().ObserveFailure("SALES_RETURN", "over_return")
	metrics.Ledger().ObserveAllocation("partial")

	body := scrape(t, metrics)
	for _, want := range []string{
		`odyssey_ledger_postings_total{action="post",source="SALES_ORDER"} 1`,
		`odyssey_ledger_posting_failures_total{kind="over_return",source="SALES_RETURN"} 1`,
		`odyssey_ar_allocations_total{outcome="partial"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %s, got: %s", want, body)
		}
	}
}

func TestNilLedgerMetricsIsSafe(t *testing.T) {
	var m *LedgerMetrics
	m.ObservePosting("x", "y")
	m.ObserveFailure("x", "y")
	m.ObserveAllocation("z")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",method=\"GET\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestMetricsIncludeRuntimeCollectors(t *testing.T) {
	body := scrape(t, NewMetrics())
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go collector output, got: %s", body)
	}
}

func TestUnroutedRequestsAreLabelledUnmatched(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.NotFoundHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/nowhere", nil))

	body := scrape(t, metrics)
	if !strings.Contains(body, `odyssey_http_requests_total{code="404",method="POST",route="unmatched"} 1`) {
		t.Fatalf("expected unmatched route label, got: %s", body)
	}
}
