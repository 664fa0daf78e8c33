package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsHandlerExposesDomainMetrics(t *testing.T) {
	metrics := NewMetrics()
	domain := metrics.Domain()
	domain.ObserveTransition("draft", "quoted")
	domain.AddBatchesPlanned("plan", 3)
	domain.ObserveDeviation("packing")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`bottleops_order_transitions_total{from="draft",to="quoted"} 1`,
		`bottleops_batches_planned_total{origin="plan"} 3`,
		`bottleops_workflow_deviations_total{step="packing"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body, got: %s", want, body)
		}
	}
}

func TestNilDomainMetricsIsNoop(t *testing.T) {
	var m *DomainMetrics
	m.ObserveTransition("a", "b")
	m.AddBatchesPlanned("plan", 1)
	m.ObserveDeviation("x")
	m.ObserveTierFallback("p")
	m.ObserveIntentFailure("notify")
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

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "bottleops_http_requests_total{code=\"418\",method=\"GET\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "bottleops_http_request_duration_seconds_bucket{method=\"GET\",route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestMetricsRegistryCarriesRuntimeCollectors(t *testing.T) {
	metrics := NewMetrics()
	var nilMetrics *Metrics
	if nilMetrics.Domain() != nil {
		t.Fatalf("expected nil domain metrics from nil Metrics")
	}

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{"go_goroutines", "bottleops_http_requests_in_flight 0"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body, got: %s", want, body)
		}
	}
}
