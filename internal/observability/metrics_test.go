package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/api/chains", "200", time.Millisecond)
	m.IncFileState("VALID")
	m.ObserveJob("sip_generation", "succeeded", time.Second)
	m.ObserveIngestRequest("202", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rec.Code)
	}
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.IncFileState("ERROR")
	m.IncProductState("COMPLETED")
	m.ObserveStep("scan", 2*time.Second)
	m.ObserveJob("product_acquisition", "succeeded", time.Minute)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`dataprovider_acquisition_file_transitions_total{state="ERROR"} 1`,
		`dataprovider_acquisition_product_transitions_total{state="COMPLETED"} 1`,
		`dataprovider_jobs_runs_total{job_type="product_acquisition",status="succeeded"} 1`,
		`dataprovider_acquisition_step_duration_seconds_count{step="scan"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition", want)
		}
	}
}
