package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthzReturnsOK(t *testing.T) {
	m := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpointExposesRegisteredCounters(t *testing.T) {
	m := New(nil)
	m.RecordScopeDecision("ALLOW")
	m.RecordKillSwitchTrigger()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "cyberredd_scope_decisions_total") {
		t.Fatalf("expected scope_decisions_total metric in output")
	}
	if !strings.Contains(body, "cyberredd_killswitch_triggers_total") {
		t.Fatalf("expected killswitch_triggers_total metric in output")
	}
}
