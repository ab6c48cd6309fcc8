package observability_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/moxie-protocol/auction-indexer/internal/observability"
)

func TestHealthReadinessLifecycle(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness before SetReady = %d, want 503", rec.Code)
	}

	h.ObserveApplied(42)
	h.SetReady(true)

	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readiness after SetReady = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode readiness body: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("status = %v, want ready", body["status"])
	}
	if seq, ok := body["applied_sequence"].(float64); !ok || int64(seq) != 42 {
		t.Errorf("applied_sequence = %v, want 42", body["applied_sequence"])
	}
	if _, ok := body["last_event_age"].(string); !ok {
		t.Errorf("last_event_age missing from ready payload: %v", body)
	}

	h.SetReady(false)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness after drain = %d, want 503", rec.Code)
	}
}

func TestHealthAppliedSequenceDefaults(t *testing.T) {
	h := observability.NewHealthChecker()
	if got := h.AppliedSequence(); got != -1 {
		t.Errorf("applied sequence before any event = %d, want -1", got)
	}

	h.SetReady(true)
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode readiness body: %v", err)
	}
	if _, present := body["last_event_age"]; present {
		t.Error("last_event_age should be omitted before the first applied event")
	}
}

func TestHealthLiveness(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode liveness body: %v", err)
	}
	if body["status"] != "alive" {
		t.Errorf("status = %v, want alive", body["status"])
	}
}
