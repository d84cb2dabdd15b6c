package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

func sampleIncident() *model.Incident {
	return &model.Incident{
		ID:          "inc-1",
		Kind:        model.ThreatBruteforce,
		Severity:    model.SeverityHigh,
		Description: "repeated failed logins from 10.1.1.1",
		Confidence:  0.8,
		Status:      model.StatusActive,
	}
}

func sampleReport() *model.ForensicReport {
	return &model.ForensicReport{
		Indicators:  []string{"Source IP: 10.1.1.1"},
		Recommended: []string{"Block source IP", "Reset passwords"},
		System:      model.SystemSnapshot{CPUPercent: 10, MemoryPercent: 20, DiskPercent: 30},
	}
}

func TestFallbackClient_IncludesIncidentFields(t *testing.T) {
	c := NewFallbackClient()
	summary := c.SummarizeIncident(context.Background(), sampleIncident(), sampleReport())

	for _, want := range []string{"bruteforce", "HIGH", "Source IP: 10.1.1.1", "Block source IP"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("expected summary to contain %q, got:\n%s", want, summary)
		}
	}
}

func TestFallbackClient_HandlesNilReport(t *testing.T) {
	c := NewFallbackClient()
	summary := c.SummarizeIncident(context.Background(), sampleIncident(), nil)
	if !strings.Contains(summary, "None identified") {
		t.Fatalf("expected graceful degradation with nil report, got:\n%s", summary)
	}
}

func TestHTTPClient_FallsBackOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL, APIKey: "test", Model: "test-model"})
	summary := c.SummarizeIncident(context.Background(), sampleIncident(), sampleReport())
	if !strings.Contains(summary, "AI summary unavailable") {
		t.Fatalf("expected fallback summary on server error, got:\n%s", summary)
	}
}

func TestHTTPClient_UsesResponseText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"generated narrative"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL, APIKey: "test", Model: "test-model"})
	summary := c.SummarizeIncident(context.Background(), sampleIncident(), sampleReport())
	if summary != "generated narrative" {
		t.Fatalf("expected generated narrative to pass through, got %q", summary)
	}
}
