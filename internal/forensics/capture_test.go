package forensics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

func sampleEvent() *model.Event {
	return &model.Event{
		ID:        "ev-1",
		Timestamp: time.Now(),
		Kind:      model.KindNetwork,
		SourceIP:  "198.51.100.42",
		Severity:  model.SeverityHigh,
		Details: model.Details{
			"destination_ip": "10.0.0.5",
			"port":           22,
			"bytes":          900,
		},
	}
}

func sampleIncident(kind model.ThreatKind) *model.Incident {
	return &model.Incident{
		ID:       "inc-1",
		Kind:     kind,
		Severity: model.SeverityCritical,
		EventID:  "ev-1",
		SourceIP: "198.51.100.42",
	}
}

func TestDemoCapturer_ProducesCompleteReport(t *testing.T) {
	c := NewDemoCapturer()
	rep, err := c.Capture(context.Background(), sampleEvent(), sampleIncident(model.ThreatBruteforce))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.IncidentID != "inc-1" {
		t.Fatalf("expected incident id to propagate, got %q", rep.IncidentID)
	}
	if len(rep.Packets) != 5 {
		t.Fatalf("expected 5 synthetic packets, got %d", len(rep.Packets))
	}
	if len(rep.Processes) == 0 || len(rep.Connections) == 0 {
		t.Fatalf("expected demo processes and connections to be populated")
	}
	if len(rep.Recommended) == 0 {
		t.Fatalf("expected recommendations to be populated")
	}
}

func TestGenerateMockPackets_UsesThreatPayloadPreview(t *testing.T) {
	ev := sampleEvent()
	inc := sampleIncident(model.ThreatSQLInjection)
	packets := generateMockPackets(ev, inc, 5)
	for i, p := range packets {
		if p.Sequence != i+1 {
			t.Fatalf("packet %d: expected sequence %d, got %d", i, i+1, p.Sequence)
		}
		if !strings.Contains(p.PayloadPrev, "SQL") {
			t.Fatalf("expected SQL injection payload preview, got %q", p.PayloadPrev)
		}
	}
}

func TestGenerateMockPackets_UnknownThreatFallsBackToEncrypted(t *testing.T) {
	ev := sampleEvent()
	inc := sampleIncident(model.ThreatMLAnomaly)
	packets := generateMockPackets(ev, inc, 1)
	if packets[0].PayloadPrev != "[ENCRYPTED DATA]" {
		t.Fatalf("expected generic fallback payload, got %q", packets[0].PayloadPrev)
	}
}

func TestExtractIndicators_IncludesOptionalFields(t *testing.T) {
	ev := sampleEvent()
	ev.Details["process_name"] = "mimikatz"
	ev.Details["hash"] = "abc123malicious"
	ev.Details["username"] = "root"
	inc := sampleIncident(model.ThreatMalware)

	indicators := extractIndicators(ev, inc)
	joined := strings.Join(indicators, "|")
	for _, want := range []string{"Source IP: 198.51.100.42", "Destination IP: 10.0.0.5", "Process: mimikatz", "Hash: abc123malicious", "Username: root"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected indicators to contain %q, got %v", want, indicators)
		}
	}
}

func TestRecommendationsFor_KnownThreatIncludesBaseRecommendations(t *testing.T) {
	inc := sampleIncident(model.ThreatMalware)
	recs := recommendationsFor(inc)
	if len(recs) != len(threatRecommendations[model.ThreatMalware])+len(baseRecommendations) {
		t.Fatalf("expected specific + base recommendations, got %d entries", len(recs))
	}
	joined := strings.Join(recs, "|")
	if !strings.Contains(joined, "Isolate affected system immediately") {
		t.Fatalf("expected malware-specific recommendation, got %v", recs)
	}
	if !strings.Contains(joined, "Document all findings for incident report") {
		t.Fatalf("expected base recommendation, got %v", recs)
	}
}

func TestRecommendationsFor_UnknownThreatUsesDefaults(t *testing.T) {
	inc := sampleIncident(model.ThreatMLAnomaly)
	recs := recommendationsFor(inc)
	if len(recs) != len(defaultRecommendations)+len(baseRecommendations) {
		t.Fatalf("expected default + base recommendations, got %d entries", len(recs))
	}
}
