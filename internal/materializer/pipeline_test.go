package materializer

import (
	"context"
	"testing"
	"time"

	"github.com/arc-sentinel/sentinel/internal/anomaly"
	"github.com/arc-sentinel/sentinel/internal/hub"
	"github.com/arc-sentinel/sentinel/internal/rules"
	"github.com/arc-sentinel/sentinel/internal/store"
	"github.com/arc-sentinel/sentinel/pkg/model"
)

// fakeGateway is a minimal in-memory store.Gateway sufficient to observe
// what the pipeline persists, without a real Redis.
type fakeGateway struct {
	events    []*model.Event
	incidents []*model.Incident
	reports   []*model.ForensicReport
}

func (f *fakeGateway) CountEvents(ctx context.Context) (int64, error) { return int64(len(f.events)), nil }
func (f *fakeGateway) CountEventsWithType(ctx context.Context, kind model.Kind) (int64, error) {
	return 0, nil
}
func (f *fakeGateway) CountEventsWithSource(ctx context.Context, ip string) (int64, error) {
	return 0, nil
}
func (f *fakeGateway) CountEventsSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeGateway) InsertEvent(ctx context.Context, ev *model.Event) error {
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeGateway) ListEvents(ctx context.Context, limit int, filters store.EventFilters) ([]*model.Event, error) {
	return f.events, nil
}
func (f *fakeGateway) InsertIncident(ctx context.Context, inc *model.Incident) error {
	f.incidents = append(f.incidents, inc)
	return nil
}
func (f *fakeGateway) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	return nil, nil
}
func (f *fakeGateway) UpdateIncident(ctx context.Context, inc *model.Incident) error { return nil }
func (f *fakeGateway) ListIncidents(ctx context.Context, filters store.IncidentFilters) ([]*model.Incident, error) {
	return f.incidents, nil
}
func (f *fakeGateway) InsertReport(ctx context.Context, r *model.ForensicReport) error {
	f.reports = append(f.reports, r)
	return nil
}
func (f *fakeGateway) GetReport(ctx context.Context, id string) (*model.ForensicReport, error) {
	return nil, nil
}
func (f *fakeGateway) ListReports(ctx context.Context, limit int) ([]*model.ForensicReport, error) {
	return f.reports, nil
}
func (f *fakeGateway) SaveModelBlob(ctx context.Context, blob []byte, trainedAt time.Time) error {
	return nil
}
func (f *fakeGateway) LoadModelBlob(ctx context.Context) ([]byte, time.Time, error) {
	return nil, time.Time{}, nil
}
func (f *fakeGateway) GetStats(ctx context.Context) (store.Stats, error) { return store.Stats{}, nil }
func (f *fakeGateway) MarkDeviceIsolated(ctx context.Context, deviceID, ip string) error {
	return nil
}
func (f *fakeGateway) LogAudit(ctx context.Context, entry store.AuditEntry) error { return nil }

// fakeFeatures returns a fixed feature context regardless of the event,
// so tests can drive the anomaly path deterministically.
type fakeFeatures struct {
	fc model.FeatureContext
}

func (f *fakeFeatures) Derive(ctx context.Context, ev *model.Event) model.FeatureContext {
	return f.fc
}

// fakeCapturer records which incidents it was asked to capture.
type fakeCapturer struct {
	calls int
	err   error
}

func (f *fakeCapturer) Capture(ctx context.Context, ev *model.Event, inc *model.Incident) (*model.ForensicReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &model.ForensicReport{ID: "report-1", IncidentID: inc.ID, CapturedAt: time.Now().UTC()}, nil
}

func bruteforceEvent(ip string) *model.Event {
	return &model.Event{
		ID:        "ev-1",
		Timestamp: time.Now().UTC(),
		Kind:      model.KindLogin,
		SourceIP:  ip,
		Severity:  model.SeverityMedium,
		Details:   model.Details{"success": false},
	}
}

func TestProcess_BenignEventPersistsAndBroadcastsOnly(t *testing.T) {
	gw := &fakeGateway{}
	h := hub.New(nil)
	p := New(gw, h, &fakeFeatures{}, nil, rules.NewEngine(), &fakeCapturer{}, nil)

	ev := &model.Event{ID: "ev-ok", Timestamp: time.Now().UTC(), Kind: model.KindOS, Severity: model.SeverityLow}
	p.Process(context.Background(), ev)

	if len(gw.events) != 1 {
		t.Fatalf("expected event persisted, got %d", len(gw.events))
	}
	if len(gw.incidents) != 0 {
		t.Fatalf("expected no incident for a benign event, got %d", len(gw.incidents))
	}
	if !ev.Enriched {
		t.Fatalf("expected event to be marked enriched")
	}
}

func TestProcess_RuleTriggerMaterializesIncidentAndCapturesForensics(t *testing.T) {
	gw := &fakeGateway{}
	h := hub.New(nil)
	capturer := &fakeCapturer{}
	p := New(gw, h, &fakeFeatures{}, nil, rules.NewEngine(), capturer, nil)

	ip := "203.0.113.77"
	for i := 0; i < 6; i++ {
		ev := bruteforceEvent(ip)
		ev.ID = "ev-bf"
		p.Process(context.Background(), ev)
	}

	if len(gw.incidents) == 0 {
		t.Fatalf("expected a bruteforce incident after repeated failed logins")
	}
	inc := gw.incidents[len(gw.incidents)-1]
	if inc.Kind != model.ThreatBruteforce {
		t.Fatalf("expected bruteforce incident, got %s", inc.Kind)
	}
	if capturer.calls == 0 {
		t.Fatalf("expected forensic capture to run for a materialized incident")
	}
	if len(gw.reports) == 0 {
		t.Fatalf("expected forensic report persisted")
	}
}

func TestScoreAndEvaluate_MLAnomalyOnlyWhenNoHigherSeverityRule(t *testing.T) {
	gw := &fakeGateway{}
	holder := &anomaly.Holder{}

	vectors := make([][]float64, 20)
	for i := range vectors {
		vectors[i] = []float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	}
	m, err := anomaly.Train(vectors, 50, 0.0, 10)
	if err != nil {
		t.Fatalf("unexpected training error: %v", err)
	}
	holder.Store(m)

	fc := model.FeatureContext{TypeRarity: 5, IPRarity: 5, EventFrequency: 5, PayloadEntropy: 5, SeverityScore: 5, HourNorm: 5, LastOctet: 5, PortNorm: 5, BytesNorm: 5, DetailsComplexity: 5}
	p := New(gw, nil, &fakeFeatures{fc: fc}, holder, rules.NewEngine(), &fakeCapturer{}, nil)

	ev := &model.Event{ID: "ev-anom", Timestamp: time.Now().UTC(), Kind: model.KindNetwork, Severity: model.SeverityLow}
	ev.Features = fc

	verdict := p.scoreAndEvaluate(ev)
	if !verdict.IsThreat || verdict.Kind != model.ThreatMLAnomaly {
		t.Fatalf("expected an ml_anomaly verdict for a far-outlier vector, got %+v", verdict)
	}
	if !ev.MLFlagged {
		t.Fatalf("expected event to be marked ML-flagged")
	}
}
