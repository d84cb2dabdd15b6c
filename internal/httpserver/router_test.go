package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arc-sentinel/sentinel/internal/anomaly"
	"github.com/arc-sentinel/sentinel/internal/config"
	"github.com/arc-sentinel/sentinel/internal/httpserver"
	"github.com/arc-sentinel/sentinel/internal/hub"
	Lm "github.com/arc-sentinel/sentinel/internal/middleware"
	"github.com/arc-sentinel/sentinel/internal/store"
	"github.com/arc-sentinel/sentinel/internal/telemetry"
	"github.com/arc-sentinel/sentinel/pkg/model"
)

const testSecret = "test-secret"

type fakeGateway struct {
	incidents map[string]*model.Incident
	events    []*model.Event
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{incidents: map[string]*model.Incident{}}
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
	f.incidents[inc.ID] = inc
	return nil
}
func (f *fakeGateway) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	return f.incidents[id], nil
}
func (f *fakeGateway) UpdateIncident(ctx context.Context, inc *model.Incident) error {
	f.incidents[inc.ID] = inc
	return nil
}
func (f *fakeGateway) ListIncidents(ctx context.Context, filters store.IncidentFilters) ([]*model.Incident, error) {
	out := make([]*model.Incident, 0, len(f.incidents))
	for _, inc := range f.incidents {
		out = append(out, inc)
	}
	return out, nil
}
func (f *fakeGateway) InsertReport(ctx context.Context, r *model.ForensicReport) error { return nil }
func (f *fakeGateway) GetReport(ctx context.Context, id string) (*model.ForensicReport, error) {
	return nil, nil
}
func (f *fakeGateway) ListReports(ctx context.Context, limit int) ([]*model.ForensicReport, error) {
	return nil, nil
}
func (f *fakeGateway) SaveModelBlob(ctx context.Context, blob []byte, trainedAt time.Time) error {
	return nil
}
func (f *fakeGateway) LoadModelBlob(ctx context.Context) ([]byte, time.Time, error) {
	return nil, time.Time{}, nil
}
func (f *fakeGateway) GetStats(ctx context.Context) (store.Stats, error) {
	return store.Stats{TotalIncidents: int64(len(f.incidents))}, nil
}
func (f *fakeGateway) MarkDeviceIsolated(ctx context.Context, deviceID, ip string) error { return nil }
func (f *fakeGateway) LogAudit(ctx context.Context, entry store.AuditEntry) error        { return nil }

type fakeSink struct{ received []*model.Event }

func (s *fakeSink) Ingest(ctx context.Context, ev *model.Event) { s.received = append(s.received, ev) }

func newTestRouter(t *testing.T, gw *fakeGateway) http.Handler {
	t.Helper()
	cfg := &config.Config{Auth: config.Auth{JWTSecret: testSecret}}
	identity := Lm.NewLocalIdentityProvider(testSecret, time.Hour)
	r, cleanup := httpserver.NewRouter(httpserver.RouterDeps{
		Cfg:      cfg,
		Store:    gw,
		Hub:      hub.New(nil),
		Model:    &anomaly.Holder{},
		LLM:      nil,
		Chains:   telemetry.NewChainInjector(),
		Pipeline: &fakeSink{},
		Identity: identity,
		Throttle: Lm.NewAuthThrottle(5, time.Minute),
	})
	t.Cleanup(cleanup)
	return r
}

func bearerFor(t *testing.T, username string) string {
	t.Helper()
	claims := Lm.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Username:         username,
		Verified:         true,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHealth_ReturnsOK(t *testing.T) {
	r := newTestRouter(t, newFakeGateway())
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

func TestIncidents_RequiresBearerToken(t *testing.T) {
	r := newTestRouter(t, newFakeGateway())
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/incidents")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401 without a token, got %d", resp.StatusCode)
	}
}

func TestIncidents_ListsWithValidToken(t *testing.T) {
	gw := newFakeGateway()
	gw.incidents["inc-1"] = &model.Incident{ID: "inc-1", Kind: model.ThreatBruteforce, Severity: model.SeverityHigh}
	r := newTestRouter(t, gw)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/incidents", nil)
	req.Header.Set("Authorization", "Bearer "+bearerFor(t, "analyst1"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	var incidents []model.Incident
	if err := json.NewDecoder(resp.Body).Decode(&incidents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("expected one incident, got %d", len(incidents))
	}
}

func TestIncidentResolve_UpdatesStatus(t *testing.T) {
	gw := newFakeGateway()
	gw.incidents["inc-2"] = &model.Incident{ID: "inc-2", Status: model.StatusActive}
	r := newTestRouter(t, gw)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	body := strings.NewReader(`{"resolution_note":"false positive","resolved_by":"analyst1"}`)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/incident/inc-2/resolve", body)
	req.Header.Set("Authorization", "Bearer "+bearerFor(t, "analyst1"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	if gw.incidents["inc-2"].Status != model.StatusResolved {
		t.Fatalf("expected incident to be resolved, got %s", gw.incidents["inc-2"].Status)
	}
}

func TestLogin_ThrottlesAfterRepeatedFailures(t *testing.T) {
	gw := newFakeGateway()
	r := newTestRouter(t, gw)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	var last *http.Response
	for i := 0; i < 6; i++ {
		resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", strings.NewReader(`{"username":"","password":""}`))
		if err != nil {
			t.Fatal(err)
		}
		last = resp
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("want 429 after repeated failures, got %d", last.StatusCode)
	}
}

func TestSimulateAttack_QueuesEvents(t *testing.T) {
	sink := &fakeSink{}
	cfg := &config.Config{Auth: config.Auth{JWTSecret: testSecret}}
	identity := Lm.NewLocalIdentityProvider(testSecret, time.Hour)
	r, cleanup := httpserver.NewRouter(httpserver.RouterDeps{
		Cfg:      cfg,
		Store:    newFakeGateway(),
		Hub:      hub.New(nil),
		Model:    &anomaly.Holder{},
		Chains:   telemetry.NewChainInjector(),
		Pipeline: sink,
		Identity: identity,
		Throttle: Lm.NewAuthThrottle(5, time.Minute),
	})
	t.Cleanup(cleanup)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/api/simulate/attack", "application/json", strings.NewReader(`{"chain":"bruteforce"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202, got %d", resp.StatusCode)
	}
}
