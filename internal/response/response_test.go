package response

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

type fakeMarker struct {
	err error
}

func (f *fakeMarker) MarkDeviceIsolated(ctx context.Context, deviceID, sourceIP string) error {
	return f.err
}

func newTestExecutor(t *testing.T, devices DeviceMarker) *Executor {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewExecutor(rdb, devices)
}

func TestExecute_BruteforceQuarantinesDevice(t *testing.T) {
	e := newTestExecutor(t, &fakeMarker{})
	inc := &model.Incident{ID: "inc-1", Kind: model.ThreatBruteforce, Severity: model.SeverityHigh, SourceIP: "10.1.1.1"}
	ev := &model.Event{}

	summary := e.Execute(context.Background(), inc, ev)
	if !summary.Success {
		t.Fatalf("expected success, got %+v", summary)
	}
	if len(summary.ActionsTaken) != 1 || summary.ActionsTaken[0].Action != "quarantine_device" {
		t.Fatalf("expected single quarantine_device action, got %+v", summary.ActionsTaken)
	}

	active, err := e.ActiveQuarantines(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 || active[0].SourceIP != "10.1.1.1" {
		t.Fatalf("expected one active quarantine recorded, got %+v", active)
	}
}

func TestExecute_CriticalSeverityAlwaysEscalatesAndEmails(t *testing.T) {
	e := newTestExecutor(t, &fakeMarker{})
	inc := &model.Incident{ID: "inc-2", Kind: model.ThreatDDoS, Severity: model.SeverityCritical}
	ev := &model.Event{}

	summary := e.Execute(context.Background(), inc, ev)
	if len(summary.ActionsTaken) != 2 {
		t.Fatalf("expected escalate + email actions for critical incident, got %+v", summary.ActionsTaken)
	}
	actions := map[string]bool{}
	for _, a := range summary.ActionsTaken {
		actions[a.Action] = true
	}
	if !actions["escalate_notification"] || !actions["send_alert_email"] {
		t.Fatalf("expected both escalate_notification and send_alert_email, got %+v", summary.ActionsTaken)
	}
}

func TestExecute_MalwareIsolatesProcessWhenPIDPresent(t *testing.T) {
	e := newTestExecutor(t, &fakeMarker{})
	inc := &model.Incident{ID: "inc-3", Kind: model.ThreatMalware, Severity: model.SeverityHigh}
	ev := &model.Event{Details: model.Details{"pid": 4242}}

	summary := e.Execute(context.Background(), inc, ev)
	if len(summary.ActionsTaken) != 1 || summary.ActionsTaken[0].Action != "isolate_process" {
		t.Fatalf("expected isolate_process action, got %+v", summary.ActionsTaken)
	}

	active, err := e.ActiveIsolations(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 || active[0].PID != 4242 {
		t.Fatalf("expected one active isolation recorded, got %+v", active)
	}
}

func TestExecute_PrivilegeEscalationRevokesSession(t *testing.T) {
	e := newTestExecutor(t, &fakeMarker{})
	inc := &model.Incident{ID: "inc-4", Kind: model.ThreatPrivilegeEscalation, Severity: model.SeverityCritical}
	ev := &model.Event{Details: model.Details{"username": "user1"}}

	summary := e.Execute(context.Background(), inc, ev)
	found := false
	for _, a := range summary.ActionsTaken {
		if a.Action == "revoke_user_session" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected revoke_user_session action, got %+v", summary.ActionsTaken)
	}

	revoked, err := e.RevokedSessions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(revoked) != 1 || revoked[0].UserID != "user1" {
		t.Fatalf("expected one revoked session recorded, got %+v", revoked)
	}
}

func TestQuarantineDevice_MarksFailureOnStoreError(t *testing.T) {
	e := newTestExecutor(t, &fakeMarker{err: errors.New("device registry down")})
	result := e.QuarantineDevice(context.Background(), "device_10.1.1.1", "10.1.1.1", "inc-5")
	if result.Status != StatusError {
		t.Fatalf("expected error status on device-marker failure, got %+v", result)
	}

	active, err := e.ActiveQuarantines(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no quarantine recorded when device marker fails")
	}
}
