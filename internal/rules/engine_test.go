package rules

import (
	"testing"
	"time"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

func loginEvent(ip, username string, success bool) *model.Event {
	return &model.Event{
		Kind:      model.KindLogin,
		SourceIP:  ip,
		Timestamp: time.Now(),
		Details:   model.Details{"username": username, "success": success},
	}
}

func TestBruteforce_FiveFailuresDoesNotTrigger(t *testing.T) {
	e := NewEngine()
	var verdict model.Verdict
	for i := 0; i < 5; i++ {
		verdict = e.Evaluate(loginEvent("10.1.1.1", "root", false))
	}
	if verdict.IsThreat {
		t.Fatalf("expected no threat at exactly the threshold (5 failures), got %+v", verdict)
	}
}

func TestBruteforce_SixFailuresTriggersHigh(t *testing.T) {
	e := NewEngine()
	var verdict model.Verdict
	for i := 0; i < 6; i++ {
		verdict = e.Evaluate(loginEvent("10.1.1.2", "root", false))
	}
	if !verdict.IsThreat || verdict.Kind != model.ThreatBruteforce {
		t.Fatalf("expected bruteforce threat at 6 failures, got %+v", verdict)
	}
	if verdict.Severity != model.SeverityHigh {
		t.Fatalf("expected high severity below 10 failures, got %s", verdict.Severity)
	}
}

func TestBruteforce_TenFailuresEscalatesToCritical(t *testing.T) {
	e := NewEngine()
	var verdict model.Verdict
	for i := 0; i < 10; i++ {
		verdict = e.Evaluate(loginEvent("10.1.1.3", "root", false))
	}
	if verdict.Severity != model.SeverityCritical {
		t.Fatalf("expected critical severity at 10 failures, got %s", verdict.Severity)
	}
}

func networkEvent(ip, destIP string, port int) *model.Event {
	return &model.Event{
		Kind:      model.KindNetwork,
		SourceIP:  ip,
		Timestamp: time.Now(),
		Details:   model.Details{"destination_ip": destIP, "port": port, "bytes": 100},
	}
}

func TestPortScan_TenPortsDoesNotTrigger(t *testing.T) {
	e := NewEngine()
	ports := []int{22, 23, 80, 443, 445, 3306, 3389, 5432, 8080, 8443}
	var verdict model.Verdict
	for _, p := range ports {
		verdict = e.Evaluate(networkEvent("10.2.2.1", "192.168.1.100", p))
	}
	if verdict.IsThreat {
		t.Fatalf("expected no threat at exactly 10 unique ports, got %+v", verdict)
	}
}

func TestPortScan_ElevenPortsTriggers(t *testing.T) {
	e := NewEngine()
	ports := []int{22, 23, 80, 443, 445, 3306, 3389, 5432, 8080, 8443, 9090}
	var verdict model.Verdict
	for _, p := range ports {
		verdict = e.Evaluate(networkEvent("10.2.2.2", "192.168.1.100", p))
	}
	if !verdict.IsThreat || verdict.Kind != model.ThreatPortScan {
		t.Fatalf("expected port scan threat at 11 unique ports, got %+v", verdict)
	}
}

func TestMalware_KnownHashTriggersCritical(t *testing.T) {
	e := NewEngine()
	ev := &model.Event{
		Kind:     model.KindProcess,
		SourceIP: "10.3.3.1",
		Details:  model.Details{"process_name": "innocuous", "hash": "abc123malicious"},
	}
	verdict := e.Evaluate(ev)
	if !verdict.IsThreat || verdict.Kind != model.ThreatMalware || verdict.Severity != model.SeverityCritical {
		t.Fatalf("expected critical malware threat for known hash, got %+v", verdict)
	}
}

func TestExfiltration_ExactThresholdDoesNotTrigger(t *testing.T) {
	e := NewEngine()
	ev := networkEvent("10.4.4.1", "203.0.113.50", 443)
	ev.Details["bytes"] = ExfilThresholdBytes
	// Checked on the detector itself: through Evaluate, a flow this large
	// from a fresh engine also trips the DDoS detector (baseline 1000 B x 4),
	// whose critical verdict outranks exfiltration's high one.
	verdict := e.checkExfiltration(ev)
	if verdict.Kind == model.ThreatExfiltration {
		t.Fatalf("expected no exfiltration threat at exactly the threshold, got %+v", verdict)
	}
}

func TestExfiltration_OverThresholdTriggers(t *testing.T) {
	e := NewEngine()
	ev := networkEvent("10.4.4.2", "203.0.113.50", 443)
	ev.Details["bytes"] = ExfilThresholdBytes + 1
	verdict := e.Evaluate(ev)
	if !verdict.IsThreat || verdict.Kind != model.ThreatExfiltration {
		t.Fatalf("expected exfiltration threat over threshold, got %+v", verdict)
	}
}

func TestMaliciousTraffic_BlacklistedIP(t *testing.T) {
	e := NewEngine()
	ev := networkEvent("10.5.5.1", "45.33.32.156", 443)
	verdict := e.Evaluate(ev)
	if !verdict.IsThreat || verdict.Kind != model.ThreatMaliciousTraffic {
		t.Fatalf("expected malicious traffic threat for blacklisted destination, got %+v", verdict)
	}
}

func TestSQLInjection_PatternMatch(t *testing.T) {
	e := NewEngine()
	ev := &model.Event{
		Kind:     model.KindOS,
		SourceIP: "10.6.6.1",
		Details:  model.Details{"command": "SELECT * FROM users WHERE id=1 OR 1=1;"},
	}
	verdict := e.Evaluate(ev)
	if !verdict.IsThreat || verdict.Kind != model.ThreatSQLInjection {
		t.Fatalf("expected SQL injection threat, got %+v", verdict)
	}
}

func TestPrivilegeEscalation_RoleChangeToRoot(t *testing.T) {
	e := NewEngine()
	ev := &model.Event{
		Kind:     model.KindOS,
		SourceIP: "10.7.7.1",
		Details:  model.Details{"action": "role_change", "user_change": "user1 -> root", "user": "user1"},
	}
	verdict := e.Evaluate(ev)
	if !verdict.IsThreat || verdict.Kind != model.ThreatPrivilegeEscalation || verdict.Severity != model.SeverityCritical {
		t.Fatalf("expected critical privilege escalation threat, got %+v", verdict)
	}
}

func TestEvaluate_NoThreatForBenignEvent(t *testing.T) {
	e := NewEngine()
	ev := loginEvent("10.8.8.1", "analyst", true)
	verdict := e.Evaluate(ev)
	if verdict.IsThreat {
		t.Fatalf("expected no threat for a single successful login, got %+v", verdict)
	}
}
