package model

import "time"

// ThreatKind enumerates the materialized detection categories.
type ThreatKind string

const (
	ThreatBruteforce           ThreatKind = "bruteforce"
	ThreatPortScan             ThreatKind = "port_scan"
	ThreatMalware              ThreatKind = "malware"
	ThreatDDoS                 ThreatKind = "ddos"
	ThreatSQLInjection         ThreatKind = "sql_injection"
	ThreatExfiltration         ThreatKind = "exfiltration"
	ThreatPrivilegeEscalation  ThreatKind = "privilege_escalation"
	ThreatMLAnomaly            ThreatKind = "ml_anomaly"
	ThreatMaliciousTraffic     ThreatKind = "malicious_traffic"
)

// Status is an incident's lifecycle state.
type Status string

const (
	StatusActive        Status = "active"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
)

// Incident is a materialized detection bound to one triggering event and
// (once captured) one forensic report.
type Incident struct {
	ID          string     `json:"id"`
	Kind        ThreatKind `json:"threat_type"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Confidence  float64    `json:"confidence"`
	Indicators  []string   `json:"indicators"`
	EventID     string     `json:"event_id"`
	SourceIP    string     `json:"source_ip"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Status      Status     `json:"status"`
	Resolution  string     `json:"resolution_note,omitempty"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
}

// Verdict is the Rule Engine's (and the ML-escalation step's) tri-state
// outcome for a single event.
type Verdict struct {
	IsThreat    bool
	Kind        ThreatKind
	Severity    Severity
	Description string
	Confidence  float64
	Indicators  []string
}

// NoThreat is the zero-value, no-detection outcome.
var NoThreat = Verdict{}
