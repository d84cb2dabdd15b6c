// Package model holds the domain types shared across the ingestion
// pipeline: events, incidents, forensic reports, and the feature context
// attached to a scored event.
package model

import "time"

// Kind is the family of a telemetry event.
type Kind string

const (
	KindOS      Kind = "os_event"
	KindLogin   Kind = "login_event"
	KindProcess Kind = "process_event"
	KindNetwork Kind = "network_event"
)

// Severity is an ordinal threat level; Rank orders it so the rule engine
// and materializer can pick the more severe of two verdicts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a lower-is-worse ordinal so severities can be compared
// with plain integer comparison (critical=0 ... low=3).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// Details is the untyped per-kind payload. Kept as a sparse map (rather
// than a closed struct per Kind) so unknown fields round-trip through
// JSON without loss, per the forward-compatibility note in spec.md §9.
type Details map[string]any

func (d Details) String(key string) string {
	if d == nil {
		return ""
	}
	if v, ok := d[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (d Details) Int(key string) int {
	if d == nil {
		return 0
	}
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (d Details) Bool(key string, def bool) bool {
	if d == nil {
		return def
	}
	if v, ok := d[key].(bool); ok {
		return v
	}
	return def
}

// FeatureContext is the pre-computed, ten-dimension feature vector plus
// the named fields the Anomaly Model reads without re-querying the store
// (spec.md §4.4/§4.5).
type FeatureContext struct {
	TypeRarity        float64 `json:"type_rarity"`
	IPRarity          float64 `json:"ip_rarity"`
	EventFrequency    float64 `json:"event_frequency"`
	PayloadEntropy    float64 `json:"payload_entropy"`
	SeverityScore     float64 `json:"severity_score"`
	HourNorm          float64 `json:"hour_norm"`
	LastOctet         float64 `json:"last_octet"`
	PortNorm          float64 `json:"port_norm"`
	BytesNorm         float64 `json:"bytes_norm"`
	DetailsComplexity float64 `json:"details_complexity"`
}

// Vector returns the feature context as the fixed-order slice the
// anomaly model scores against.
func (f FeatureContext) Vector() []float64 {
	return []float64{
		f.TypeRarity, f.IPRarity, f.EventFrequency, f.PayloadEntropy,
		f.SeverityScore, f.HourNorm, f.LastOctet, f.PortNorm,
		f.BytesNorm, f.DetailsComplexity,
	}
}

// Event is an immutable security telemetry observation, enriched in
// place (once) by the Incident Materializer with an anomaly score and
// feature context.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Kind       Kind           `json:"type"`
	SourceIP   string         `json:"source_ip"`
	Severity   Severity       `json:"severity"`
	Details    Details        `json:"details"`
	AnomScore  float64        `json:"anomaly_score"`
	MLFlagged  bool           `json:"ml_flagged"`
	Features   FeatureContext `json:"ml_context"`
	Enriched   bool           `json:"enriched"`
}
