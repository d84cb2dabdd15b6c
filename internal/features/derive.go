// Package features is the Feature Deriver (C4): turns a raw event plus
// store-backed counts into the ten-dimension FeatureContext the Anomaly
// Model scores against.
package features

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/arc-sentinel/sentinel/internal/store"
	"github.com/arc-sentinel/sentinel/pkg/model"
)

var severityScore = map[model.Severity]float64{
	model.SeverityLow:      0.25,
	model.SeverityMedium:   0.5,
	model.SeverityHigh:     0.75,
	model.SeverityCritical: 1.0,
}

// Deriver computes a FeatureContext for an event, consulting the store
// only through the narrow CountProvider interface — never the full
// Gateway — to avoid the ingestion/storage cyclic import spec.md §9
// flags.
type Deriver struct {
	counts store.CountProvider
}

func New(counts store.CountProvider) *Deriver {
	return &Deriver{counts: counts}
}

// Derive computes the feature context for ev at the time of the call.
// Rarity and frequency lookups degrade to neutral midpoints on a store
// error rather than failing the whole pipeline — matching the original
// engine's try/except-then-0.5-default fallback.
func (d *Deriver) Derive(ctx context.Context, ev *model.Event) model.FeatureContext {
	return model.FeatureContext{
		TypeRarity:        d.typeRarity(ctx, ev.Kind),
		IPRarity:          d.ipRarity(ctx, ev.SourceIP),
		EventFrequency:    d.eventFrequency(ctx, ev.SourceIP),
		PayloadEntropy:    ShannonEntropy(detailsString(ev.Details)),
		SeverityScore:     severityScoreOf(ev.Severity),
		HourNorm:          float64(ev.Timestamp.Hour()) / 24.0,
		LastOctet:         lastOctet(ev.SourceIP),
		PortNorm:          normalize(float64(ev.Details.Int("port")), 65535.0),
		BytesNorm:         normalize(float64(ev.Details.Int("bytes")), 100000.0),
		DetailsComplexity: normalize(float64(len(detailsString(ev.Details))), 1000.0),
	}
}

// typeRarity is the inverse share of events of this kind among all
// events seen — rarer kinds score closer to 1.0.
func (d *Deriver) typeRarity(ctx context.Context, kind model.Kind) float64 {
	total, err := d.counts.CountEvents(ctx)
	if err != nil || total == 0 {
		return 0.5
	}
	ofKind, err := d.counts.CountEventsWithType(ctx, kind)
	if err != nil {
		return 0.5
	}
	share := float64(ofKind) / float64(total)
	return clamp(1.0-share, 0, 1)
}

func (d *Deriver) ipRarity(ctx context.Context, ip string) float64 {
	if ip == "" {
		return 0.5
	}
	total, err := d.counts.CountEvents(ctx)
	if err != nil || total == 0 {
		return 0.5
	}
	fromIP, err := d.counts.CountEventsWithSource(ctx, ip)
	if err != nil {
		return 0.5
	}
	share := float64(fromIP) / float64(total)
	return clamp(1.0-share, 0, 1)
}

// eventFrequency counts events from ip in the last five minutes,
// normalized and capped at 100 — mirroring
// database.get_event_frequency(ip, minutes=5) in the original engine.
func (d *Deriver) eventFrequency(ctx context.Context, ip string) float64 {
	if ip == "" {
		return 0
	}
	n, err := d.counts.CountEventsSince(ctx, ip, time.Now().Add(-5*time.Minute))
	if err != nil {
		return 0.5
	}
	return normalize(float64(n), 100.0)
}

func severityScoreOf(s model.Severity) float64 {
	if v, ok := severityScore[s]; ok {
		return v
	}
	return 0.25
}

func lastOctet(ip string) float64 {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return 0.5
	}
	n, err := strconv.Atoi(parts[3])
	if err != nil {
		return 0.5
	}
	return float64(n) / 255.0
}

func normalize(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return clamp(v/max, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// detailsString renders Details as "key:value;" pairs, standing in for
// the original engine's str(details) dict-repr as input to the entropy
// and complexity features. Map iteration order varies between calls, so
// the text itself is not stable; its length and character counts, the
// only things those features read, are. Values that are not a string,
// int, int64, float64 or bool render as 0.
func detailsString(d model.Details) string {
	if len(d) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range d {
		b.WriteString(k)
		b.WriteString(":")
		switch t := v.(type) {
		case string:
			b.WriteString(t)
		default:
			b.WriteString(strconv.FormatFloat(toFloat(t), 'f', -1, 64))
		}
		b.WriteString(";")
	}
	return b.String()
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// ShannonEntropy computes the normalized Shannon entropy of data, 0-1,
// matching original_source/backend/app/ml_engine.py
// calculate_entropy: max entropy is log2(min(256, distinct chars)).
// Hand-rolled on purpose — no library in the pack offers this and it's
// a five-line stdlib-math formula, not a concern worth a dependency.
func ShannonEntropy(data string) float64 {
	if len(data) == 0 {
		return 0.0
	}

	freq := make(map[rune]int)
	total := 0
	for _, r := range data {
		freq[r]++
		total++
	}

	var entropy float64
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}

	alphabet := len(freq)
	if alphabet > 256 {
		alphabet = 256
	}
	maxEntropy := math.Log2(float64(alphabet))
	if maxEntropy <= 0 {
		return 0.0
	}

	normalized := entropy / maxEntropy
	if normalized > 1.0 {
		normalized = 1.0
	}
	return math.Round(normalized*10000) / 10000
}
