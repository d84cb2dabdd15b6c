package features

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

type fakeCounts struct {
	total       int64
	byType      map[model.Kind]int64
	bySource    map[string]int64
	sinceCounts int64
	err         error
}

func (f *fakeCounts) CountEvents(context.Context) (int64, error) { return f.total, f.err }
func (f *fakeCounts) CountEventsWithType(_ context.Context, k model.Kind) (int64, error) {
	return f.byType[k], f.err
}
func (f *fakeCounts) CountEventsWithSource(_ context.Context, ip string) (int64, error) {
	return f.bySource[ip], f.err
}
func (f *fakeCounts) CountEventsSince(context.Context, string, time.Time) (int64, error) {
	return f.sinceCounts, f.err
}

func TestShannonEntropy_Empty(t *testing.T) {
	if got := ShannonEntropy(""); got != 0.0 {
		t.Fatalf("expected 0 entropy for empty string, got %f", got)
	}
}

func TestShannonEntropy_SingleCharIsZero(t *testing.T) {
	if got := ShannonEntropy("aaaaaaaa"); got != 0.0 {
		t.Fatalf("expected 0 entropy for single-character string, got %f", got)
	}
}

func TestShannonEntropy_MaxForUniformAlphabet(t *testing.T) {
	got := ShannonEntropy("abcd")
	if got < 0.99 {
		t.Fatalf("expected near-1.0 entropy for uniform 4-char alphabet, got %f", got)
	}
}

func TestDerive_DegradesOnStoreError(t *testing.T) {
	d := New(&fakeCounts{err: errors.New("boom")})
	ev := &model.Event{
		Kind:      model.KindNetwork,
		SourceIP:  "192.168.1.42",
		Severity:  model.SeverityHigh,
		Timestamp: time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
		Details:   model.Details{"port": 443, "bytes": 2048},
	}

	fc := d.Derive(context.Background(), ev)
	if fc.TypeRarity != 0.5 || fc.IPRarity != 0.5 {
		t.Fatalf("expected neutral rarity defaults on store error, got %+v", fc)
	}
	if fc.EventFrequency != 0.5 {
		t.Fatalf("expected neutral frequency default on store error, got %f", fc.EventFrequency)
	}
}

func TestDerive_SeverityAndHourAndOctet(t *testing.T) {
	d := New(&fakeCounts{total: 100, byType: map[model.Kind]int64{model.KindLogin: 10}, bySource: map[string]int64{"10.0.0.5": 5}})
	ev := &model.Event{
		Kind:      model.KindLogin,
		SourceIP:  "10.0.0.5",
		Severity:  model.SeverityCritical,
		Timestamp: time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC),
		Details:   model.Details{"port": 65535, "bytes": 200000},
	}

	fc := d.Derive(context.Background(), ev)
	if fc.SeverityScore != 1.0 {
		t.Fatalf("expected severity score 1.0 for critical, got %f", fc.SeverityScore)
	}
	if fc.HourNorm != 0.25 {
		t.Fatalf("expected hour_norm 0.25 for 06:00, got %f", fc.HourNorm)
	}
	wantOctet := 5.0 / 255.0
	if fc.LastOctet != wantOctet {
		t.Fatalf("expected last_octet %f for .5 octet, got %f", wantOctet, fc.LastOctet)
	}
	if fc.PortNorm != 1.0 {
		t.Fatalf("expected port_norm capped at 1.0, got %f", fc.PortNorm)
	}
	if fc.BytesNorm != 1.0 {
		t.Fatalf("expected bytes_norm capped at 1.0, got %f", fc.BytesNorm)
	}
}
