package store

import (
	"testing"
	"time"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

func TestMatchesEvent_Severity(t *testing.T) {
	ev := &model.Event{Severity: model.SeverityHigh, Kind: model.KindLogin, SourceIP: "10.0.0.1"}

	if !matchesEvent(ev, EventFilters{Severity: model.SeverityHigh}) {
		t.Fatalf("expected high-severity event to match high filter")
	}
	if matchesEvent(ev, EventFilters{Severity: model.SeverityCritical}) {
		t.Fatalf("expected high-severity event not to match critical filter")
	}
}

func TestMatchesEvent_Flagged(t *testing.T) {
	flagged := true
	ev := &model.Event{MLFlagged: true}
	if !matchesEvent(ev, EventFilters{Flagged: &flagged}) {
		t.Fatalf("expected flagged event to match flagged=true filter")
	}

	notFlagged := false
	if matchesEvent(ev, EventFilters{Flagged: &notFlagged}) {
		t.Fatalf("expected flagged event not to match flagged=false filter")
	}
}

func TestMatchesEvent_TimeWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ev := &model.Event{Timestamp: now}

	since := now.Add(-time.Minute)
	until := now.Add(time.Minute)
	if !matchesEvent(ev, EventFilters{Since: &since, Until: &until}) {
		t.Fatalf("expected event inside window to match")
	}

	tooLate := now.Add(-time.Hour)
	if matchesEvent(ev, EventFilters{Since: &tooLate, Until: &since}) {
		t.Fatalf("expected event outside window not to match")
	}
}
