package hub

import "testing"

func TestHub_CountStartsZero(t *testing.T) {
	h := New(nil)
	if h.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", h.Count())
	}
}

func TestHub_BroadcastNoSubscribersNoop(t *testing.T) {
	h := New(nil)
	// Must not panic or block with zero subscribers.
	h.Broadcast(MessageStats, map[string]int{"total_events": 1})
}

func TestHub_UpgraderAllowsAllOriginsWhenUnset(t *testing.T) {
	h := New(nil)
	if !h.upgrader.CheckOrigin(nil) {
		t.Fatalf("expected empty allowlist to accept all origins")
	}
}
