// Package response is the Response Executor (C9): automated remediation
// actions fanned out from a materialized incident's severity and threat
// kind — process isolation, device quarantine, session revocation, and
// critical-incident escalation. Ledgers are Redis-backed JSON blobs with
// expiry, the same shape as the teacher's Override/Block mitigation
// entries, adapted from rate-limit overrides to response actions.
package response

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/arc-sentinel/sentinel/pkg/metrics"
	"github.com/arc-sentinel/sentinel/pkg/model"
)

const (
	keyIsolate    = "sentinel:isolate:"
	keyQuarantine = "sentinel:quarantine:"
	keyRevoke     = "sentinel:revoke:"

	defaultLedgerTTL = 24 * time.Hour
)

// Status mirrors the original engine's per-action result status.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusQuarantined Status = "quarantined"
	StatusRevoked     Status = "revoked"
	StatusEscalated   Status = "escalated"
	StatusSent        Status = "sent"
	StatusError       Status = "error"
)

// ActionResult is one executed remediation action.
type ActionResult struct {
	Action     string    `json:"action"`
	IncidentID string    `json:"incident_id"`
	Status     Status    `json:"status"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExecutionSummary is the full outcome of Execute for one incident.
type ExecutionSummary struct {
	IncidentID   string         `json:"incident_id"`
	ActionsTaken []ActionResult `json:"actions_taken"`
	Success      bool           `json:"success"`
	Timestamp    time.Time      `json:"timestamp"`
}

// IsolationEntry is the ledger record for an isolated process — the
// response-domain analogue of the teacher's Override{RPS,Burst,Step,Exp}.
type IsolationEntry struct {
	PID        int       `json:"pid"`
	IncidentID string    `json:"incident_id"`
	Reason     string    `json:"reason"`
	IsolatedAt time.Time `json:"isolated_at"`
	Exp        int64     `json:"exp,omitempty"`
}

// QuarantineEntry is the ledger record for a quarantined device.
type QuarantineEntry struct {
	DeviceID      string    `json:"device_id"`
	SourceIP      string    `json:"source_ip"`
	IncidentID    string    `json:"incident_id"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	Exp           int64     `json:"exp,omitempty"`
}

// RevocationEntry is the ledger record for a revoked user session.
type RevocationEntry struct {
	UserID     string    `json:"user_id"`
	IncidentID string    `json:"incident_id"`
	RevokedAt  time.Time `json:"revoked_at"`
	Exp        int64     `json:"exp,omitempty"`
}

// DeviceMarker persists a device's isolated flag on the canonical device
// record — a narrow interface over store.Gateway.MarkDeviceIsolated, the
// same cyclic-import fix pattern as store.CountProvider.
type DeviceMarker interface {
	MarkDeviceIsolated(ctx context.Context, deviceID, sourceIP string) error
}

// Executor runs response actions and persists ledger entries in Redis
// with a TTL, the same Redis-ledger-with-expiry shape the proxy's
// override/block mitigation once used.
type Executor struct {
	rdb     *redis.Client
	devices DeviceMarker
	ttl     time.Duration
}

func NewExecutor(rdb *redis.Client, devices DeviceMarker) *Executor {
	return &Executor{rdb: rdb, devices: devices, ttl: defaultLedgerTTL}
}

// Execute runs the severity- and threat-type-driven response rules for
// one incident, mirroring execute_response's dispatch.
func (e *Executor) Execute(ctx context.Context, inc *model.Incident, ev *model.Event) ExecutionSummary {
	summary := ExecutionSummary{
		IncidentID: inc.ID,
		Success:    true,
		Timestamp:  time.Now().UTC(),
	}

	if inc.Severity == model.SeverityCritical {
		summary.ActionsTaken = append(summary.ActionsTaken,
			e.escalateNotification(inc),
			e.sendAlertEmail(inc),
		)
	}

	switch inc.Kind {
	case model.ThreatMalware:
		if pid := ev.Details.Int("pid"); pid != 0 {
			summary.ActionsTaken = append(summary.ActionsTaken, e.IsolateProcess(ctx, pid, inc.ID, "Malware detected"))
		}
	case model.ThreatBruteforce:
		if inc.SourceIP != "" {
			deviceID := fmt.Sprintf("device_%s", inc.SourceIP)
			summary.ActionsTaken = append(summary.ActionsTaken, e.QuarantineDevice(ctx, deviceID, inc.SourceIP, inc.ID))
		}
	case model.ThreatPrivilegeEscalation:
		userID := ev.Details.String("username")
		if userID == "" {
			userID = "unknown"
		}
		summary.ActionsTaken = append(summary.ActionsTaken, e.RevokeUserSession(ctx, userID, inc.ID))
	}

	for _, a := range summary.ActionsTaken {
		if a.Status == StatusError {
			summary.Success = false
		}
	}

	return summary
}

func (e *Executor) record(action string, status Status) {
	label := "success"
	if status == StatusError {
		label = "error"
	}
	metrics.ResponseActions.WithLabelValues(action, label).Inc()
}

// IsolateProcess marks a process as isolated and persists the entry in
// Redis with a TTL. A real deployment would terminate or suspend the
// process; here it only records the action, matching the original's
// demo-mode "marked for isolation" behavior.
func (e *Executor) IsolateProcess(ctx context.Context, pid int, incidentID, reason string) ActionResult {
	entry := IsolationEntry{
		PID:        pid,
		IncidentID: incidentID,
		Reason:     reason,
		IsolatedAt: time.Now().UTC(),
		Exp:        time.Now().Add(e.ttl).Unix(),
	}

	status := StatusSuccess
	message := fmt.Sprintf("process %d marked for isolation", pid)
	if err := e.putJSON(ctx, keyIsolate+strconv.Itoa(pid), entry); err != nil {
		status = StatusError
		message = err.Error()
	}

	result := ActionResult{Action: "isolate_process", IncidentID: incidentID, Status: status, Message: message, Timestamp: time.Now().UTC()}
	e.record(result.Action, result.Status)
	log.Info().Int("pid", pid).Str("incident_id", incidentID).Msg("process isolation")
	return result
}

// QuarantineDevice marks a device isolated on the canonical device
// record and persists the quarantine ledger entry in Redis.
func (e *Executor) QuarantineDevice(ctx context.Context, deviceID, sourceIP, incidentID string) ActionResult {
	status := StatusQuarantined
	message := fmt.Sprintf("device %s (%s) has been quarantined", deviceID, sourceIP)

	if e.devices != nil {
		if err := e.devices.MarkDeviceIsolated(ctx, deviceID, sourceIP); err != nil {
			status = StatusError
			message = err.Error()
		}
	}

	if status != StatusError {
		entry := QuarantineEntry{
			DeviceID:      deviceID,
			SourceIP:      sourceIP,
			IncidentID:    incidentID,
			QuarantinedAt: time.Now().UTC(),
			Exp:           time.Now().Add(e.ttl).Unix(),
		}
		if err := e.putJSON(ctx, keyQuarantine+deviceID, entry); err != nil {
			status = StatusError
			message = err.Error()
		}
	}

	result := ActionResult{Action: "quarantine_device", IncidentID: incidentID, Status: status, Message: message, Timestamp: time.Now().UTC()}
	e.record(result.Action, result.Status)
	log.Info().Str("device_id", deviceID).Str("source_ip", sourceIP).Msg("device quarantine")
	return result
}

// RevokeUserSession records a session revocation request. In production
// this would call the identity provider's admin API to invalidate
// sessions; here it is a ledger entry, matching the original's stub.
func (e *Executor) RevokeUserSession(ctx context.Context, userID, incidentID string) ActionResult {
	entry := RevocationEntry{
		UserID:     userID,
		IncidentID: incidentID,
		RevokedAt:  time.Now().UTC(),
		Exp:        time.Now().Add(e.ttl).Unix(),
	}

	status := StatusRevoked
	message := fmt.Sprintf("session revocation requested for user %s", userID)
	if err := e.putJSON(ctx, keyRevoke+userID, entry); err != nil {
		status = StatusError
		message = err.Error()
	}

	result := ActionResult{Action: "revoke_user_session", IncidentID: incidentID, Status: status, Message: message, Timestamp: time.Now().UTC()}
	e.record(result.Action, result.Status)
	log.Info().Str("user_id", userID).Msg("session revocation")
	return result
}

func (e *Executor) escalateNotification(inc *model.Incident) ActionResult {
	result := ActionResult{
		Action:     "escalate_notification",
		IncidentID: inc.ID,
		Status:     StatusEscalated,
		Message:    fmt.Sprintf("CRITICAL ALERT: %s incident %s escalated", inc.Kind, inc.ID),
		Timestamp:  time.Now().UTC(),
	}
	e.record(result.Action, result.Status)
	return result
}

func (e *Executor) sendAlertEmail(inc *model.Incident) ActionResult {
	result := ActionResult{
		Action:     "send_alert_email",
		IncidentID: inc.ID,
		Status:     StatusSent,
		Message:    "alert email queued for delivery",
		Timestamp:  time.Now().UTC(),
	}
	e.record(result.Action, result.Status)
	return result
}

func (e *Executor) putJSON(ctx context.Context, key string, v any) error {
	j, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.rdb.Set(ctx, key, j, e.ttl).Err()
}

// ActiveIsolations scans Redis for live isolation entries, mirroring
// RedisMitigator.RefreshActiveGauges's SCAN-and-count pattern.
func (e *Executor) ActiveIsolations(ctx context.Context) ([]IsolationEntry, error) {
	var out []IsolationEntry
	err := scanEntries(ctx, e.rdb, keyIsolate+"*", func(b []byte) error {
		var entry IsolationEntry
		if err := json.Unmarshal(b, &entry); err != nil {
			return nil
		}
		out = append(out, entry)
		return nil
	})
	return out, err
}

// ActiveQuarantines scans Redis for live quarantine entries.
func (e *Executor) ActiveQuarantines(ctx context.Context) ([]QuarantineEntry, error) {
	var out []QuarantineEntry
	err := scanEntries(ctx, e.rdb, keyQuarantine+"*", func(b []byte) error {
		var entry QuarantineEntry
		if err := json.Unmarshal(b, &entry); err != nil {
			return nil
		}
		out = append(out, entry)
		return nil
	})
	return out, err
}

// RevokedSessions scans Redis for live revocation entries.
func (e *Executor) RevokedSessions(ctx context.Context) ([]RevocationEntry, error) {
	var out []RevocationEntry
	err := scanEntries(ctx, e.rdb, keyRevoke+"*", func(b []byte) error {
		var entry RevocationEntry
		if err := json.Unmarshal(b, &entry); err != nil {
			return nil
		}
		out = append(out, entry)
		return nil
	})
	return out, err
}

func scanEntries(ctx context.Context, rdb *redis.Client, match string, visit func([]byte) error) error {
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, match, 1000).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			vals, err := rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return err
			}
			for _, v := range vals {
				s, ok := v.(string)
				if !ok || s == "" {
					continue
				}
				if err := visit([]byte(s)); err != nil {
					return err
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
