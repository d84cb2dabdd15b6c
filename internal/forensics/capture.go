// Package forensics is the Forensic Capture component (C7): snapshots
// host state, running processes, and network connections at incident
// time, plus a synthetic packet trace and threat-specific remediation
// guidance.
package forensics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

// Capturer produces a forensic report for a triggering event and its
// materialized incident. DemoCapturer and LiveCapturer both implement
// it, selected at composition time by DemoMode — never branched on
// inline, per the Open Question decision in DESIGN.md.
type Capturer interface {
	Capture(ctx context.Context, ev *model.Event, inc *model.Incident) (*model.ForensicReport, error)
}

// LiveCapturer captures real host state via gopsutil.
type LiveCapturer struct {
	captureCount int
}

func NewLiveCapturer() *LiveCapturer {
	return &LiveCapturer{}
}

func (c *LiveCapturer) Capture(ctx context.Context, ev *model.Event, inc *model.Incident) (*model.ForensicReport, error) {
	c.captureCount++

	snapshot, err := systemSnapshot(ctx)
	if err != nil {
		snapshot = model.SystemSnapshot{}
	}

	return &model.ForensicReport{
		ID:          reportID(c.captureCount),
		IncidentID:  inc.ID,
		CapturedAt:  time.Now().UTC(),
		System:      snapshot,
		Processes:   topProcesses(ctx, 20),
		Connections: activeConnections(ctx, 15),
		Packets:     generateMockPackets(ev, inc, 5),
		Indicators:  extractIndicators(ev, inc),
		Recommended: recommendationsFor(inc),
	}, nil
}

func reportID(count int) string {
	seed := fmt.Sprintf("%s%d", time.Now().UTC().Format(time.RFC3339Nano), count)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}

func systemSnapshot(ctx context.Context) (model.SystemSnapshot, error) {
	cpuPct, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		return model.SystemSnapshot{}, err
	}
	var cpuPercent float64
	if len(cpuPct) > 0 {
		cpuPercent = cpuPct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return model.SystemSnapshot{}, err
	}

	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return model.SystemSnapshot{}, err
	}

	bootUnix, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return model.SystemSnapshot{}, err
	}
	bootTime := time.Unix(int64(bootUnix), 0).UTC()

	return model.SystemSnapshot{
		CPUPercent:    round2(cpuPercent),
		MemoryPercent: round2(vm.UsedPercent),
		DiskPercent:   round2(du.UsedPercent),
		UptimeHours:   round2(time.Since(bootTime).Hours()),
		BootTime:      bootTime,
	}, nil
}

func topProcesses(ctx context.Context, limit int) []model.ProcessInfo {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}

	out := make([]model.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		username, _ := p.UsernameWithContext(ctx)
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)
		status, _ := p.StatusWithContext(ctx)
		createMs, _ := p.CreateTimeWithContext(ctx)

		statusStr := ""
		if len(status) > 0 {
			statusStr = status[0]
		}

		out = append(out, model.ProcessInfo{
			PID:       p.Pid,
			Name:      name,
			User:      username,
			CPU:       round2(cpuPct),
			Mem:       float32(round2(float64(memPct))),
			Status:    statusStr,
			CreatedAt: time.UnixMilli(createMs).UTC(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CPU > out[j].CPU })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func activeConnections(ctx context.Context, limit int) []model.ConnectionInfo {
	conns, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil
	}

	out := make([]model.ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		info := model.ConnectionInfo{Status: c.Status}
		if c.Laddr.IP != "" {
			info.LocalAddr = fmt.Sprintf("%s:%d", c.Laddr.IP, c.Laddr.Port)
		}
		if c.Raddr.IP != "" {
			info.RemoteAddr = fmt.Sprintf("%s:%d", c.Raddr.IP, c.Raddr.Port)
		}
		if c.Pid != 0 {
			if p, err := process.NewProcessWithContext(ctx, c.Pid); err == nil {
				if name, err := p.NameWithContext(ctx); err == nil {
					info.Process = name
				}
			}
		}
		out = append(out, info)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

var payloadPreviews = map[model.ThreatKind]string{
	model.ThreatBruteforce:          "[AUTH] Failed password for admin from source port 52341 ssh2",
	model.ThreatMalware:             `[BINARY] MZ\x90\x00\x03\x00\x00\x00...PE signature detected`,
	model.ThreatDDoS:                `[FLOOD] GET / HTTP/1.1\r\nHost: target\r\nUser-Agent: [RANDOMIZED]`,
	model.ThreatSQLInjection:        `[SQL] SELECT * FROM users WHERE id='1' OR '1'='1'--`,
	model.ThreatExfiltration:        `[DATA] POST /upload HTTP/1.1\r\nContent-Length: 524288\r\n[ENCRYPTED]`,
	model.ThreatPrivilegeEscalation: "[SUDO] user : TTY=pts/0 ; PWD=/home/user ; USER=root ; COMMAND=/bin/bash",
	model.ThreatMaliciousTraffic:    "[C2] BEACON: id=0x4A2B status=ACTIVE interval=60s",
}

func generateMockPackets(ev *model.Event, inc *model.Incident, count int) []model.Packet {
	protocols := []string{"TCP", "UDP", "ICMP"}
	flags := []string{"SYN", "SYN-ACK", "ACK", "FIN", "RST", "PSH"}
	ttls := []int{64, 128, 255}
	commonPorts := []int{22, 80, 443, 3306, 8080}

	destIP := ev.Details.String("destination_ip")
	if destIP == "" {
		destIP = "10.0.0.1"
	}
	destPort := ev.Details.Int("port")
	if destPort == 0 {
		destPort = commonPorts[rand.Intn(len(commonPorts))]
	}
	protocol := ev.Details.String("protocol")
	if protocol == "" {
		protocol = protocols[rand.Intn(len(protocols))]
	}

	preview, ok := payloadPreviews[inc.Kind]
	if !ok {
		preview = "[ENCRYPTED DATA]"
	}

	packets := make([]model.Packet, 0, count)
	for i := 0; i < count; i++ {
		packets = append(packets, model.Packet{
			Sequence:    i + 1,
			Timestamp:   time.Now().UTC(),
			SourceIP:    ev.SourceIP,
			SourcePort:  1024 + rand.Intn(65535-1024),
			DestIP:      destIP,
			DestPort:    destPort,
			Protocol:    protocol,
			Flags:       flags[rand.Intn(len(flags))],
			SizeBytes:   64 + rand.Intn(1500-64),
			TTL:         ttls[rand.Intn(len(ttls))],
			PayloadPrev: preview,
		})
	}
	return packets
}

func extractIndicators(ev *model.Event, inc *model.Incident) []string {
	indicators := []string{
		"Event Type: " + string(ev.Kind),
		"Source IP: " + ev.SourceIP,
		"Severity: " + string(inc.Severity),
		"Detection Time: " + time.Now().UTC().Format(time.RFC3339),
	}

	if v := ev.Details.String("destination_ip"); v != "" {
		indicators = append(indicators, "Destination IP: "+v)
	}
	if port := ev.Details.Int("port"); port != 0 {
		indicators = append(indicators, fmt.Sprintf("Target Port: %d", port))
	}
	if v := ev.Details.String("process_name"); v != "" {
		indicators = append(indicators, "Process: "+v)
	}
	if v := ev.Details.String("hash"); v != "" {
		indicators = append(indicators, "Hash: "+v)
	}
	if v := ev.Details.String("username"); v != "" {
		indicators = append(indicators, "Username: "+v)
	}

	return indicators
}

var baseRecommendations = []string{
	"Document all findings for incident report",
	"Review related logs for additional context",
	"Update incident response runbook if needed",
}

var threatRecommendations = map[model.ThreatKind][]string{
	model.ThreatBruteforce: {
		"Block source IP at firewall level",
		"Force password reset for targeted accounts",
		"Enable account lockout policy",
		"Implement multi-factor authentication",
		"Review authentication logs for successful compromise",
	},
	model.ThreatMalware: {
		"Isolate affected system immediately",
		"Kill malicious process and quarantine files",
		"Run full antivirus/EDR scan",
		"Check for persistence mechanisms",
		"Scan network for lateral movement indicators",
	},
	model.ThreatDDoS: {
		"Enable rate limiting on affected services",
		"Activate CDN/DDoS protection services",
		"Block attacking IP ranges at edge",
		"Scale infrastructure if possible",
		"Contact ISP for upstream filtering",
	},
	model.ThreatSQLInjection: {
		"Block source IP immediately",
		"Review database for unauthorized changes",
		"Check for data exfiltration",
		"Patch vulnerable application",
		"Implement Web Application Firewall (WAF) rules",
	},
	model.ThreatExfiltration: {
		"Block destination IP and domain",
		"Identify scope of data potentially leaked",
		"Preserve logs for forensic analysis",
		"Notify security leadership immediately",
		"Prepare for potential breach disclosure",
	},
	model.ThreatPrivilegeEscalation: {
		"Revoke elevated privileges immediately",
		"Reset all affected user credentials",
		"Audit recent admin actions",
		"Check for unauthorized changes to system files",
		"Review sudo/admin group memberships",
	},
	model.ThreatMaliciousTraffic: {
		"Block C2 IP/domain at DNS and firewall",
		"Isolate infected host from network",
		"Scan for additional compromised systems",
		"Check for beaconing patterns in proxy logs",
		"Identify initial infection vector",
	},
}

var defaultRecommendations = []string{
	"Investigate event source and context",
	"Check for related suspicious activity",
	"Escalate if severity is high or critical",
	"Monitor for recurrence",
}

func recommendationsFor(inc *model.Incident) []string {
	specific, ok := threatRecommendations[inc.Kind]
	if !ok {
		specific = defaultRecommendations
	}
	out := make([]string, 0, len(specific)+len(baseRecommendations))
	out = append(out, specific...)
	out = append(out, baseRecommendations...)
	return out
}
