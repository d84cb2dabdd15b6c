// Package rules is the Rule Engine (C6): eight stateful, threshold-based
// threat detectors sharing per-source sliding-window memory, evaluated
// in priority order with the highest-severity hit winning.
package rules

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

const (
	BruteforceThreshold     = 5
	BruteforceWindow        = 30 * time.Second
	PortScanThreshold       = 10
	PortScanWindow          = 60 * time.Second
	DDoSSpikeMultiplier     = 4.0
	DDoSWindow              = 30 * time.Second
	ExfilThresholdBytes     = 50000
)

var (
	blacklistIPs = []string{"45.33.32.156", "198.51.100.42", "203.0.113.0", "192.0.2.1", "10.255.255.1"}

	maliciousHashes = map[string]bool{
		"abc123malicious":  true,
		"def456ransomware": true,
		"ghi789trojan":     true,
		"jkl012rootkit":    true,
	}

	sqliPatterns = []string{
		"UNION SELECT", "DROP TABLE", "DELETE FROM", "INSERT INTO",
		"UPDATE SET", "--", "'; --", "1=1", "OR 1=1", "' OR '",
	}

	suspiciousProcesses = []string{
		"suspicious.exe", "mimikatz", "pwdump", "keylogger",
		"backdoor", "rootkit", "cryptominer", "ransomware",
	}

	privilegedRoles = []string{"root", "admin", "administrator", "sudo", "wheel", "superuser"}
	elevationTools  = map[string]bool{
		"sudo": true, "su": true, "doas": true, "pkexec": true,
		"runas": true, "gsudo": true, "elevate": true,
	}
)

func isBlacklisted(ip string) bool {
	for _, b := range blacklistIPs {
		if b == ip {
			return true
		}
	}
	return false
}

// loginAttempt is one tracked failed login, kept per source IP.
type loginAttempt struct {
	at       time.Time
	username string
}

// portScanHit is one tracked connection attempt, kept per source IP.
type portScanHit struct {
	at     time.Time
	port   int
	destIP string
}

// trafficSample is one tracked network event, kept per source IP.
type trafficSample struct {
	at    time.Time
	bytes int
}

type perSourceState struct {
	sync.Mutex
	logins  []loginAttempt
	scans   []portScanHit
	traffic []trafficSample
}

// Engine holds per-source-IP sliding windows of timestamped entries, the
// per-key window shape the teacher's HTTP traffic detector keyed by
// {route,client} — here keyed by source IP alone, since threat rules
// operate on ingested events, not HTTP routes.
type Engine struct {
	sources sync.Map // string(sourceIP) -> *perSourceState

	baselineMu sync.Mutex
	baseline   float64
	sampleSum  float64
	sampleN    int

	roleMu    sync.Mutex
	roleLast  map[string]string // user -> last known role
}

func NewEngine() *Engine {
	return &Engine{
		baseline: 1000.0,
		roleLast: make(map[string]string),
	}
}

func (e *Engine) stateFor(sourceIP string) *perSourceState {
	v, _ := e.sources.LoadOrStore(sourceIP, &perSourceState{})
	return v.(*perSourceState)
}

// Evaluate runs every detector against ev and returns the
// highest-severity verdict, matching the original engine's
// "sort by severity, return worst" selection in analyze_event.
func (e *Engine) Evaluate(ev *model.Event) model.Verdict {
	checks := []model.Verdict{
		e.checkBruteforce(ev),
		e.checkPortScan(ev),
		e.checkMalware(ev),
		e.checkDDoS(ev),
		e.checkSQLInjection(ev),
		e.checkExfiltration(ev),
		e.checkPrivilegeEscalation(ev),
		e.checkMaliciousTraffic(ev),
	}

	var best *model.Verdict
	for i := range checks {
		if !checks[i].IsThreat {
			continue
		}
		if best == nil || checks[i].Severity.Rank() < best.Severity.Rank() {
			best = &checks[i]
		}
	}
	if best == nil {
		return model.NoThreat
	}
	return *best
}

func (e *Engine) checkBruteforce(ev *model.Event) model.Verdict {
	if ev.Kind != model.KindLogin {
		return model.NoThreat
	}
	success := ev.Details.Bool("success", true)
	username := ev.Details.String("username")
	if username == "" {
		username = "unknown"
	}

	st := e.stateFor(ev.SourceIP)
	st.Lock()
	defer st.Unlock()

	now := time.Now()
	if !success {
		st.logins = append(st.logins, loginAttempt{at: now, username: username})
	}
	cutoff := now.Add(-BruteforceWindow)
	st.logins = filterLogins(st.logins, cutoff)

	failedCount := len(st.logins)
	if failedCount <= BruteforceThreshold {
		return model.NoThreat
	}

	targeted := uniqueUsernames(st.logins, 5)
	sev := model.SeverityHigh
	if failedCount >= 10 {
		sev = model.SeverityCritical
	}
	confidence := 0.5 + float64(failedCount-BruteforceThreshold)*0.1
	if confidence > 0.95 {
		confidence = 0.95
	}

	return model.Verdict{
		IsThreat:    true,
		Kind:        model.ThreatBruteforce,
		Severity:    sev,
		Description: "Brute force attack detected: repeated failed logins from the same source",
		Confidence:  confidence,
		Indicators: []string{
			"Source IP: " + ev.SourceIP,
			"Failed attempts: " + strconv.Itoa(failedCount),
			"Targeted users: " + strings.Join(targeted, ", "),
		},
	}
}

func (e *Engine) checkPortScan(ev *model.Event) model.Verdict {
	if ev.Kind != model.KindNetwork {
		return model.NoThreat
	}
	port := ev.Details.Int("port")
	if port == 0 {
		return model.NoThreat
	}
	destIP := ev.Details.String("destination_ip")

	st := e.stateFor(ev.SourceIP)
	st.Lock()
	defer st.Unlock()

	now := time.Now()
	st.scans = append(st.scans, portScanHit{at: now, port: port, destIP: destIP})
	cutoff := now.Add(-PortScanWindow)
	st.scans = filterScans(st.scans, cutoff)

	uniquePorts := make(map[int]bool)
	uniqueTargets := make(map[string]bool)
	for _, s := range st.scans {
		uniquePorts[s.port] = true
		if s.destIP != "" {
			uniqueTargets[s.destIP] = true
		}
	}

	if len(uniquePorts) <= PortScanThreshold {
		return model.NoThreat
	}

	confidence := 0.5 + float64(len(uniquePorts)-PortScanThreshold)*0.05
	if confidence > 0.9 {
		confidence = 0.9
	}

	return model.Verdict{
		IsThreat:    true,
		Kind:        model.ThreatPortScan,
		Severity:    model.SeverityHigh,
		Description: "Port scan detected: unique ports scanned from a single source exceeds threshold",
		Confidence:  confidence,
		Indicators: []string{
			"Source IP: " + ev.SourceIP,
			"Unique ports: " + strconv.Itoa(len(uniquePorts)),
			"Target IPs: " + strconv.Itoa(len(uniqueTargets)),
		},
	}
}

func (e *Engine) checkMalware(ev *model.Event) model.Verdict {
	if ev.Kind != model.KindProcess {
		return model.NoThreat
	}
	processName := strings.ToLower(ev.Details.String("process_name"))
	processHash := ev.Details.String("hash")

	var indicators []string
	for _, suspicious := range suspiciousProcesses {
		if strings.Contains(processName, suspicious) {
			indicators = append(indicators, "Suspicious process: "+processName)
			break
		}
	}
	if maliciousHashes[processHash] {
		indicators = append(indicators, "Known malicious hash: "+processHash)
	}
	if len(indicators) == 0 {
		return model.NoThreat
	}

	return model.Verdict{
		IsThreat:    true,
		Kind:        model.ThreatMalware,
		Severity:    model.SeverityCritical,
		Description: "Malware detected: suspicious process or known malicious hash",
		Confidence:  0.9,
		Indicators:  indicators,
	}
}

// checkDDoS mirrors the original's adaptive-baseline traffic spike
// detector: the baseline is an expanding-window mean of below-threshold
// traffic, and a spike is either a single event or a short burst that
// exceeds baseline*DDoSSpikeMultiplier.
func (e *Engine) checkDDoS(ev *model.Event) model.Verdict {
	if ev.Kind != model.KindNetwork {
		return model.NoThreat
	}
	volume := ev.Details.Int("bytes")

	st := e.stateFor(ev.SourceIP)
	st.Lock()
	now := time.Now()
	st.traffic = append(st.traffic, trafficSample{at: now, bytes: volume})
	cutoff := now.Add(-DDoSWindow)
	st.traffic = filterTraffic(st.traffic, cutoff)
	windowTraffic := 0
	for _, t := range st.traffic {
		windowTraffic += t.bytes
	}
	eventCount := len(st.traffic)
	st.Unlock()

	e.baselineMu.Lock()
	threshold := e.baseline * DDoSSpikeMultiplier
	if float64(volume) < threshold {
		e.sampleN++
		e.sampleSum += float64(volume)
		if e.sampleN > 10 {
			e.baseline = e.sampleSum / float64(e.sampleN)
		}
	}
	baseline := e.baseline
	e.baselineMu.Unlock()

	spike := float64(volume) > threshold || (eventCount > 5 && float64(windowTraffic) > threshold*float64(eventCount))
	if !spike {
		return model.NoThreat
	}

	return model.Verdict{
		IsThreat:    true,
		Kind:        model.ThreatDDoS,
		Severity:    model.SeverityCritical,
		Description: "DDoS attack detected: traffic volume exceeds the adaptive baseline threshold",
		Confidence:  0.85,
		Indicators: []string{
			"Traffic volume bytes: " + strconv.Itoa(volume),
			"Baseline bytes: " + strconv.Itoa(int(baseline)),
			"Source IP: " + ev.SourceIP,
		},
	}
}

func (e *Engine) checkSQLInjection(ev *model.Event) model.Verdict {
	candidates := []string{
		ev.Details.String("command"),
		ev.Details.String("request_payload"),
		ev.Details.String("query"),
	}
	for _, s := range candidates {
		if s == "" {
			continue
		}
		upper := strings.ToUpper(s)
		for _, pattern := range sqliPatterns {
			if strings.Contains(upper, strings.ToUpper(pattern)) {
				return model.Verdict{
					IsThreat:    true,
					Kind:        model.ThreatSQLInjection,
					Severity:    model.SeverityHigh,
					Description: "SQL injection attempt detected: matched known pattern " + pattern,
					Confidence:  0.88,
					Indicators: []string{
						"Pattern matched: " + pattern,
						"Source: " + ev.SourceIP,
					},
				}
			}
		}
	}
	return model.NoThreat
}

func (e *Engine) checkExfiltration(ev *model.Event) model.Verdict {
	if ev.Kind != model.KindNetwork {
		return model.NoThreat
	}
	outbound := ev.Details.Int("bytes")
	if outbound <= ExfilThresholdBytes {
		return model.NoThreat
	}
	destIP := ev.Details.String("destination_ip")

	return model.Verdict{
		IsThreat:    true,
		Kind:        model.ThreatExfiltration,
		Severity:    model.SeverityHigh,
		Description: "Potential data exfiltration: outbound transfer exceeds normal threshold",
		Confidence:  0.75,
		Indicators: []string{
			"Outbound bytes: " + strconv.Itoa(outbound),
			"Destination: " + destIP,
		},
	}
}

func (e *Engine) checkPrivilegeEscalation(ev *model.Event) model.Verdict {
	var indicators []string
	var severity model.Severity

	userChange := ev.Details.String("user_change")
	action := ev.Details.String("action")

	if strings.Contains(userChange, "->") {
		parts := strings.SplitN(userChange, "->", 2)
		if len(parts) == 2 {
			fromRole := strings.ToLower(strings.TrimSpace(parts[0]))
			toRole := strings.ToLower(strings.TrimSpace(parts[1]))
			user := ev.Details.String("user")
			if user == "" {
				user = "unknown"
			}

			e.roleMu.Lock()
			e.roleLast[user] = toRole
			e.roleMu.Unlock()

			for _, priv := range privilegedRoles {
				if strings.Contains(toRole, priv) && !strings.Contains(fromRole, priv) {
					indicators = append(indicators, "Role change: "+userChange)
					indicators = append(indicators, "Escalated to privileged role: "+toRole)
					severity = model.SeverityCritical
					break
				}
			}
		}
	}

	if action == "role_change" {
		indicators = append(indicators, "Role change action detected")
		if severity == "" {
			severity = model.SeverityHigh
		}
	}

	if ev.Kind == model.KindProcess {
		processName := strings.ToLower(ev.Details.String("process_name"))
		if elevationTools[processName] {
			indicators = append(indicators, "Elevation tool executed: "+processName)
			if severity == "" {
				severity = model.SeverityHigh
			}
		}
	}

	if len(indicators) == 0 {
		return model.NoThreat
	}
	if severity == "" {
		severity = model.SeverityHigh
	}

	confidence := 0.7
	if severity == model.SeverityCritical {
		confidence = 0.92
	}

	return model.Verdict{
		IsThreat:    true,
		Kind:        model.ThreatPrivilegeEscalation,
		Severity:    severity,
		Description: "Privilege escalation detected: " + indicators[0],
		Confidence:  confidence,
		Indicators:  indicators,
	}
}

func (e *Engine) checkMaliciousTraffic(ev *model.Event) model.Verdict {
	if ev.Kind != model.KindNetwork {
		return model.NoThreat
	}
	destIP := ev.Details.String("destination_ip")
	if !isBlacklisted(destIP) {
		return model.NoThreat
	}

	return model.Verdict{
		IsThreat:    true,
		Kind:        model.ThreatMaliciousTraffic,
		Severity:    model.SeverityCritical,
		Description: "Communication with known malicious IP: " + destIP,
		Confidence:  0.95,
		Indicators: []string{
			"Blacklisted IP: " + destIP,
			"Port: " + strconv.Itoa(ev.Details.Int("port")),
		},
	}
}

func filterLogins(in []loginAttempt, cutoff time.Time) []loginAttempt {
	out := in[:0]
	for _, a := range in {
		if a.at.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

func filterScans(in []portScanHit, cutoff time.Time) []portScanHit {
	out := in[:0]
	for _, s := range in {
		if s.at.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func filterTraffic(in []trafficSample, cutoff time.Time) []trafficSample {
	out := in[:0]
	for _, t := range in {
		if t.at.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func uniqueUsernames(attempts []loginAttempt, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range attempts {
		if !seen[a.username] {
			seen[a.username] = true
			out = append(out, a.username)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

