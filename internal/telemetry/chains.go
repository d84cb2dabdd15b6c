package telemetry

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

// ChainKind names a scripted multi-event attack scenario the operator
// can trigger on demand (POST /api/simulate/attack).
type ChainKind string

const (
	ChainBruteforce          ChainKind = "bruteforce"
	ChainBruteForceAlias     ChainKind = "brute_force"
	ChainPortScan            ChainKind = "port_scan"
	ChainMalware             ChainKind = "malware"
	ChainMalwareAlias        ChainKind = "malware_detection"
	ChainDDoS                ChainKind = "ddos"
	ChainSQLInjection        ChainKind = "sql_injection"
	ChainPrivilegeEscalation ChainKind = "privilege_escalation"
	ChainExfiltration        ChainKind = "exfiltration"
	ChainExfiltrationAlias   ChainKind = "data_exfiltration"
)

// ChainInjector builds the fixed multi-stage event sequences that
// exercise the Rule Engine's detectors end to end — grounded on
// original_source/backend/app/telemetry.py's AttackChainGenerator.
type ChainInjector struct {
	seq atomic.Int64
}

func NewChainInjector() *ChainInjector {
	return &ChainInjector{}
}

// Generate returns the event sequence for the named chain, or the
// single-event default chain if the name is unrecognized.
func (c *ChainInjector) Generate(kind ChainKind, target string) []*model.Event {
	if target == "" {
		target = "192.168.1.100"
	}
	switch kind {
	case ChainBruteforce, ChainBruteForceAlias:
		return c.bruteforceChain()
	case ChainPortScan:
		return c.portScanChain(target)
	case ChainMalware, ChainMalwareAlias:
		return c.malwareChain()
	case ChainDDoS:
		return c.ddosChain(target)
	case ChainSQLInjection:
		return c.sqliChain(target)
	case ChainPrivilegeEscalation:
		return c.privescChain()
	case ChainExfiltration, ChainExfiltrationAlias:
		return c.exfiltrationChain()
	default:
		return c.defaultChain(target)
	}
}

func (c *ChainInjector) event(kind model.Kind, sev model.Severity, details model.Details, sourceIP string) *model.Event {
	if sourceIP == "" {
		sourceIP = fmt.Sprintf("192.168.1.%d", 1+rand.Intn(255))
	}
	return &model.Event{
		ID:        generateEventID(c.seq.Add(1)),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		SourceIP:  sourceIP,
		Severity:  sev,
		Details:   details,
	}
}

func randAttackerIP() string {
	return fmt.Sprintf("10.0.0.%d", 1+rand.Intn(255))
}

func (c *ChainInjector) bruteforceChain() []*model.Event {
	attacker := randAttackerIP()
	events := make([]*model.Event, 0, 7)
	logins := []string{"admin", "root", "administrator"}
	for i := 0; i < 6; i++ {
		sev := model.SeverityMedium
		if i >= 4 {
			sev = model.SeverityHigh
		}
		events = append(events, c.event(model.KindLogin, sev, model.Details{
			"username": logins[rand.Intn(len(logins))],
			"success":  false,
			"method":   "ssh",
			"attempts": 1,
			"reason":   "invalid_password",
		}, attacker))
	}
	events = append(events, c.event(model.KindLogin, model.SeverityCritical, model.Details{
		"username":   "admin",
		"success":    true,
		"method":     "ssh",
		"attempts":   1,
		"suspicious": true,
	}, attacker))
	return events
}

func (c *ChainInjector) portScanChain(target string) []*model.Event {
	attacker := randAttackerIP()
	ports := []int{22, 23, 80, 443, 445, 3306, 3389, 5432, 8080, 8443}
	events := make([]*model.Event, 0, len(ports))
	for _, port := range ports {
		events = append(events, c.event(model.KindNetwork, model.SeverityMedium, model.Details{
			"destination_ip": target,
			"port":           port,
			"protocol":       "TCP",
			"bytes":          64,
			"flags":          "SYN",
			"scan_detected":  true,
		}, attacker))
	}
	return events
}

func (c *ChainInjector) malwareChain() []*model.Event {
	return []*model.Event{
		c.event(model.KindProcess, model.SeverityCritical, model.Details{
			"process_name":   "suspicious.exe",
			"pid":            6666,
			"hash":           "abc123malicious",
			"parent_process": "explorer.exe",
			"command_line":   "suspicious.exe -hidden -persist",
		}, ""),
		c.event(model.KindNetwork, model.SeverityCritical, model.Details{
			"destination_ip": BlacklistIPs[0],
			"port":           443,
			"protocol":       "TCP",
			"bytes":          5000,
			"beacon":         true,
		}, ""),
		c.event(model.KindOS, model.SeverityHigh, model.Details{
			"action":     "file_modify",
			"path":       "/etc/crontab",
			"user":       "root",
			"suspicious": true,
		}, ""),
	}
}

func (c *ChainInjector) ddosChain(target string) []*model.Event {
	events := make([]*model.Event, 0, 10)
	flags := []string{"SYN", "ACK", "RST"}
	for i := 0; i < 10; i++ {
		src := fmt.Sprintf("%d.%d.%d.%d", 1+rand.Intn(255), 1+rand.Intn(255), 1+rand.Intn(255), 1+rand.Intn(255))
		events = append(events, c.event(model.KindNetwork, model.SeverityCritical, model.Details{
			"destination_ip":  target,
			"port":            80,
			"protocol":        "TCP",
			"bytes":           5000 + rand.Intn(10000),
			"flags":           flags[rand.Intn(len(flags))],
			"flood_detected":  true,
		}, src))
	}
	return events
}

func (c *ChainInjector) sqliChain(target string) []*model.Event {
	attacker := randAttackerIP()
	return []*model.Event{
		c.event(model.KindNetwork, model.SeverityMedium, model.Details{
			"destination_ip": target,
			"port":           3306,
			"protocol":       "TCP",
			"bytes":          512,
			"service":        "mysql",
		}, attacker),
		c.event(model.KindOS, model.SeverityHigh, model.Details{
			"action":             "database_query",
			"command":            "SELECT * FROM users WHERE id=1 OR 1=1; DROP TABLE users;--",
			"database":           "production_db",
			"injection_detected": true,
		}, attacker),
	}
}

func (c *ChainInjector) privescChain() []*model.Event {
	return []*model.Event{
		c.event(model.KindLogin, model.SeverityLow, model.Details{
			"username": "user1",
			"success":  true,
			"method":   "ssh",
		}, ""),
		c.event(model.KindProcess, model.SeverityHigh, model.Details{
			"process_name": "sudo",
			"pid":          8888,
			"hash":         "privilege_esc",
			"command_line": "sudo -i",
		}, ""),
		c.event(model.KindOS, model.SeverityCritical, model.Details{
			"action":      "role_change",
			"user_change": "user1 -> root",
			"method":      "sudo",
			"suspicious":  true,
		}, ""),
	}
}

func (c *ChainInjector) exfiltrationChain() []*model.Event {
	return []*model.Event{
		c.event(model.KindProcess, model.SeverityMedium, model.Details{
			"process_name": "tar",
			"pid":          7777,
			"hash":         "compress_data",
			"command_line": "tar -czf /tmp/data.tar.gz /var/sensitive/",
		}, ""),
		c.event(model.KindNetwork, model.SeverityCritical, model.Details{
			"destination_ip":       BlacklistIPs[1],
			"port":                 443,
			"protocol":             "TCP",
			"bytes":                500000,
			"direction":            "outbound",
			"exfiltration_suspected": true,
		}, ""),
	}
}

func (c *ChainInjector) defaultChain(target string) []*model.Event {
	return []*model.Event{
		c.event(model.KindNetwork, model.SeverityHigh, model.Details{
			"destination_ip": target,
			"port":           80,
			"protocol":       "TCP",
			"bytes":          1000,
			"suspicious":     true,
		}, ""),
	}
}
