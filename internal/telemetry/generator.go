// Package telemetry is the Telemetry Generator (C3): a ticker-driven
// synthetic event source used for demo/test traffic, plus an
// on-demand attack-chain injector for scripted scenarios.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

var (
	eventTypes      = []model.Kind{model.KindOS, model.KindLogin, model.KindProcess, model.KindNetwork}
	severities      = []model.Severity{model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical}
	severityWeights = []float64{0.4, 0.35, 0.2, 0.05}

	internalIPs = genInternalIPs()
	externalIPs = []string{"8.8.8.8", "1.1.1.1", "208.67.222.222", "9.9.9.9"}
	commonPorts = []int{22, 80, 443, 3306, 5432, 8080, 8443, 3389}

	// BlacklistIPs are the known-malicious addresses occasionally
	// injected into synthetic traffic and surfaced to the rule engine.
	BlacklistIPs = []string{"45.33.32.156", "198.51.100.42", "203.0.113.0", "192.0.2.1"}

	usernames        = []string{"admin", "root", "user1", "user2", "developer", "analyst", "guest", "service_account"}
	normalProcesses  = []string{"nginx", "python", "node", "java", "postgres", "redis", "docker", "systemd", "sshd", "cron", "apache2"}
	suspiciousProcs  = []string{"suspicious.exe", "cryptominer", "backdoor.sh"}
)

func genInternalIPs() []string {
	ips := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		ips = append(ips, fmt.Sprintf("192.168.1.%d", i))
	}
	return ips
}

// Sink receives generated events — the materializer pipeline in
// practice, decoupled here so the generator can be tested standalone.
type Sink interface {
	Ingest(ctx context.Context, ev *model.Event)
}

// Generator emits one synthetic event per tick on a background
// goroutine, in the teacher's stop-channel-plus-Close idiom.
type Generator struct {
	sink           Sink
	interval       time.Duration
	injectionRate  float64
	eventCount     atomic.Int64
	stop           chan struct{}
	running        atomic.Bool
}

func NewGenerator(sink Sink, interval time.Duration, injectionRate float64) *Generator {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Generator{
		sink:          sink,
		interval:      interval,
		injectionRate: injectionRate,
		stop:          make(chan struct{}),
	}
}

// Start runs the generation loop until Stop is called or ctx is done.
func (g *Generator) Start(ctx context.Context) {
	if !g.running.CompareAndSwap(false, true) {
		return
	}
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", g.interval).Msg("telemetry: generator started")
	for {
		select {
		case <-ctx.Done():
			g.running.Store(false)
			return
		case <-g.stop:
			g.running.Store(false)
			return
		case <-ticker.C:
			ev := g.GenerateEvent()
			g.sink.Ingest(ctx, ev)
		}
	}
}

// Stop halts the generation loop.
func (g *Generator) Stop() {
	if g.running.Load() {
		close(g.stop)
	}
}

// Ready reports whether the generator loop is currently running.
func (g *Generator) Ready() bool {
	return g.running.Load()
}

// GenerateEvent produces one synthetic event, occasionally injecting a
// mildly suspicious variant per injectionRate — grounded on
// original_source/backend/app/telemetry.py TelemetryGenerator.generate_event.
func (g *Generator) GenerateEvent() *model.Event {
	n := g.eventCount.Add(1)
	kind := eventTypes[rand.Intn(len(eventTypes))]
	suspicious := rand.Float64() < g.injectionRate

	sev := weightedSeverity()
	if suspicious {
		sev = []model.Severity{model.SeverityMedium, model.SeverityHigh}[rand.Intn(2)]
	}

	return &model.Event{
		ID:        generateEventID(n),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		SourceIP:  sourceIP(suspicious),
		Severity:  sev,
		Details:   generateDetails(kind, suspicious),
	}
}

func weightedSeverity() model.Severity {
	r := rand.Float64()
	var cum float64
	for i, w := range severityWeights {
		cum += w
		if r < cum {
			return severities[i]
		}
	}
	return severities[len(severities)-1]
}

func sourceIP(suspicious bool) string {
	if suspicious && rand.Float64() < 0.3 {
		return BlacklistIPs[rand.Intn(len(BlacklistIPs))]
	}
	return internalIPs[rand.Intn(len(internalIPs))]
}

// generateEventID mirrors the original's md5(ts+count+random())[:16],
// upgraded to sha256 per the teacher's house preference for stronger
// hashes (rl/mitigation.go key builders never use md5 either).
func generateEventID(count int64) string {
	seed := fmt.Sprintf("%s%d%s", time.Now().UTC().Format(time.RFC3339Nano), count, uuid.NewString())
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}

func generateDetails(kind model.Kind, suspicious bool) model.Details {
	switch kind {
	case model.KindLogin:
		return loginDetails(suspicious)
	case model.KindProcess:
		return processDetails(suspicious)
	case model.KindNetwork:
		return networkDetails(suspicious)
	default:
		return osDetails(suspicious)
	}
}

func loginDetails(suspicious bool) model.Details {
	success := !suspicious && rand.Float64() > 0.1
	attempts := 1
	if !success {
		attempts = 1 + rand.Intn(3)
	}
	return model.Details{
		"username":       usernames[rand.Intn(len(usernames))],
		"success":        success,
		"method":         []string{"ssh", "console", "rdp", "api"}[rand.Intn(4)],
		"attempts":       attempts,
		"client_version": fmt.Sprintf("OpenSSH_%d.%d", 7+rand.Intn(3), rand.Intn(10)),
	}
}

func processDetails(suspicious bool) model.Details {
	name := normalProcesses[rand.Intn(len(normalProcesses))]
	if suspicious && rand.Float64() < 0.5 {
		name = suspiciousProcs[rand.Intn(len(suspiciousProcs))]
	}
	hashSeed := fmt.Sprintf("%s%f", name, rand.Float64())
	sum := sha256.Sum256([]byte(hashSeed))
	return model.Details{
		"process_name":  name,
		"pid":           1000 + rand.Intn(64535),
		"ppid":          1 + rand.Intn(1000),
		"hash":          hex.EncodeToString(sum[:]),
		"cpu_percent":   roundTo(rand.Float64()*15, 2),
		"memory_mb":     10 + rand.Intn(490),
		"user":          usernames[rand.Intn(len(usernames))],
	}
}

func networkDetails(suspicious bool) model.Details {
	destIP := externalIPs[rand.Intn(len(externalIPs))]
	bytesTransferred := 64 + rand.Intn(5000-64)
	if suspicious && rand.Float64() < 0.4 {
		destIP = BlacklistIPs[rand.Intn(len(BlacklistIPs))]
		bytesTransferred = 10000 + rand.Intn(100000-10000)
	}
	return model.Details{
		"destination_ip":    destIP,
		"port":              commonPorts[rand.Intn(len(commonPorts))],
		"protocol":          []string{"TCP", "UDP"}[rand.Intn(2)],
		"bytes":             bytesTransferred,
		"direction":         []string{"inbound", "outbound"}[rand.Intn(2)],
		"connection_state":  []string{"ESTABLISHED", "SYN_SENT", "TIME_WAIT", "CLOSE_WAIT"}[rand.Intn(4)],
	}
}

func osDetails(suspicious bool) model.Details {
	actions := []string{"file_access", "file_modify", "registry_change", "service_start", "service_stop", "config_change"}
	logs := []string{"syslog", "auth.log", "messages"}
	prefix := ""
	result := "success"
	if suspicious {
		prefix = "suspicious/"
		result = []string{"success", "failure"}[rand.Intn(2)]
	}
	return model.Details{
		"action":   actions[rand.Intn(len(actions))],
		"path":     fmt.Sprintf("/var/log/%s%s", prefix, logs[rand.Intn(len(logs))]),
		"user":     usernames[rand.Intn(len(usernames))],
		"result":   result,
		"audit_id": 10000 + rand.Intn(89999),
	}
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int(v*mult+0.5)) / mult
}
