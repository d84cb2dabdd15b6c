package forensics

import (
	"context"
	"time"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

// DemoCapturer returns fixed, realistic-looking forensic data instead of
// querying the host, for environments where live gopsutil capture would
// be noisy or unavailable (demo deployments, CI, sandboxes).
type DemoCapturer struct {
	captureCount int
}

func NewDemoCapturer() *DemoCapturer {
	return &DemoCapturer{}
}

func (c *DemoCapturer) Capture(ctx context.Context, ev *model.Event, inc *model.Incident) (*model.ForensicReport, error) {
	c.captureCount++

	return &model.ForensicReport{
		ID:         reportID(c.captureCount),
		IncidentID: inc.ID,
		CapturedAt: time.Now().UTC(),
		System: model.SystemSnapshot{
			CPUPercent:    23.4,
			MemoryPercent: 61.2,
			DiskPercent:   48.7,
			UptimeHours:   142.5,
			BootTime:      time.Now().Add(-142*time.Hour - 30*time.Minute).UTC(),
		},
		Processes:   demoProcesses(),
		Connections: demoConnections(),
		Packets:     generateMockPackets(ev, inc, 5),
		Indicators:  extractIndicators(ev, inc),
		Recommended: recommendationsFor(inc),
	}, nil
}

func demoProcesses() []model.ProcessInfo {
	now := time.Now().UTC()
	return []model.ProcessInfo{
		{PID: 1024, Name: "sshd", User: "root", CPU: 2.1, Mem: 0.4, Status: "sleeping", CreatedAt: now.Add(-142 * time.Hour)},
		{PID: 2048, Name: "nginx", User: "www-data", CPU: 5.8, Mem: 1.2, Status: "running", CreatedAt: now.Add(-140 * time.Hour)},
		{PID: 3072, Name: "postgres", User: "postgres", CPU: 8.3, Mem: 4.5, Status: "sleeping", CreatedAt: now.Add(-140 * time.Hour)},
		{PID: 4096, Name: "redis-server", User: "redis", CPU: 1.4, Mem: 0.9, Status: "sleeping", CreatedAt: now.Add(-140 * time.Hour)},
		{PID: 5120, Name: "sentinel", User: "sentinel", CPU: 12.6, Mem: 3.1, Status: "running", CreatedAt: now.Add(-2 * time.Hour)},
	}
}

func demoConnections() []model.ConnectionInfo {
	return []model.ConnectionInfo{
		{LocalAddr: "10.0.0.5:22", RemoteAddr: "192.168.1.44:52341", Status: "ESTABLISHED", Process: "sshd"},
		{LocalAddr: "10.0.0.5:443", RemoteAddr: "203.0.113.12:51200", Status: "ESTABLISHED", Process: "nginx"},
		{LocalAddr: "10.0.0.5:5432", RemoteAddr: "10.0.0.9:48120", Status: "ESTABLISHED", Process: "postgres"},
		{LocalAddr: "10.0.0.5:6379", RemoteAddr: "10.0.0.9:48121", Status: "ESTABLISHED", Process: "redis-server"},
	}
}
