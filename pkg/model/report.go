package model

import "time"

// ProcessInfo is one row of the forensic process snapshot.
type ProcessInfo struct {
	PID       int32     `json:"pid"`
	Name      string    `json:"name"`
	User      string    `json:"user"`
	CPU       float64   `json:"cpu_percent"`
	Mem       float32   `json:"mem_percent"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectionInfo is one row of the forensic connection snapshot.
type ConnectionInfo struct {
	LocalAddr  string `json:"local_address"`
	RemoteAddr string `json:"remote_address"`
	Status     string `json:"status"`
	Process    string `json:"process_name"`
}

// Packet is one entry of the synthetic packet trace attached to a report.
type Packet struct {
	Sequence    int       `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	SourceIP    string    `json:"source_ip"`
	SourcePort  int       `json:"source_port"`
	DestIP      string    `json:"destination_ip"`
	DestPort    int       `json:"destination_port"`
	Protocol    string    `json:"protocol"`
	Flags       string    `json:"flags"`
	SizeBytes   int       `json:"size_bytes"`
	TTL         int       `json:"ttl"`
	PayloadPrev string    `json:"payload_preview"`
}

// SystemSnapshot is the host-state summary captured at incident time.
type SystemSnapshot struct {
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	DiskPercent    float64   `json:"disk_percent"`
	UptimeHours    float64   `json:"uptime_hours"`
	BootTime       time.Time `json:"boot_time"`
}

// ForensicReport is the incident-scoped snapshot produced by the
// Forensic Capture component.
type ForensicReport struct {
	ID             string           `json:"id"`
	IncidentID     string           `json:"incident_id"`
	CapturedAt     time.Time        `json:"captured_at"`
	System         SystemSnapshot   `json:"system_info"`
	Processes      []ProcessInfo    `json:"processes"`
	Connections    []ConnectionInfo `json:"connections"`
	Packets        []Packet         `json:"packet_data"`
	Indicators     []string         `json:"suspicious_indicators"`
	Recommended    []string         `json:"recommended_actions"`
	NarrativeSummary string         `json:"summary,omitempty"`
}
