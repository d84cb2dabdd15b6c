// Package llm is the narrative summarization client: it turns an
// incident plus its forensic report into a markdown analyst summary,
// gracefully degrading to a deterministic template when no external
// model is configured or reachable.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arc-sentinel/sentinel/pkg/model"
)

// Client summarizes an incident for IR analysts. Implementations never
// return an error for model unavailability — they degrade to a fallback
// summary instead, matching the original engine's "never crashes" rule.
type Client interface {
	SummarizeIncident(ctx context.Context, inc *model.Incident, report *model.ForensicReport) string
}

// FallbackClient renders a deterministic markdown summary with no
// external calls. Selected at the composition root when the LLM is not
// enabled (no API key configured) or demo mode is on; HTTPClient also
// falls back to its template whenever a call fails.
type FallbackClient struct{}

func NewFallbackClient() *FallbackClient { return &FallbackClient{} }

func (FallbackClient) SummarizeIncident(ctx context.Context, inc *model.Incident, report *model.ForensicReport) string {
	return fallbackSummary(inc, report)
}

func fallbackSummary(inc *model.Incident, report *model.ForensicReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Incident Summary\n\n")
	fmt.Fprintf(&b, "**Type:** %s\n", inc.Kind)
	fmt.Fprintf(&b, "**Severity:** %s\n", strings.ToUpper(string(inc.Severity)))
	fmt.Fprintf(&b, "**Status:** %s\n", inc.Status)
	fmt.Fprintf(&b, "**Confidence:** %.2f\n\n", inc.Confidence)

	fmt.Fprintf(&b, "### Executive Summary\nA %s severity %s incident has been detected and requires attention. Automated forensic capture has collected system state for analysis.\n\n", inc.Severity, inc.Kind)

	fmt.Fprintf(&b, "### Technical Analysis\n%s\n\n", orDefault(inc.Description, "Incident detected by automated monitoring."))

	fmt.Fprintf(&b, "### Indicators of Compromise\n")
	if report != nil && len(report.Indicators) > 0 {
		for _, i := range report.Indicators {
			fmt.Fprintf(&b, "- %s\n", i)
		}
	} else {
		b.WriteString("- None identified\n")
	}
	b.WriteString("\n")

	if report != nil {
		fmt.Fprintf(&b, "### System State at Detection\n")
		fmt.Fprintf(&b, "- **CPU:** %.1f%%\n", report.System.CPUPercent)
		fmt.Fprintf(&b, "- **Memory:** %.1f%%\n", report.System.MemoryPercent)
		fmt.Fprintf(&b, "- **Disk:** %.1f%%\n", report.System.DiskPercent)
		fmt.Fprintf(&b, "- **Active Processes:** %d\n", len(report.Processes))
		fmt.Fprintf(&b, "- **Network Connections:** %d\n\n", len(report.Connections))
	}

	fmt.Fprintf(&b, "### Remediation Recommendations\n")
	if report != nil && len(report.Recommended) > 0 {
		limit := len(report.Recommended)
		if limit > 5 {
			limit = 5
		}
		for i, r := range report.Recommended[:limit] {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r)
		}
	} else {
		b.WriteString("1. Follow standard incident response procedures\n")
	}

	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// HTTPClient calls an external generative-model endpoint for incident
// summarization, falling back to FallbackClient whenever the call fails
// or the response is empty.
type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	fallback   *FallbackClient
}

type HTTPClientConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		fallback:   NewFallbackClient(),
	}
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type generateResponse struct {
	Text string `json:"text"`
}

func (c *HTTPClient) SummarizeIncident(ctx context.Context, inc *model.Incident, report *model.ForensicReport) string {
	prompt := buildSummaryPrompt(inc, report)

	text, err := c.generate(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Str("incident_id", inc.ID).Msg("llm summarization failed, using fallback")
		return "AI summary unavailable. " + fallbackSummary(inc, report)
	}
	if text == "" {
		return fallbackSummary(inc, report)
	}
	return text
}

func (c *HTTPClient) generate(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{
		Model:       c.model,
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   2048,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return out.Text, nil
}

func buildSummaryPrompt(inc *model.Incident, report *model.ForensicReport) string {
	var b strings.Builder
	b.WriteString("You are a Senior SOC Analyst. Summarize this forensic snapshot for Incident Response analysis. Provide remediation in 5 bullets.\n\n")
	fmt.Fprintf(&b, "=== INCIDENT DETAILS ===\nType: %s\nSeverity: %s\nDescription: %s\nConfidence: %.2f\nStatus: %s\n\n",
		inc.Kind, strings.ToUpper(string(inc.Severity)), inc.Description, inc.Confidence, inc.Status)

	if report != nil {
		fmt.Fprintf(&b, "=== SYSTEM STATE ===\nCPU: %.1f%%\nMemory: %.1f%%\nDisk: %.1f%%\nUptime: %.1fh\n\n",
			report.System.CPUPercent, report.System.MemoryPercent, report.System.DiskPercent, report.System.UptimeHours)

		b.WriteString("=== INDICATORS OF COMPROMISE ===\n")
		for _, i := range report.Indicators {
			fmt.Fprintf(&b, "- %s\n", i)
		}
		b.WriteString("\n")
	}

	b.WriteString("Provide: Executive Summary, Technical Analysis, Impact Assessment, 5 Remediation Recommendations, Prevention Measures.\n")
	return b.String()
}
