// Package materializer is the Incident Materializer (C8): the pipeline
// orchestrator that turns one telemetry event into features, an anomaly
// score, a rule verdict, a persisted event, and — when a threat is
// found — a materialized incident, forensic report, broadcast, and
// automated response. Each step is contained: a failure is logged and
// does not abort the steps after it, the same philosophy as the
// teacher's chi Recoverer middleware applied at the pipeline-step level.
package materializer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arc-sentinel/sentinel/internal/anomaly"
	"github.com/arc-sentinel/sentinel/internal/forensics"
	"github.com/arc-sentinel/sentinel/internal/hub"
	"github.com/arc-sentinel/sentinel/internal/response"
	"github.com/arc-sentinel/sentinel/internal/rules"
	"github.com/arc-sentinel/sentinel/internal/store"
	"github.com/arc-sentinel/sentinel/pkg/metrics"
	"github.com/arc-sentinel/sentinel/pkg/model"
)

// FeatureDeriver computes the feature vector for an event. Narrowed to
// avoid depending on the full features package surface.
type FeatureDeriver interface {
	Derive(ctx context.Context, ev *model.Event) model.FeatureContext
}

// Pipeline wires the Feature Deriver, Anomaly Model, Rule Engine, Store
// Gateway, Subscriber Hub, Forensic Capture, and Response Executor into
// the seven-step event-processing sequence.
type Pipeline struct {
	Store     store.Gateway
	Hub       *hub.Hub
	Features  FeatureDeriver
	Model     *anomaly.Holder
	Rules     *rules.Engine
	Forensics forensics.Capturer
	Response  *response.Executor
}

func New(st store.Gateway, h *hub.Hub, features FeatureDeriver, modelHolder *anomaly.Holder, ruleEngine *rules.Engine, capturer forensics.Capturer, responder *response.Executor) *Pipeline {
	return &Pipeline{
		Store:     st,
		Hub:       h,
		Features:  features,
		Model:     modelHolder,
		Rules:     ruleEngine,
		Forensics: capturer,
		Response:  responder,
	}
}

// Ingest satisfies telemetry.Sink, feeding generated or injected events
// straight into the pipeline.
func (p *Pipeline) Ingest(ctx context.Context, ev *model.Event) {
	p.Process(ctx, ev)
}

// Process runs one event through the full pipeline. It never returns an
// error: every step logs its own failure and the pipeline continues,
// matching spec.md §4.8's "a single bad event must not stall ingestion"
// requirement.
func (p *Pipeline) Process(ctx context.Context, ev *model.Event) {
	metrics.EventsIngested.WithLabelValues(string(ev.Kind)).Inc()

	ev.Features = p.Features.Derive(ctx, ev)
	ev.Enriched = true

	verdict := p.scoreAndEvaluate(ev)

	if err := p.Store.InsertEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("materializer: persist event failed")
	}

	if verdict.IsThreat {
		p.materializeIncident(ctx, ev, verdict)
	}

	if p.Hub != nil {
		p.Hub.Broadcast(hub.MessageEvent, ev)
	}
}

// scoreAndEvaluate runs the rule engine, then the anomaly model, and
// keeps whichever verdict is more severe — the Go reading of the
// original's sequential rule-check-then-ML-check-and-overwrite in
// check_event_for_threats.
func (p *Pipeline) scoreAndEvaluate(ev *model.Event) model.Verdict {
	verdict := model.NoThreat
	if p.Rules != nil {
		verdict = p.Rules.Evaluate(ev)
	}

	if p.Model == nil {
		return verdict
	}
	m := p.Model.Load()
	if m == nil {
		return verdict
	}

	score, flagged := m.Score(ev.Features.Vector())
	ev.AnomScore = score
	ev.MLFlagged = flagged
	metrics.MLScored.WithLabelValues(boolLabel(flagged)).Inc()

	if !flagged {
		return verdict
	}
	if verdict.IsThreat && verdict.Severity.Rank() <= model.SeverityHigh.Rank() {
		// an existing rule verdict is already high or critical; ML
		// anomaly (capped at "high") does not override it.
		return verdict
	}

	return model.Verdict{
		IsThreat:    true,
		Kind:        model.ThreatMLAnomaly,
		Severity:    model.SeverityHigh,
		Description: fmt.Sprintf("ML detected anomaly (score: %.2f)", score),
		Confidence:  score,
	}
}

func boolLabel(b bool) string {
	if b {
		return "flagged"
	}
	return "unflagged"
}

func (p *Pipeline) materializeIncident(ctx context.Context, ev *model.Event, verdict model.Verdict) {
	now := time.Now().UTC()
	inc := &model.Incident{
		ID:          uuid.NewString(),
		Kind:        verdict.Kind,
		Severity:    verdict.Severity,
		Description: verdict.Description,
		Confidence:  verdict.Confidence,
		Indicators:  verdict.Indicators,
		EventID:     ev.ID,
		SourceIP:    ev.SourceIP,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      model.StatusActive,
	}

	if err := p.Store.InsertIncident(ctx, inc); err != nil {
		log.Error().Err(err).Str("incident_id", inc.ID).Msg("materializer: persist incident failed")
	}
	metrics.IncidentsCreated.WithLabelValues(string(inc.Kind), string(inc.Severity)).Inc()

	if p.Forensics != nil {
		report, err := p.Forensics.Capture(ctx, ev, inc)
		if err != nil {
			log.Error().Err(err).Str("incident_id", inc.ID).Msg("materializer: forensic capture failed")
		} else if err := p.Store.InsertReport(ctx, report); err != nil {
			log.Error().Err(err).Str("incident_id", inc.ID).Msg("materializer: persist report failed")
		}
	}

	if p.Hub != nil {
		p.Hub.Broadcast(hub.MessageIncident, inc)
	}

	if p.Response != nil {
		summary := p.Response.Execute(ctx, inc, ev)
		if !summary.Success {
			log.Warn().Str("incident_id", inc.ID).Msg("materializer: one or more response actions failed")
		}
	}
}
