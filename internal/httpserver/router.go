// Package httpserver is the HTTP/WebSocket surface: the administrative
// REST API for retrieval, investigation, and simulated attack
// injection, plus the live event/incident WebSocket feed, built with
// chi in the teacher's composition style — NewRouter assembles
// middleware and routes once, with every dependency injected rather
// than constructed inline.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/arc-sentinel/sentinel/internal/anomaly"
	"github.com/arc-sentinel/sentinel/internal/config"
	"github.com/arc-sentinel/sentinel/internal/hub"
	"github.com/arc-sentinel/sentinel/internal/llm"
	Lm "github.com/arc-sentinel/sentinel/internal/middleware"
	"github.com/arc-sentinel/sentinel/internal/response"
	"github.com/arc-sentinel/sentinel/internal/store"
	"github.com/arc-sentinel/sentinel/internal/telemetry"
	"github.com/arc-sentinel/sentinel/pkg/model"
)

// EventSink is the narrow surface the router needs from the Incident
// Materializer to drive simulated/manual event injection, avoiding a
// direct dependency on the full materializer.Pipeline type.
type EventSink interface {
	Ingest(ctx context.Context, ev *model.Event)
}

// Trainer is the narrow surface needed for /api/ml/train; implemented
// by internal/trainer's Adapter, which pulls feature vectors from the
// store and swaps the result into the anomaly.Holder.
type Trainer interface {
	Train(ctx context.Context) (samples int, err error)
}

// RouterDeps is everything NewRouter needs, injected once at the
// composition root (cmd/sentinel/main.go) — the same "build once, hand
// down narrow interfaces" shape the teacher's RouterDeps used for the
// reverse proxy and rate limiter.
type RouterDeps struct {
	Cfg      *config.Config
	Store    store.Gateway
	Hub      *hub.Hub
	Model    *anomaly.Holder
	LLM      llm.Client
	Chains   *telemetry.ChainInjector
	Pipeline EventSink
	Trainer  Trainer
	Identity Lm.IdentityProvider
	Throttle *Lm.AuthThrottle
	Response *response.Executor
}

// NewRouter builds the chi router for the whole administrative and
// live-feed surface.
func NewRouter(d RouterDeps) (http.Handler, func()) {
	r := chi.NewRouter()

	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(Lm.AccessLoggerFromEnv())
	r.Use(corsMiddleware(d.Cfg.CORS.Origins))

	cleanup := func() {}

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"name": "sentinel", "version": "0.1.0", "status": "ok",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if IsDraining() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	auth := &Lm.AuthHandlers{Provider: d.Identity, Throttle: d.Throttle}
	r.Route("/api/auth", func(ar chi.Router) {
		ar.Post("/signup", auth.SignUp)
		ar.Post("/login", auth.Login)
		ar.Post("/logout", auth.Logout)
		ar.Post("/refresh", auth.Refresh)
		ar.Post("/reset-password", auth.ResetPassword)
		ar.Get("/me", auth.Me)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(Lm.BearerAuth(d.Cfg.Auth.JWTSecret))

		api.Get("/events", h.listEvents(d))
		api.Get("/incidents", h.listIncidents(d))
		api.Get("/incidents/counts", h.incidentCounts(d))
		api.Get("/incident/{id}", h.getIncident(d))
		api.Post("/incident/{id}/resolve", h.resolveIncident(d))
		api.Post("/incident/{id}/investigate", h.investigateIncident(d))
		api.Get("/stats", h.stats(d))
		api.Get("/reports", h.listReports(d))
		api.Get("/report/{id}", h.getReport(d))
		api.Post("/ml/train", h.trainModel(d))
		api.Get("/ml/status", h.modelStatus(d))
		api.Get("/gemini/summarize/{id}", h.summarizeIncident(d))

		api.Get("/response/isolations", h.activeIsolations(d))
		api.Get("/response/quarantines", h.activeQuarantines(d))
		api.Get("/response/revocations", h.revokedSessions(d))
	})

	// /api/simulate/attack allows an optional bearer token (spec.md §6:
	// "optional auth for demo") rather than requiring one.
	r.Post("/api/simulate/attack", h.simulateAttack(d))

	r.Get("/api/events/live", func(w http.ResponseWriter, r *http.Request) { d.Hub.ServeWS(w, r) })
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) { d.Hub.ServeWS(w, r) })

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})

	return r, cleanup
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// h namespaces the route handler constructors so route registration in
// NewRouter stays readable; each returns an http.HandlerFunc closed over
// RouterDeps.
var h handlers

type handlers struct{}

func (handlers) listEvents(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r, 100)
		var filters store.EventFilters
		if sev := r.URL.Query().Get("severity"); sev != "" {
			filters.Severity = model.Severity(sev)
		}
		if kind := r.URL.Query().Get("kind"); kind != "" {
			filters.Kind = model.Kind(kind)
		}
		if src := r.URL.Query().Get("source_ip"); src != "" {
			filters.Source = src
		}
		events, err := d.Store.ListEvents(r.Context(), limit, filters)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list events")
			return
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func (handlers) listIncidents(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filters store.IncidentFilters
		if status := r.URL.Query().Get("status"); status != "" {
			filters.Status = model.Status(status)
		}
		if kind := r.URL.Query().Get("kind"); kind != "" {
			filters.Kind = model.ThreatKind(kind)
		}
		if sev := r.URL.Query().Get("severity"); sev != "" {
			filters.Severity = model.Severity(sev)
		}
		incidents, err := d.Store.ListIncidents(r.Context(), filters)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list incidents")
			return
		}
		writeJSON(w, http.StatusOK, incidents)
	}
}

func (handlers) incidentCounts(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := d.Store.GetStats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load counts")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{
			"total":  stats.TotalIncidents,
			"active": stats.ActiveIncidents,
		})
	}
}

func (handlers) getIncident(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		inc, err := d.Store.GetIncident(r.Context(), id)
		if err != nil || inc == nil {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		writeJSON(w, http.StatusOK, inc)
	}
}

func (handlers) resolveIncident(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		inc, err := d.Store.GetIncident(r.Context(), id)
		if err != nil || inc == nil {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		var body struct {
			Resolution string `json:"resolution_note"`
			ResolvedBy string `json:"resolved_by"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		now := time.Now().UTC()
		inc.Status = model.StatusResolved
		inc.ResolvedAt = &now
		inc.Resolution = body.Resolution
		inc.ResolvedBy = body.ResolvedBy
		inc.UpdatedAt = now

		if err := d.Store.UpdateIncident(r.Context(), inc); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve incident")
			return
		}
		if d.Hub != nil {
			d.Hub.Broadcast(hub.MessageIncident, inc)
		}
		writeJSON(w, http.StatusOK, inc)
	}
}

func (handlers) investigateIncident(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		inc, err := d.Store.GetIncident(r.Context(), id)
		if err != nil || inc == nil {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		inc.Status = model.StatusInvestigating
		inc.UpdatedAt = time.Now().UTC()
		if err := d.Store.UpdateIncident(r.Context(), inc); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update incident")
			return
		}
		if d.Hub != nil {
			d.Hub.Broadcast(hub.MessageIncident, inc)
		}
		writeJSON(w, http.StatusOK, inc)
	}
}

func (handlers) stats(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := d.Store.GetStats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load stats")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (handlers) listReports(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseLimit(r, 50)
		reports, err := d.Store.ListReports(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list reports")
			return
		}
		writeJSON(w, http.StatusOK, reports)
	}
}

func (handlers) getReport(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		report, err := d.Store.GetReport(r.Context(), id)
		if err != nil || report == nil {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (handlers) trainModel(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Trainer == nil {
			writeError(w, http.StatusServiceUnavailable, "trainer not configured")
			return
		}
		samples, err := d.Trainer.Train(r.Context())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"trained_on_samples": samples})
	}
}

func (handlers) modelStatus(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := d.Model.Load()
		if m == nil {
			writeJSON(w, http.StatusOK, map[string]bool{"trained": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"trained":          true,
			"trained_at":       m.TrainedAt,
			"training_samples": m.TrainingSamples,
			"num_trees":        m.NumTrees,
			"threshold":        m.Threshold,
		})
	}
}

func (handlers) summarizeIncident(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		inc, err := d.Store.GetIncident(r.Context(), id)
		if err != nil || inc == nil {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		report := reportForIncident(r.Context(), d.Store, inc.ID)
		summary := d.LLM.SummarizeIncident(r.Context(), inc, report)
		writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
	}
}

func (handlers) activeIsolations(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Response == nil {
			writeError(w, http.StatusServiceUnavailable, "response executor not configured")
			return
		}
		entries, err := d.Response.ActiveIsolations(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load isolations")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (handlers) activeQuarantines(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Response == nil {
			writeError(w, http.StatusServiceUnavailable, "response executor not configured")
			return
		}
		entries, err := d.Response.ActiveQuarantines(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load quarantines")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (handlers) revokedSessions(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Response == nil {
			writeError(w, http.StatusServiceUnavailable, "response executor not configured")
			return
		}
		entries, err := d.Response.RevokedSessions(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load revocations")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (handlers) simulateAttack(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Chain  string `json:"chain"`
			Target string `json:"target_ip"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Chain == "" {
			writeError(w, http.StatusBadRequest, "missing chain name")
			return
		}
		events := d.Chains.Generate(chainKind(body.Chain), body.Target)
		go func() {
			ctx := context.Background()
			for _, ev := range events {
				d.Pipeline.Ingest(ctx, ev)
				time.Sleep(300 * time.Millisecond)
			}
		}()
		log.Info().Str("chain", body.Chain).Int("events", len(events)).Msg("simulate: chain injected")
		writeJSON(w, http.StatusAccepted, map[string]int{"events_queued": len(events)})
	}
}

func chainKind(s string) telemetry.ChainKind { return telemetry.ChainKind(s) }

// reportForIncident finds the forensic report captured for incidentID.
// The store indexes reports by their own ID, not by incident, so this
// scans at most 500 stored reports rather than adding a second index for
// what is a low-volume admin-only lookup. The store's report set is
// unordered: with more than 500 reports stored, which ones are scanned
// is not defined, and the incident's report can be missed.
func reportForIncident(ctx context.Context, st store.Gateway, incidentID string) *model.ForensicReport {
	reports, err := st.ListReports(ctx, 500)
	if err != nil {
		return nil
	}
	for _, rep := range reports {
		if rep.IncidentID == incidentID {
			return rep
		}
	}
	return nil
}

func parseLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
