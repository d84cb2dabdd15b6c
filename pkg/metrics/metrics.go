// Package metrics registers sentinel's prometheus vectors, split by
// concern the way the teacher's pkg/metrics split anomaly.go/limited.go.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "events_ingested_total",
			Help:      "Telemetry events that reached the materializer pipeline, by kind.",
		},
		[]string{"kind"},
	)

	IncidentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "incidents_created_total",
			Help:      "Incidents materialized, by threat kind and severity.",
		},
		[]string{"kind", "severity"},
	)

	MLScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "ml_scored_total",
			Help:      "Events scored by the anomaly model, by flagged/unflagged.",
		},
		[]string{"flagged"},
	)

	MLTrainSamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "ml_train_samples",
			Help:      "Sample count used by the last successful model train.",
		},
	)

	BroadcastsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "broadcasts_sent_total",
			Help:      "Messages broadcast to subscribers, by message type.",
		},
		[]string{"type"},
	)

	SubscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "subscribers_active",
			Help:      "Current count of live WebSocket subscribers.",
		},
	)

	ResponseActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "response_actions_total",
			Help:      "Automated response actions executed, by action and status.",
		},
		[]string{"action", "status"},
	)

	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "store_errors_total",
			Help:      "Store gateway operation failures, by operation.",
		},
		[]string{"op"},
	)

	AuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "auth_attempts_total",
			Help:      "Login attempts observed by the auth throttle, by outcome.",
		},
		[]string{"outcome"},
	)

	registerOnce sync.Once
)

// Register registers all sentinel metrics once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(EventsIngested)
		reg.MustRegister(IncidentsCreated)
		reg.MustRegister(MLScored)
		reg.MustRegister(MLTrainSamples)
		reg.MustRegister(BroadcastsSent)
		reg.MustRegister(SubscribersActive)
		reg.MustRegister(ResponseActions)
		reg.MustRegister(StoreErrors)
		reg.MustRegister(AuthAttempts)
	})
}
