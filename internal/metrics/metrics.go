package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "riskgraph_events_ingested_total",
			Help: "Total number of events accepted into entity windows",
		},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgraph_events_rejected_total",
			Help: "Total number of rejected records by reason",
		},
		[]string{"reason"},
	)

	IncidentsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "riskgraph_incidents_opened_total",
			Help: "Total number of incidents opened by correlation",
		},
	)

	IncidentsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgraph_incidents_finalized_total",
			Help: "Total number of finalized incidents by severity",
		},
		[]string{"severity"},
	)

	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskgraph_escalations_total",
			Help: "Advanced-generation escalation attempts by outcome",
		},
		[]string{"outcome"},
	)

	AnomaliesFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "riskgraph_anomalies_flagged_total",
			Help: "Total number of flagged anomaly signals",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riskgraph_stage_duration_seconds",
			Help:    "Time spent processing one unit in each pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)
