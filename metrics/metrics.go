package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_turns_total",
		Help: "Processed turns by response mode",
	}, []string{"mode"})

	TurnFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_turn_failures_total",
		Help: "Failed turns by upstream stage",
	}, []string{"stage"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_turn_duration_seconds",
		Help:    "End-to-end turn latency",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booking_stage_duration_seconds",
		Help:    "Latency of each external stage of a turn",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"stage"})

	RetrievedDocuments = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_retrieved_documents",
		Help:    "Documents admitted by the retrieval gate per turn",
		Buckets: []float64{0, 1, 2, 3},
	})

	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_completed_total",
		Help: "Completed bookings by persistence result",
	}, []string{"result"})

	SessionBackend = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "booking_session_backend",
		Help: "Active session store backend (1 for the one in use)",
	}, []string{"backend"})
)
