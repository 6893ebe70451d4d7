package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbeCalls counts backend program-info requests by result.
	ProbeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fcp",
		Subsystem: "probe",
		Name:      "calls_total",
		Help:      "Program info requests to the cloud backend by result.",
	}, []string{"result"})

	// PollOutcomes counts confirmation loops by terminal outcome.
	PollOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fcp",
		Subsystem: "enrollment",
		Name:      "poll_outcomes_total",
		Help:      "Enrollment confirmation loops by outcome (satisfied, timeout, error, canceled).",
	}, []string{"outcome"})

	// ConfirmDuration tracks how long a confirmation took to settle.
	ConfirmDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fcp",
		Subsystem: "enrollment",
		Name:      "confirm_duration_seconds",
		Help:      "Time from the first probe to the terminal outcome of a confirmation.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
	})

	// StatusCacheLookups counts cached status reads by hit or miss.
	StatusCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fcp",
		Subsystem: "status",
		Name:      "cache_lookups_total",
		Help:      "Enrollment status cache lookups (hit, miss).",
	}, []string{"result"})

	// NotificationsSent counts user notifications by severity.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fcp",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Notifications emitted by severity.",
	}, []string{"severity"})
)
