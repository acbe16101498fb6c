package saga

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "saga",
		Name:      "operation_events_total",
		Help:      "Operation events recorded, by operation type and status.",
	}, []string{"type", "status"})

	phaseCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "saga",
		Name:      "phase_calls_total",
		Help:      "Public phase calls by requested operation and response status. Infrastructure errors are reported as status ERROR.",
	}, []string{"operation", "status"})

	phaseDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payflow",
		Subsystem: "saga",
		Name:      "phase_duration_seconds",
		Help:      "Duration of public phase calls including the chained PAY phase.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// GetOperationEventsTotal exposes the event counter for tests.
func GetOperationEventsTotal() *prometheus.CounterVec { return operationEventsTotal }

// GetPhaseCallsTotal exposes the phase call counter for tests.
func GetPhaseCallsTotal() *prometheus.CounterVec { return phaseCallsTotal }

// GetPhaseDurationSeconds exposes the phase duration histogram for tests.
func GetPhaseDurationSeconds() *prometheus.HistogramVec { return phaseDurationSeconds }
