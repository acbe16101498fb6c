package block

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blockInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "block",
		Name:      "invocations_total",
		Help:      "Block invocations by block name and outcome status.",
	}, []string{"block", "status"})

	blockDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payflow",
		Subsystem: "block",
		Name:      "duration_seconds",
		Help:      "Time spent inside Block.Run.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"block"})

	blockEventRecordFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payflow",
		Subsystem: "block",
		Name:      "event_record_failures_total",
		Help:      "Block events that could not be persisted.",
	}, []string{"block", "status"})
)

// GetBlockInvocationsTotal exposes the invocation counter for tests.
func GetBlockInvocationsTotal() *prometheus.CounterVec { return blockInvocationsTotal }

// GetBlockDurationSeconds exposes the duration histogram for tests.
func GetBlockDurationSeconds() *prometheus.HistogramVec { return blockDurationSeconds }

// GetBlockEventRecordFailuresTotal exposes the record-failure counter for tests.
func GetBlockEventRecordFailuresTotal() *prometheus.CounterVec {
	return blockEventRecordFailuresTotal
}
