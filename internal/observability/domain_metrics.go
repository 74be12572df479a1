package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	distributedReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_distributed_reads_total",
			Help: "Total number of distributed pulls by outcome.",
		},
		[]string{"status"},
	)
	distributedWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_distributed_writes_total",
			Help: "Total number of distributed result writes by outcome.",
		},
		[]string{"status"},
	)
	distributedResultsFlushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_distributed_results_flushed_total",
			Help: "Total number of query results handed to the transport.",
		},
	)
	distributedInterruptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_distributed_interrupted_results_total",
			Help: "Total number of results reported as interrupted.",
		},
	)
	distributedRecoveredReadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_distributed_recovered_reads_total",
			Help: "Total number of pending-work records recovered from the state store.",
		},
	)
	distributedDiscoverySkipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_distributed_discovery_skips_total",
			Help: "Total number of batches skipped by a failed discovery gate.",
		},
	)
	distributedQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_distributed_queries_total",
			Help: "Total number of distributed queries executed by outcome.",
		},
		[]string{"status"},
	)
	distributedQueryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_distributed_query_duration_seconds",
			Help:    "Distributed query execution latency.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)
	distributedPendingQueries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_distributed_pending_queries",
			Help: "Current number of distributed queries waiting for execution.",
		},
	)
	carvedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_carved_bytes_total",
			Help: "Total number of file bytes uploaded by carving.",
		},
	)
	archiveWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_archive_writes_total",
			Help: "Total number of result archive writes by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		distributedReadsTotal,
		distributedWritesTotal,
		distributedResultsFlushedTotal,
		distributedInterruptedTotal,
		distributedRecoveredReadsTotal,
		distributedDiscoverySkipsTotal,
		distributedQueriesTotal,
		distributedQueryDurationSeconds,
		distributedPendingQueries,
		carvedBytesTotal,
		archiveWritesTotal,
	)
}

func ObserveDistributedRead(err error) {
	distributedReadsTotal.WithLabelValues(outcome(err)).Inc()
}

func ObserveDistributedWrite(results int, err error) {
	distributedWritesTotal.WithLabelValues(outcome(err)).Inc()
	if results > 0 {
		distributedResultsFlushedTotal.Add(float64(results))
	}
}

func ObserveRecoveredWork(interrupted int) {
	distributedRecoveredReadsTotal.Inc()
	AddInterruptedResults(interrupted)
}

func AddInterruptedResults(count int) {
	if count > 0 {
		distributedInterruptedTotal.Add(float64(count))
	}
}

func IncrementDiscoverySkip() {
	distributedDiscoverySkipsTotal.Inc()
}

func ObserveQueryExecution(elapsed time.Duration, err error) {
	distributedQueriesTotal.WithLabelValues(outcome(err)).Inc()
	distributedQueryDurationSeconds.Observe(elapsed.Seconds())
}

func SetPendingQueries(count int) {
	if count < 0 {
		count = 0
	}
	distributedPendingQueries.Set(float64(count))
}

func AddCarvedBytes(n int64) {
	if n > 0 {
		carvedBytesTotal.Add(float64(n))
	}
}

func ObserveArchiveWrite(err error) {
	archiveWritesTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
