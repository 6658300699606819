package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "consolidator"

	MetricUnitsTotal             = "units_total"
	MetricRowsAddedTotal         = "rows_added_total"
	MetricDuplicatesRemovedTotal = "duplicates_removed_total"
	MetricReadFailuresTotal      = "partition_read_failures_total"
	MetricUnitDurationSeconds    = "unit_duration_seconds"
	MetricLastRunTimestamp       = "last_run_timestamp_seconds"
)

// Recorder collects the metrics of one run on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	units             *prometheus.CounterVec
	rowsAdded         *prometheus.CounterVec
	duplicatesRemoved *prometheus.CounterVec
	readFailures      prometheus.Counter
	unitDuration      *prometheus.HistogramVec
	lastRun           prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricUnitsTotal,
			Help:      "Consolidation units by table and final state.",
		}, []string{"table", "state"}),
		rowsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRowsAddedTotal,
			Help:      "Rows added to consolidated files.",
		}, []string{"table"}),
		duplicatesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricDuplicatesRemovedTotal,
			Help:      "Duplicate rows dropped while merging.",
		}, []string{"table"}),
		readFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricReadFailuresTotal,
			Help:      "Partition files skipped because they could not be read.",
		}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricUnitDurationSeconds,
			Help:      "Time spent reading and merging one unit.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"table"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricLastRunTimestamp,
			Help:      "Unix time the last run finished.",
		}),
	}

	r.registry.MustRegister(r.units, r.rowsAdded, r.duplicatesRemoved, r.readFailures, r.unitDuration, r.lastRun)
	return r
}

// ObserveUnit records the outcome of one unit
func (r *Recorder) ObserveUnit(table, state string, rowsAdded, duplicatesRemoved, readFailures int, elapsed time.Duration) {
	r.units.WithLabelValues(table, state).Inc()
	if rowsAdded > 0 {
		r.rowsAdded.WithLabelValues(table).Add(float64(rowsAdded))
	}
	if duplicatesRemoved > 0 {
		r.duplicatesRemoved.WithLabelValues(table).Add(float64(duplicatesRemoved))
	}
	if readFailures > 0 {
		r.readFailures.Add(float64(readFailures))
	}
	r.unitDuration.WithLabelValues(table).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Flush stamps the run time and writes every metric to path in the text
// exposition format, for node_exporter's textfile collector. An empty path
// is a no-op.
func (r *Recorder) Flush(path string, now time.Time) error {
	if path == "" {
		return nil
	}
	r.lastRun.Set(float64(now.Unix()))
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		log.Printf("action: metrics_flush | result: fail | path: %s | error: %v", path, err)
		return err
	}
	log.Printf("action: metrics_flush | result: success | path: %s", path)
	return nil
}
