// Package metrics exposes Prometheus metrics for the occupancy engine
// and its publishers.
package metrics

import (
	"fmt"

	"github.com/banshee-data/parking.report/internal/occupancy"
	"github.com/prometheus/client_golang/prometheus"
)

// OccupancyMetrics is an occupancy.Listener that mirrors engine state
// into Prometheus metrics.
type OccupancyMetrics struct {
	ROIs                 *prometheus.GaugeVec
	TicksTotal           prometheus.Counter
	TransitionsTotal     *prometheus.CounterVec
	ROIChangesTotal      *prometheus.CounterVec
	CalibrationRuns      prometheus.Counter
	CalibrationKept      prometheus.Gauge
	CalibrationMeanVotes prometheus.Gauge
	LastTickTimestamp    prometheus.Gauge
	registry             *prometheus.Registry
}

var _ occupancy.Listener = (*OccupancyMetrics)(nil)

// NewOccupancyMetrics creates the occupancy metrics and registers them
// with registry.
func NewOccupancyMetrics(registry *prometheus.Registry) (*OccupancyMetrics, error) {
	m := &OccupancyMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register occupancy metrics: %w", err)
	}
	return m, nil
}

func (m *OccupancyMetrics) initMetrics() {
	m.ROIs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parking_rois",
		Help: "Number of monitored regions by occupancy state",
	}, []string{"state"})

	m.TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parking_ticks_total",
		Help: "Total number of detection snapshots evaluated",
	})

	m.TransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_transitions_total",
		Help: "Total number of occupancy transitions by target state",
	}, []string{"to"})

	m.ROIChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_roi_changes_total",
		Help: "Total number of ROI collection changes outside ticks, by reason",
	}, []string{"reason"})

	m.CalibrationRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parking_calibration_runs_total",
		Help: "Total number of completed auto-detect runs",
	})

	m.CalibrationKept = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parking_calibration_kept_rois",
		Help: "Number of ROIs kept by the most recent auto-detect run",
	})

	m.CalibrationMeanVotes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parking_calibration_mean_votes",
		Help: "Mean vote count per candidate in the most recent auto-detect run",
	})

	m.LastTickTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parking_last_tick_timestamp_seconds",
		Help: "Timestamp of the most recently evaluated tick",
	})
}

// OnTick updates state gauges and counters.
func (m *OccupancyMetrics) OnTick(report occupancy.TickReport) {
	m.TicksTotal.Inc()
	m.LastTickTimestamp.Set(float64(report.At.UnixNano()) / 1e9)
	for _, tr := range report.Transitions {
		m.TransitionsTotal.WithLabelValues(string(tr.To)).Inc()
	}
	m.setCounts(report.Counts)
}

// OnROIsChanged refreshes the state gauges.
func (m *OccupancyMetrics) OnROIsChanged(reason occupancy.ChangeReason, rois []occupancy.ROI) {
	m.ROIChangesTotal.WithLabelValues(string(reason)).Inc()
	m.setCounts(occupancy.CountStates(rois))
}

// OnCalibration records an auto-detect run.
func (m *OccupancyMetrics) OnCalibration(report occupancy.CalibrationReport) {
	m.CalibrationRuns.Inc()
	m.CalibrationKept.Set(float64(report.Kept))
	m.CalibrationMeanVotes.Set(report.MeanVotes)
}

func (m *OccupancyMetrics) setCounts(c occupancy.Counts) {
	m.ROIs.WithLabelValues(string(occupancy.StateOccupied)).Set(float64(c.Occupied))
	m.ROIs.WithLabelValues(string(occupancy.StateVacant)).Set(float64(c.Vacant))
	m.ROIs.WithLabelValues(string(occupancy.StateUnknown)).Set(float64(c.Unknown))
}

// Describe implements the prometheus.Collector interface.
func (m *OccupancyMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ROIs.Describe(ch)
	m.TicksTotal.Describe(ch)
	m.TransitionsTotal.Describe(ch)
	m.ROIChangesTotal.Describe(ch)
	m.CalibrationRuns.Describe(ch)
	m.CalibrationKept.Describe(ch)
	m.CalibrationMeanVotes.Describe(ch)
	m.LastTickTimestamp.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *OccupancyMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ROIs.Collect(ch)
	m.TicksTotal.Collect(ch)
	m.TransitionsTotal.Collect(ch)
	m.ROIChangesTotal.Collect(ch)
	m.CalibrationRuns.Collect(ch)
	m.CalibrationKept.Collect(ch)
	m.CalibrationMeanVotes.Collect(ch)
	m.LastTickTimestamp.Collect(ch)
}
