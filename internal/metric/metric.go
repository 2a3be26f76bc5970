package metric

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	etlNamespace        = "shopflow_etl"
	dimensionSubsystem  = "dimension"
	checkpointSubsystem = "checkpoint"
)

type Metric interface {
	InsertOpIncrement(count int64)
	UpdateOpIncrement(count int64)
	StagedOpIncrement(count int64)
	VersionOpenedIncrement(count int64)
	VersionClosedIncrement(count int64)
	SetMergeLatency(latencyMs int64)
	SetCycleDuration(durationMs int64)
	SetCheckpointLag(lagSeconds float64)

	PrometheusCollectors() []prometheus.Collector
}

type metric struct {
	totalInsert prometheus.Counter
	totalUpdate prometheus.Counter
	totalStaged prometheus.Counter

	versionsOpened prometheus.Counter
	versionsClosed prometheus.Counter

	mergeLatency  prometheus.Gauge
	cycleDuration prometheus.Gauge
	checkpointLag prometheus.Gauge
}

func NewMetric(target string) Metric {
	hostname, _ := os.Hostname()
	labels := prometheus.Labels{
		"target": target,
		"host":   hostname,
	}
	return &metric{
		totalInsert: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   etlNamespace,
			Subsystem:   "insert",
			Name:        "total",
			Help:        "total number of rows inserted by the merge engine",
			ConstLabels: labels,
		}),
		totalUpdate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   etlNamespace,
			Subsystem:   "update",
			Name:        "total",
			Help:        "total number of rows updated by the merge engine",
			ConstLabels: labels,
		}),
		totalStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   etlNamespace,
			Subsystem:   "staged",
			Name:        "total",
			Help:        "total number of deduplicated rows staged for merge",
			ConstLabels: labels,
		}),
		versionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   etlNamespace,
			Subsystem:   dimensionSubsystem,
			Name:        "versions_opened_total",
			Help:        "total number of dimension versions opened",
			ConstLabels: labels,
		}),
		versionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   etlNamespace,
			Subsystem:   dimensionSubsystem,
			Name:        "versions_closed_total",
			Help:        "total number of dimension versions closed",
			ConstLabels: labels,
		}),
		mergeLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   etlNamespace,
			Subsystem:   "merge_latency",
			Name:        "current",
			Help:        "latest merge transaction latency ms",
			ConstLabels: labels,
		}),
		cycleDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   etlNamespace,
			Subsystem:   "cycle_duration",
			Name:        "current",
			Help:        "latest full pipeline cycle duration ms",
			ConstLabels: labels,
		}),
		checkpointLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   etlNamespace,
			Subsystem:   checkpointSubsystem,
			Name:        "lag_seconds",
			Help:        "age of the persisted watermark relative to wall clock",
			ConstLabels: labels,
		}),
	}
}

func (m *metric) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.totalInsert,
		m.totalUpdate,
		m.totalStaged,
		m.versionsOpened,
		m.versionsClosed,
		m.mergeLatency,
		m.cycleDuration,
		m.checkpointLag,
	}
}

func (m *metric) InsertOpIncrement(count int64) {
	m.totalInsert.Add(float64(count))
}

func (m *metric) UpdateOpIncrement(count int64) {
	m.totalUpdate.Add(float64(count))
}

func (m *metric) StagedOpIncrement(count int64) {
	m.totalStaged.Add(float64(count))
}

func (m *metric) VersionOpenedIncrement(count int64) {
	m.versionsOpened.Add(float64(count))
}

func (m *metric) VersionClosedIncrement(count int64) {
	m.versionsClosed.Add(float64(count))
}

func (m *metric) SetMergeLatency(latencyMs int64) {
	m.mergeLatency.Set(float64(latencyMs))
}

func (m *metric) SetCycleDuration(durationMs int64) {
	m.cycleDuration.Set(float64(durationMs))
}

func (m *metric) SetCheckpointLag(lagSeconds float64) {
	m.checkpointLag.Set(lagSeconds)
}
