package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Read sources, in resolution order.
const (
	SourceMicroCache = "micro_cache"
	SourceAppRecord  = "app_record"
	SourceRecord     = "record"
	SourceHost       = "host"
	SourceContainer  = "container"
	SourceDefault    = "default"
	SourceUnknown    = "unknown"
)

// Write targets.
const (
	TargetHost   = "host"
	TargetRecord = "record"
)

// Metrics provides observability for settings resolution and persistence.
type Metrics struct {
	Reads              *prometheus.CounterVec
	ResolutionCache    *prometheus.CounterVec
	Writes             *prometheus.CounterVec
	RecordSaves        prometheus.Counter
	ValidationFailures prometheus.Counter
	RecordLoadDuration prometheus.Histogram
}

// New registers the settings metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Reads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "setman_reads_total",
			Help: "Setting reads by the layer that answered them",
		}, []string{"source"}),
		ResolutionCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "setman_resolution_cache_total",
			Help: "Resolution cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
		Writes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "setman_writes_total",
			Help: "Setting writes and deletes by target layer",
		}, []string{"target"}),
		RecordSaves: factory.NewCounter(prometheus.CounterOpts{
			Name: "setman_record_saves_total",
			Help: "Successful saves of the settings record",
		}),
		ValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "setman_validation_failures_total",
			Help: "Saves rejected by settings validation",
		}),
		RecordLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "setman_record_load_duration_seconds",
			Help:    "Duration of settings record loads from the store",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncRead records which layer resolved a read. Safe on a nil receiver.
func (m *Metrics) IncRead(source string) {
	if m == nil {
		return
	}
	m.Reads.WithLabelValues(source).Inc()
}

func (m *Metrics) IncResolutionCache(result string) {
	if m == nil {
		return
	}
	m.ResolutionCache.WithLabelValues(result).Inc()
}

func (m *Metrics) IncWrite(target string) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(target).Inc()
}

func (m *Metrics) IncRecordSaves() {
	if m == nil {
		return
	}
	m.RecordSaves.Inc()
}

func (m *Metrics) IncValidationFailures() {
	if m == nil {
		return
	}
	m.ValidationFailures.Inc()
}

// ObserveRecordLoad records the duration of a store load.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRecordLoad(start time.Time) {
	if m == nil {
		return
	}
	m.RecordLoadDuration.Observe(time.Since(start).Seconds())
}
