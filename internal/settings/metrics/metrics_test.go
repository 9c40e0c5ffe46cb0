package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncRead(SourceDefault)
	m.IncRead(SourceDefault)
	m.IncRead(SourceHost)
	m.IncResolutionCache("miss")
	m.IncRecordSaves()
	m.ObserveRecordLoad(time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reads.WithLabelValues(SourceDefault)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reads.WithLabelValues(SourceHost)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolutionCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordSaves))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RecordLoadDuration))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRead(SourceRecord)
		m.IncWrite(TargetRecord)
		m.IncValidationFailures()
		m.ObserveRecordLoad(time.Now())
	})
}
