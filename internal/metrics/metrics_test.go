package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.AddExtracted("CheMed123", 3)
	m.AddExtracted("CheMed123", 2)
	m.IncRateLimitWait()
	m.AddRowsLoaded("raw.telegram_messages", 10)
	m.AddRowsRejected("processed.image_analysis", 1)
	m.ObserveStage("load", "ok", 2*time.Second)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.messagesExtracted.WithLabelValues("CheMed123")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitWaits))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.rowsLoaded.WithLabelValues("raw.telegram_messages")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rowsRejected.WithLabelValues("processed.image_analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageRuns.WithLabelValues("load", "ok")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddExtracted("x", 1)
		m.IncRateLimitWait()
		m.AddLakeRejected(1)
		m.ObserveStage("extract", "failed", time.Second)
	})
	assert.Nil(t, m.Registry())
}
