package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordJob("sweep", time.Millisecond, nil)
	r.RecordJob("sweep", time.Millisecond, errors.New("x"))
	r.RecordSkippedJob("sweep")
	r.RecordDelivery("new_opportunity", "delivered")
	r.RecordRefresh("AAA", 12.5, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobRuns.WithLabelValues("sweep", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobRuns.WithLabelValues("sweep", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobRuns.WithLabelValues("sweep", "skipped")))
	assert.Equal(t, 12.5, testutil.ToFloat64(r.lastPrice.WithLabelValues("AAA")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordJob("x", time.Second, nil)
		r.RecordDetection("breakout")
		r.SetActive(3)
	})
}
