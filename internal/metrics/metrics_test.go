package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheus_NilRegistererIsNoop(t *testing.T) {
	rec := NewPrometheus(nil)
	assert.IsType(t, Noop{}, rec)
	// Must not panic
	rec.ShareAccess("download", OutcomeSuccess)
	rec.TreeRewrite("move", 3)
}

func TestPrometheusRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheus(reg).(*prometheusRecorder)

	rec.ShareAccess("download", OutcomeSuccess)
	rec.ShareAccess("download", OutcomeSuccess)
	rec.ShareAccess("download", OutcomeLimited)
	rec.Checkout("checkout", OutcomeRejected)
	rec.PermissionCacheLookup(true)
	rec.PermissionCacheLookup(false)
	rec.PermissionCacheLookup(false)
	rec.SweepRun("expired_shares", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.shareAccess.WithLabelValues("download", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.shareAccess.WithLabelValues("download", OutcomeLimited)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.checkout.WithLabelValues("checkout", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.cache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.cache.WithLabelValues("miss")))
	assert.Equal(t, 4.0, testutil.ToFloat64(rec.sweep.WithLabelValues("expired_shares")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
