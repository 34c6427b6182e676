package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterDefaultIsIdempotent(t *testing.T) {
	RegisterDefault()
	RegisterDefault()

	families, err := Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestCountersIncrement(t *testing.T) {
	RegisterDefault()
	before := testutil.ToFloat64(OptimizeDegraded.WithLabelValues("predictions_unavailable"))
	OptimizeDegraded.WithLabelValues("predictions_unavailable").Inc()
	after := testutil.ToFloat64(OptimizeDegraded.WithLabelValues("predictions_unavailable"))
	require.Equal(t, before+1, after)
}
