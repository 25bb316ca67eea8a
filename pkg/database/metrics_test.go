package database

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStatsCollector_DescribesEveryMetric(t *testing.T) {
	// Describe never reads the pool.
	c := NewPoolStatsCollector(nil, "auth")

	ch := make(chan *prometheus.Desc, len(poolMetrics)+1)
	c.Describe(ch)
	close(ch)

	var got []string
	for d := range ch {
		got = append(got, d.String())
	}
	require.Len(t, got, len(poolMetrics))
	for i, m := range poolMetrics {
		assert.Contains(t, got[i], `"`+m.name+`"`)
		assert.Contains(t, got[i], `service="auth"`)
	}
}

func TestPoolMetrics_NamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range poolMetrics {
		assert.False(t, seen[m.name], m.name)
		seen[m.name] = true
	}
}

func TestRegisterPoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPoolMetrics(reg, nil, "auth"))
	// Same descriptors again are rejected.
	assert.Error(t, RegisterPoolMetrics(reg, nil, "auth"))
	// Another service label is a distinct collector.
	assert.NoError(t, RegisterPoolMetrics(reg, nil, "auth-replica"))
}
