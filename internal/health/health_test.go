package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultfrost/custody/internal/config"
	"github.com/vaultfrost/custody/internal/health"
)

func newFakeNode(t *testing.T, healthy bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestProbeReportsMixedHealth(t *testing.T) {
	healthyNode := newFakeNode(t, true)
	defer healthyNode.Close()
	unhealthyNode := newFakeNode(t, false)
	defer unhealthyNode.Close()

	nodes := []config.SignerNode{
		{Index: 0, URL: healthyNode.URL},
		{Index: 1, URL: unhealthyNode.URL},
	}
	prober := health.NewProber(nodes, 1, time.Second)
	report := prober.Probe(context.Background(), 2)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Healthy)
	require.Len(t, report.PerNode, 2)
	assert.True(t, report.PerNode[0].Healthy)
	assert.False(t, report.PerNode[1].Healthy)
}

func TestReportSigningAndDKGCapable(t *testing.T) {
	report := health.Report{Total: 3, Healthy: 2, Threshold: 2}
	assert.True(t, report.SigningCapable())
	assert.False(t, report.DKGCapable())

	report.Healthy = 3
	assert.True(t, report.DKGCapable())
}

func TestProbeUnreachableNodeIsUnhealthy(t *testing.T) {
	nodes := []config.SignerNode{{Index: 0, URL: "http://127.0.0.1:1"}}
	prober := health.NewProber(nodes, 1, 200*time.Millisecond)
	report := prober.Probe(context.Background(), 1)

	assert.Equal(t, 0, report.Healthy)
	assert.False(t, report.PerNode[0].Healthy)
	assert.Error(t, report.PerNode[0].Err)
}

func TestHealthyNodesSubset(t *testing.T) {
	report := health.Report{
		PerNode: []health.NodeStatus{
			{Index: 0, Healthy: true},
			{Index: 1, Healthy: false},
			{Index: 2, Healthy: true},
		},
	}
	healthy := report.HealthyNodes()
	require.Len(t, healthy, 2)
	assert.Equal(t, 0, healthy[0].Index)
	assert.Equal(t, 2, healthy[1].Index)
}
