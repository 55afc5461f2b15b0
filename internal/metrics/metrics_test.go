package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))

	IncBuild("ok")
	IncLaunch("grid")
	IncLaunch("grid")
	IncReadinessFailure("grid")
	ObserveReadiness("grid", 0.3)
	IncTermination("grid", "graceful")
	IncLogLine("grid")
	SetTracked(2)
	RecordStateTransition("grid", "launched", "ready")

	assert.Equal(t, 2.0, testutil.ToFloat64(launches.WithLabelValues("grid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(trackedServers))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	want := map[string]bool{
		"gridharness_server_builds_total":             false,
		"gridharness_server_launches_total":           false,
		"gridharness_server_readiness_failures_total": false,
		"gridharness_server_readiness_seconds":        false,
		"gridharness_server_terminations_total":       false,
		"gridharness_logs_lines_total":                false,
		"gridharness_guard_tracked_servers":           false,
		"gridharness_server_state_transitions_total":  false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), "metric %s has no samples", mf.GetName())
		}
	}
	for n, ok := range want {
		assert.True(t, ok, "expected to find metric %s", n)
	}
}

func TestHandlerForServesText(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "x"})))

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "probe_total"))
}
