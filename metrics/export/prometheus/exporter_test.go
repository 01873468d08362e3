package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/store/memory"
	"github.com/MrEthical07/authkit/strategy"
	"github.com/MrEthical07/authkit/transport"
	"github.com/MrEthical07/authkit/user"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot authkit.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authkit.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func disabled() authkit.MetricsSnapshot {
	return authkit.MetricsSnapshot{
		Counters:   map[authkit.MetricID]uint64{},
		Histograms: map[authkit.MetricID][]uint64{},
	}
}

func populated() authkit.MetricsSnapshot {
	return authkit.MetricsSnapshot{
		Counters: map[authkit.MetricID]uint64{
			authkit.MetricLoginSuccess:       7,
			authkit.MetricOAuthStateRejected: 3,
		},
		Histograms: map[authkit.MetricID][]uint64{
			authkit.MetricDecisionLatency: {1, 2, 3, 4, 5, 6, 7, 8},
		},
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{snapshot: disabled()})
	require.Empty(t, exp.Render())
}

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{snapshot: populated(), dropped: 2})

	out := exp.Render()
	require.Contains(t, out, "authkit_login_success_total 7\n")
	require.Contains(t, out, "authkit_oauth_state_rejected_total 3\n")
	require.Contains(t, out, "authkit_renew_failure_total 0\n")
	require.Contains(t, out, "# TYPE authkit_decision_latency_seconds histogram\n")
	require.Contains(t, out, `authkit_decision_latency_seconds_bucket{le="0.005"} 1`)
	require.Contains(t, out, `authkit_decision_latency_seconds_bucket{le="0.01"} 3`)
	require.Contains(t, out, `authkit_decision_latency_seconds_bucket{le="+Inf"} 36`)
	require.Contains(t, out, "authkit_decision_latency_seconds_count 36\n")
	require.Contains(t, out, "authkit_audit_dropped_total 2\n")
}

func TestRenderDroppedOnly(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{snapshot: disabled(), dropped: 5})
	out := exp.Render()
	require.Contains(t, out, "authkit_audit_dropped_total 5\n")
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{snapshot: populated()})

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Contains(t, rec.Body.String(), "authkit_login_success_total 7")
}

func TestNilExporter(t *testing.T) {
	var exp *Exporter
	require.Empty(t, exp.Render())
}

func TestCollectorGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollectorFromSource(fakeSource{snapshot: populated(), dropped: 4})))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]float64)
	var histCount uint64
	var histBuckets int
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if h := m.GetHistogram(); h != nil {
				histCount = h.GetSampleCount()
				histBuckets = len(h.GetBucket())
				continue
			}
			byName[mf.GetName()] = m.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(7), byName["authkit_login_success_total"])
	require.Equal(t, float64(3), byName["authkit_oauth_state_rejected_total"])
	require.Equal(t, float64(0), byName["authkit_logout_total"])
	require.Equal(t, float64(4), byName["authkit_audit_dropped_total"])
	require.Equal(t, uint64(36), histCount)
	require.Equal(t, 7, histBuckets)
}

func TestCollectorDisabledEmitsOnlyDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollectorFromSource(fakeSource{snapshot: disabled()})))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Equal(t, "authkit_audit_dropped_total", families[0].GetName())
}

func TestRegistryHandler(t *testing.T) {
	h, err := RegistryHandler(NewCollectorFromSource(fakeSource{snapshot: populated()}))
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "authkit_login_success_total 7"))
}

func TestEngineExporter(t *testing.T) {
	cfg := authkit.DefaultConfig()
	cfg.Metrics.Enabled = true
	store := memory.New()
	s := strategy.NewDatabase(store, user.NewMapProvider(), time.Hour)
	engine, err := authkit.New().
		WithConfig(cfg).
		WithStore(store).
		WithBackends(authkit.NewBackend("bearer", transport.NewBearer(), authkit.StaticStrategy(s))).
		Build()
	require.NoError(t, err)
	defer engine.Close()

	out := NewExporter(engine).Render()
	require.Contains(t, out, "authkit_login_success_total 0\n")
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{snapshot: populated()})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
