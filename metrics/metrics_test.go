package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/firasghr/ChallengeGate/metrics"
)

func TestRecordResolution(t *testing.T) {
	m := metrics.NewMetrics()
	m.RecordResolution(metrics.OutcomeCookie, 10*time.Millisecond)
	m.RecordResolution(metrics.OutcomeCookie, 20*time.Millisecond)
	m.RecordResolution(metrics.OutcomeTransport, time.Second)

	total, cookie, failed := m.Snapshot()
	if total != 3 || cookie != 2 || failed != 1 {
		t.Errorf("snapshot: got total=%d cookie=%d failed=%d, want 3/2/1", total, cookie, failed)
	}
	if got := testutil.ToFloat64(m.Resolutions.WithLabelValues(metrics.OutcomeCookie)); got != 2 {
		t.Errorf("resolutions{cookie}: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Resolutions.WithLabelValues(metrics.OutcomeTransport)); got != 1 {
		t.Errorf("resolutions{transport_error}: got %v, want 1", got)
	}
}

func TestRecordScriptRunAndQuota(t *testing.T) {
	m := metrics.NewMetrics()
	m.RecordScriptRun(false)
	m.RecordScriptRun(true)
	m.RecordQuota(metrics.QuotaStillGated)
	m.RecordProxy("200")

	if got := testutil.ToFloat64(m.ScriptRuns.WithLabelValues("error")); got != 1 {
		t.Errorf("script_runs{error}: got %v", got)
	}
	if got := testutil.ToFloat64(m.QuotaLookups.WithLabelValues(metrics.QuotaStillGated)); got != 1 {
		t.Errorf("quota_lookups{still_gated}: got %v", got)
	}
	if got := testutil.ToFloat64(m.ProxyRequests.WithLabelValues("200")); got != 1 {
		t.Errorf("proxy_requests{200}: got %v", got)
	}
}

func TestRecordHTTP_NonStandardMethodsShareOneLabel(t *testing.T) {
	m := metrics.NewMetrics()
	m.RecordHTTP("GET", "proxy", "200", time.Millisecond)
	m.RecordHTTP("PROPFIND", "proxy", "200", time.Millisecond)
	m.RecordHTTP("X-RANDOM-1", "proxy", "200", time.Millisecond)

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("OTHER", "proxy", "200")); got != 2 {
		t.Errorf("OTHER: got %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.HTTPRequests); got != 2 {
		t.Errorf("series: got %d, want 2", got)
	}
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := metrics.NewMetrics()
	b := metrics.NewMetrics()
	a.RecordQuota(metrics.QuotaOK)
	if got := testutil.ToFloat64(b.QuotaLookups.WithLabelValues(metrics.QuotaOK)); got != 0 {
		t.Errorf("registries leaked between instances: %v", got)
	}
}

func TestResolutionsPerSecond(t *testing.T) {
	m := metrics.NewMetrics()
	if rps := m.ResolutionsPerSecond(); rps < 0 {
		t.Errorf("rps should be >= 0, got %v", rps)
	}
}
