package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Upstream("likeco", 200)
	m.TokenRefresh("ok")
	m.Subscription("subscribe", "created")
	m.HTTPRequest("GET", "/", 200, time.Millisecond)
}

func TestUpstreamOutcomes(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Upstream("likeco", 200)
	m.Upstream("likeco", 401)
	m.Upstream("likeco", 0)
	m.Upstream("likeco", 503)
	m.Upstream("likeco", 204)

	tests := map[string]float64{"ok": 2, "unauthorized": 1, "network_error": 1, "error": 1}
	for outcome, want := range tests {
		got := testutil.ToFloat64(m.upstreamRequests.WithLabelValues("likeco", outcome))
		if got != want {
			t.Errorf("%s = %v, want %v", outcome, got, want)
		}
	}
}

func TestSubscriptionCounter(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Subscription("subscribe", "created")
	m.Subscription("subscribe", "created")

	if got := testutil.ToFloat64(m.reconciliations.WithLabelValues("subscribe", "created")); got != 2 {
		t.Errorf("created = %v, want 2", got)
	}
}
