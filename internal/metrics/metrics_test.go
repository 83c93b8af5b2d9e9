package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveVerification(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveVerification("success", 10*time.Millisecond)
	m.ObserveVerification("signature_mismatch", time.Millisecond)
	m.ObserveVerification("signature_mismatch", time.Millisecond)

	if got := promtest.ToFloat64(m.VerificationsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("expected 1 success, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.VerificationsTotal.WithLabelValues("signature_mismatch")); got != 2 {
		t.Errorf("expected 2 mismatches, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.EntitlementsGranted); got != 1 {
		t.Errorf("only successful verifications grant entitlements, got %.0f", got)
	}
}

func TestObserveOrder(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOrder("success", 200*time.Millisecond)
	m.ObserveOrder("gateway_error", time.Second)

	if got := promtest.ToFloat64(m.OrdersTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("expected 1 order, got %.0f", got)
	}
	if got := promtest.CollectAndCount(m.OrderDuration); got != 1 {
		t.Errorf("expected one histogram series, got %d", got)
	}
}

func TestObserveUpstream(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveUpstream("gateway", time.Second, nil)
	m.ObserveUpstream("image_model", time.Second, errors.New("model loading"))

	if got := promtest.ToFloat64(m.UpstreamCallsTotal.WithLabelValues("gateway", "success")); got != 1 {
		t.Errorf("expected 1 gateway success, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.UpstreamCallsTotal.WithLabelValues("image_model", "error")); got != 1 {
		t.Errorf("expected 1 image model error, got %.0f", got)
	}
}

func TestObserveWebhook(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveWebhook("entitlement.granted", "success", time.Second, 1)
	m.ObserveWebhook("entitlement.granted", "success", time.Second, 3)
	m.ObserveWebhook("entitlement.granted", "failed", time.Second, 9)

	if got := promtest.ToFloat64(m.WebhooksTotal.WithLabelValues("entitlement.granted", "success")); got != 2 {
		t.Errorf("expected 2 successes, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.WebhookRetriesTotal.WithLabelValues("entitlement.granted", "3")); got != 1 {
		t.Errorf("expected retry at attempt 3, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.WebhookRetriesTotal.WithLabelValues("entitlement.granted", "5+")); got != 1 {
		t.Errorf("expected bucketed retry for attempt 9, got %.0f", got)
	}
}

func TestStreamGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed()

	if got := promtest.ToFloat64(m.EntitlementStreams); got != 1 {
		t.Errorf("expected 1 open stream, got %.0f", got)
	}
}

func TestMeasureDBQuery(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done := MeasureDBQuery(m, "get", "memory")
	done()

	if got := promtest.CollectAndCount(m.DBQueryDuration); got != 1 {
		t.Errorf("expected one db histogram series, got %d", got)
	}

	// nil collectors are a no-op
	MeasureDBQuery(nil, "get", "memory")()
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOrder("success", time.Second)
	m.ObserveVerification("success", time.Second)
	m.ObserveBypassGrant()
	m.ObserveUpstream("gateway", time.Second, nil)
	m.StreamOpened()
	m.StreamClosed()
	m.ObserveDreamVisualized("success")
	m.ObserveDreamSaved()
	m.ObserveWebhook("entitlement.granted", "success", time.Second, 1)
	m.ObserveRateLimit("ip")
	m.ObserveIdempotencyReplay()
	m.ObserveDBQuery("get", "memory", time.Second)
}

func TestFormatAttempt(t *testing.T) {
	tests := map[int]string{1: "1", 2: "2", 5: "5", 6: "5+", 42: "5+"}
	for attempt, want := range tests {
		if got := formatAttempt(attempt); got != want {
			t.Errorf("formatAttempt(%d) = %q, want %q", attempt, got, want)
		}
	}
}
