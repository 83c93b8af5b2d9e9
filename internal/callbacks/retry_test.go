package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/lucidlens/server/internal/config"
	"github.com/lucidlens/server/internal/metrics"
)

func fastRetry() RetryOption {
	return WithRetryConfig(RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2.0,
		Timeout:         time.Second,
	})
}

func TestNewRetryableClientWithoutURL(t *testing.T) {
	n := NewRetryableClient(config.CallbacksConfig{})
	if _, ok := n.(NoopNotifier); !ok {
		t.Fatalf("expected NoopNotifier, got %T", n)
	}
}

func TestRetryableClient_SuccessFirstAttempt(t *testing.T) {
	var requestCount atomic.Int32
	var (
		mu       sync.Mutex
		received EntitlementEvent
		header   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		mu.Lock()
		defer mu.Unlock()
		header = r.Header.Get("X-Callback-Token")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newRetryableClient(config.CallbacksConfig{
		EntitlementGrantedURL: server.URL,
		Headers:               map[string]string{"X-Callback-Token": "abc"},
		Retry:                 config.RetryConfig{Enabled: true},
	}, WithRetryLogger(zerolog.Nop()), fastRetry())

	client.EntitlementGranted(context.Background(), EntitlementEvent{
		UserID:    "user_1",
		Source:    SourcePayment,
		OrderID:   "order_ABC123",
		PaymentID: "pay_XYZ789",
		Amount:    1000,
		Currency:  "INR",
	})
	_ = client.Close()

	if count := requestCount.Load(); count != 1 {
		t.Fatalf("expected 1 request, got %d", count)
	}
	mu.Lock()
	defer mu.Unlock()
	if received.UserID != "user_1" || received.EventType != EventEntitlementGranted {
		t.Errorf("unexpected event %+v", received)
	}
	if !strings.HasPrefix(received.EventID, "evt_") {
		t.Errorf("expected generated event id, got %q", received.EventID)
	}
	if header != "abc" {
		t.Errorf("expected custom header, got %q", header)
	}
}

func TestRetryableClient_RetryKeepsEventID(t *testing.T) {
	var (
		requestCount atomic.Int32
		mu           sync.Mutex
		ids          []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev EntitlementEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		mu.Lock()
		ids = append(ids, ev.EventID)
		mu.Unlock()
		if requestCount.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := metrics.New(prometheus.NewRegistry())
	client := newRetryableClient(config.CallbacksConfig{
		EntitlementGrantedURL: server.URL,
		Retry:                 config.RetryConfig{Enabled: true},
	}, fastRetry(), WithMetrics(m))

	if err := client.Deliver(context.Background(), EntitlementEvent{UserID: "user_1"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(ids))
	}
	if ids[0] == "" || ids[0] != ids[1] || ids[1] != ids[2] {
		t.Errorf("event id changed between attempts: %v", ids)
	}
	if got := promtest.ToFloat64(m.WebhooksTotal.WithLabelValues(EventEntitlementGranted, "success")); got != 1 {
		t.Errorf("expected 1 successful webhook metric, got %.0f", got)
	}
}

func TestRetryableClient_GivesUp(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newRetryableClient(config.CallbacksConfig{
		EntitlementGrantedURL: server.URL,
		Retry:                 config.RetryConfig{Enabled: true},
	}, fastRetry())

	err := client.Deliver(context.Background(), EntitlementEvent{UserID: "user_1"})
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("expected failure after 3 attempts, got %v", err)
	}
	if got := requestCount.Load(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestRetryableClient_RetryDisabled(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newRetryableClient(config.CallbacksConfig{EntitlementGrantedURL: server.URL})

	if err := client.Deliver(context.Background(), EntitlementEvent{UserID: "user_1"}); err == nil {
		t.Fatal("expected error")
	}
	if got := requestCount.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestRetryableClient_CloseAbortsBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newRetryableClient(config.CallbacksConfig{
		EntitlementGrantedURL: server.URL,
		Retry:                 config.RetryConfig{Enabled: true},
	}, WithRetryConfig(RetryConfig{
		MaxAttempts:     5,
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
		Multiplier:      1,
		Timeout:         time.Second,
	}))

	client.EntitlementGranted(context.Background(), EntitlementEvent{UserID: "user_1"})

	done := make(chan struct{})
	go func() {
		_ = client.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not abort the backoff sleep")
	}
}

func TestDeliverDisabled(t *testing.T) {
	client := newRetryableClient(config.CallbacksConfig{})
	if err := client.Deliver(context.Background(), EntitlementEvent{}); !errors.Is(err, ErrCallbackDisabled) {
		t.Fatalf("expected ErrCallbackDisabled, got %v", err)
	}
}

func TestPrepareEventKeepsExistingID(t *testing.T) {
	ev := EntitlementEvent{EventID: "evt_fixed"}
	PrepareEvent(&ev)
	if ev.EventID != "evt_fixed" {
		t.Errorf("existing event id replaced: %s", ev.EventID)
	}
	if ev.EventType != EventEntitlementGranted || ev.EventTimestamp.IsZero() || ev.GrantedAt.IsZero() {
		t.Errorf("metadata not filled: %+v", ev)
	}
}
