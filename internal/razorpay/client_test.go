package razorpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucidlens/server/internal/circuitbreaker"
	"github.com/lucidlens/server/internal/config"
)

func newTestClient(url string, breakers *circuitbreaker.Manager) *Client {
	return NewClient(config.RazorpayConfig{
		KeyID:     "rzp_test_key",
		KeySecret: "testsecret",
		BaseURL:   url + "/",
		Timeout:   config.Duration{Duration: 2 * time.Second},
	}, breakers)
}

func TestCreateOrder(t *testing.T) {
	var got OrderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "testsecret" {
			t.Errorf("unexpected basic auth %q %q %v", user, pass, ok)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_ABC123","entity":"order","amount":1000,"currency":"INR","receipt":"receipt_user_1","status":"created"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)
	order, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 1000, Currency: "INR", Receipt: "receipt_user_1"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "order_ABC123" || order.Amount != 1000 || order.Currency != "INR" {
		t.Errorf("unexpected order %+v", order)
	}
	if got.Amount != 1000 || got.Currency != "INR" || got.Receipt != "receipt_user_1" {
		t.Errorf("unexpected request body %+v", got)
	}
}

func TestCreateOrderFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "gateway rejects", status: http.StatusUnauthorized, body: `{"error":{"code":"BAD_REQUEST_ERROR"}}`, wantErr: ErrUpstream},
		{name: "gateway down", status: http.StatusBadGateway, body: `oops`, wantErr: ErrUpstream},
		{name: "malformed body", status: http.StatusOK, body: `{"id":`, wantErr: ErrUpstream},
		{name: "missing id", status: http.StatusOK, body: `{"amount":1000}`, wantErr: ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL, nil).CreateOrder(context.Background(), OrderRequest{Amount: 1000, Currency: "INR"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateOrderUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestClient(url, nil).CreateOrder(context.Background(), OrderRequest{Amount: 1000, Currency: "INR"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestCreateOrderBreakerOpen(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	breakers := circuitbreaker.NewManager(true, map[circuitbreaker.ServiceType]circuitbreaker.BreakerConfig{
		circuitbreaker.ServiceGateway: {MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 2},
	})
	client := newTestClient(server.URL, breakers)

	for i := 0; i < 4; i++ {
		if _, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 1000, Currency: "INR"}); !errors.Is(err, ErrUpstream) {
			t.Fatalf("call %d: expected ErrUpstream, got %v", i, err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, gateway saw %d", n)
	}
}
