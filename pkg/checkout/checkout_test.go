package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSession struct {
	tokens atomic.Int32
	err    error
}

func (s *fakeSession) IDToken(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	n := s.tokens.Add(1)
	return fmt.Sprintf("tok_%d", n), nil
}

func (s *fakeSession) DisplayName() string { return "Ada" }
func (s *fakeSession) Email() string       { return "ada@example.com" }

// fakeCheckout completes with result, or abandons when result is nil.
type fakeCheckout struct {
	result *Result
	opened []Options
}

func (c *fakeCheckout) Open(_ context.Context, opts Options) (<-chan Result, error) {
	c.opened = append(c.opened, opts)
	ch := make(chan Result, 1)
	if c.result != nil {
		ch <- *c.result
	}
	close(ch)
	return ch, nil
}

type fakeServer struct {
	mu           sync.Mutex
	createStatus int
	verifyStatus int
	tokens       map[string]string
	verifyBodies []map[string]string
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /createOrder", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.tokens["create"] = r.Header.Get("Authorization")
		status := s.createStatus
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":"order_creation_failed","message":"Could not initiate payment.","retryable":true}}`))
			return
		}
		_, _ = w.Write([]byte(`{"orderId":"order_ABC123"}`))
	})
	mux.HandleFunc("POST /verifyPayment", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.tokens["verify"] = r.Header.Get("Authorization")
		s.verifyBodies = append(s.verifyBodies, body)
		status := s.verifyStatus
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":"signature_mismatch","message":"Payment verification failed.","retryable":false}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	return mux
}

func newFixture(t *testing.T, srv *fakeServer, session Session, co Checkout) *Orchestrator {
	t.Helper()
	srv.tokens = map[string]string{}
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL + "/", KeyID: "rzp_test_key", CompanyName: "LucidLens", Description: "Unlock"}, session, co)
}

func TestPurchaseSuccess(t *testing.T) {
	srv := &fakeServer{}
	co := &fakeCheckout{result: &Result{OrderID: "order_ABC123", PaymentID: "pay_XYZ789", Signature: "sig"}}
	o := newFixture(t, srv, &fakeSession{}, co)

	if err := o.Purchase(context.Background()); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	if len(co.opened) != 1 {
		t.Fatalf("expected one checkout, got %d", len(co.opened))
	}
	opts := co.opened[0]
	if opts.OrderID != "order_ABC123" || opts.KeyID != "rzp_test_key" || opts.Amount != 1000 || opts.Currency != "INR" {
		t.Errorf("unexpected checkout options %+v", opts)
	}
	if opts.Prefill.Name != "Ada" || opts.Prefill.Email != "ada@example.com" {
		t.Errorf("unexpected prefill %+v", opts.Prefill)
	}

	if srv.tokens["create"] != "Bearer tok_1" || srv.tokens["verify"] != "Bearer tok_2" {
		t.Errorf("verify must use a fresh token, got %v", srv.tokens)
	}
	want := map[string]string{"order_id": "order_ABC123", "payment_id": "pay_XYZ789", "signature": "sig"}
	if len(srv.verifyBodies) != 1 || fmt.Sprint(srv.verifyBodies[0]) != fmt.Sprint(want) {
		t.Errorf("unexpected verify body %v", srv.verifyBodies)
	}
}

func TestPurchaseAbandonedIsNotAnError(t *testing.T) {
	srv := &fakeServer{}
	o := newFixture(t, srv, &fakeSession{}, &fakeCheckout{})

	if err := o.Purchase(context.Background()); err != nil {
		t.Fatalf("abandonment must not be an error, got %v", err)
	}
	if len(srv.verifyBodies) != 0 {
		t.Error("verify must not be called after abandonment")
	}
}

type blockingCheckout struct{}

func (blockingCheckout) Open(context.Context, Options) (<-chan Result, error) {
	return make(chan Result), nil
}

func TestPurchaseCancelledWhileInCheckout(t *testing.T) {
	srv := &fakeServer{}
	o := newFixture(t, srv, &fakeSession{}, blockingCheckout{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := o.Purchase(ctx); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(srv.verifyBodies) != 0 {
		t.Error("verify must not be called")
	}
}

func TestPurchaseErrors(t *testing.T) {
	result := &Result{OrderID: "order_ABC123", PaymentID: "pay_XYZ789", Signature: "bad"}
	tests := []struct {
		name    string
		srv     *fakeServer
		session Session
		want    error
		opened  int
	}{
		{name: "no session", srv: &fakeServer{}, session: nil, want: ErrNotSignedIn},
		{name: "token failure", srv: &fakeServer{}, session: &fakeSession{err: errors.New("expired")}, want: ErrNotSignedIn},
		{name: "order creation", srv: &fakeServer{createStatus: http.StatusInternalServerError}, session: &fakeSession{}, want: ErrOrderCreation},
		{name: "verification", srv: &fakeServer{verifyStatus: http.StatusBadRequest}, session: &fakeSession{}, want: ErrVerification, opened: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co := &fakeCheckout{result: result}
			o := newFixture(t, tt.srv, tt.session, co)

			err := o.Purchase(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(co.opened) != tt.opened {
				t.Errorf("expected %d checkouts, got %d", tt.opened, len(co.opened))
			}
		})
	}
}

func TestVerificationErrorCarriesServerCode(t *testing.T) {
	srv := &fakeServer{verifyStatus: http.StatusBadRequest}
	co := &fakeCheckout{result: &Result{OrderID: "order_ABC123", PaymentID: "pay_XYZ789", Signature: "bad"}}
	o := newFixture(t, srv, &fakeSession{}, co)

	err := o.Purchase(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError in chain, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != "signature_mismatch" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestWatchEntitlement(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/entitlement/stream" || r.Header.Get("Authorization") != "Bearer tok_1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "event: entitlement\ndata: {\"userId\":\"user_1\",\"hasPaid\":false}\n\n")
		fl.Flush()
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "event: entitlement\ndata: {\"userId\":\"user_1\",\"hasPaid\":true}\n\n")
		fl.Flush()
	}))
	defer ts.Close()

	o := New(Config{BaseURL: ts.URL}, &fakeSession{}, &fakeCheckout{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, err := o.WatchEntitlement(ctx)
	if err != nil {
		t.Fatalf("WatchEntitlement: %v", err)
	}

	var got []Entitlement
	for e := range updates {
		got = append(got, e)
	}
	if len(got) != 2 || got[0].HasPaid || !got[1].HasPaid || got[1].UserID != "user_1" {
		t.Fatalf("unexpected snapshots %+v", got)
	}
}

func TestWatchEntitlementRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"unauthenticated","message":"Sign in required."}}`))
	}))
	defer ts.Close()

	o := New(Config{BaseURL: ts.URL}, &fakeSession{}, &fakeCheckout{})
	_, err := o.WatchEntitlement(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "unauthenticated" {
		t.Fatalf("expected unauthenticated APIError, got %v", err)
	}
}
