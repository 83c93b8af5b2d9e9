// Package checkout drives a purchase from the client side: create an order,
// hand it to the gateway's checkout UI, then confirm the payment with the
// server. Entitlement changes arrive over the server's event stream.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucidlens/server/internal/httputil"
	"github.com/lucidlens/server/internal/payment"
)

var (
	// ErrNotSignedIn is returned when there is no signed-in user.
	ErrNotSignedIn = errors.New("checkout: not signed in")
	// ErrOrderCreation is returned when the server could not create an order.
	ErrOrderCreation = errors.New("could not initiate payment")
	// ErrVerification is returned when the server rejected the payment confirmation.
	ErrVerification = errors.New("payment verification failed")
)

const maxResponseBody = 64 << 10

// Session is the signed-in user as seen by the client.
type Session interface {
	// IDToken returns a current identity token, refreshing it if needed.
	IDToken(ctx context.Context) (string, error)
	DisplayName() string
	Email() string
}

// Prefill is shown pre-entered in the checkout form.
type Prefill struct {
	Name  string
	Email string
}

// Options configure one checkout UI session.
type Options struct {
	OrderID     string
	KeyID       string
	Amount      int64
	Currency    string
	Name        string
	Description string
	Prefill     Prefill
}

// Result is what the gateway reports after a successful payment.
type Result struct {
	OrderID   string
	PaymentID string
	Signature string
}

// Checkout opens the gateway's checkout UI. The returned channel yields at
// most one Result; it is closed without a value when the user abandons checkout.
type Checkout interface {
	Open(ctx context.Context, opts Options) (<-chan Result, error)
}

// Config describes the server and the checkout presentation.
type Config struct {
	BaseURL     string
	KeyID       string
	CompanyName string
	Description string
	Timeout     time.Duration
}

// APIError is an error envelope returned by the server.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Orchestrator runs purchases for one user session.
type Orchestrator struct {
	cfg      Config
	session  Session
	checkout Checkout
	http     *http.Client
	log      zerolog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.http = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New creates an Orchestrator. session may be nil when nobody is signed in.
func New(cfg Config, session Session, checkout Checkout, opts ...Option) *Orchestrator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	o := &Orchestrator{
		cfg:      cfg,
		session:  session,
		checkout: checkout,
		http:     httputil.NewClient(timeout),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Purchase runs one purchase attempt. It returns nil both when the payment was
// verified and when the user abandoned checkout.
func (o *Orchestrator) Purchase(ctx context.Context) error {
	token, err := o.token(ctx)
	if err != nil {
		return err
	}

	var order struct {
		OrderID string `json:"orderId"`
	}
	if err := o.post(ctx, "/createOrder", token, nil, &order); err != nil {
		o.log.Error().Err(err).Msg("checkout.create_order_failed")
		return fmt.Errorf("%w: %w", ErrOrderCreation, err)
	}
	if order.OrderID == "" {
		return fmt.Errorf("%w: empty order id", ErrOrderCreation)
	}

	results, err := o.checkout.Open(ctx, Options{
		OrderID:     order.OrderID,
		KeyID:       o.cfg.KeyID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Name:        o.cfg.CompanyName,
		Description: o.cfg.Description,
		Prefill:     Prefill{Name: o.session.DisplayName(), Email: o.session.Email()},
	})
	if err != nil {
		return fmt.Errorf("checkout: open: %w", err)
	}

	var res Result
	select {
	case <-ctx.Done():
		o.log.Debug().Str("order_id", order.OrderID).Msg("checkout.abandoned")
		return nil
	case r, ok := <-results:
		if !ok {
			o.log.Debug().Str("order_id", order.OrderID).Msg("checkout.abandoned")
			return nil
		}
		res = r
	}

	// The checkout may have taken long enough for the first token to expire.
	token, err = o.token(ctx)
	if err != nil {
		return err
	}

	confirmation := map[string]string{
		"order_id":   res.OrderID,
		"payment_id": res.PaymentID,
		"signature":  res.Signature,
	}
	if err := o.post(ctx, "/verifyPayment", token, confirmation, nil); err != nil {
		o.log.Error().Err(err).Str("order_id", res.OrderID).Msg("checkout.verify_failed")
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}
	o.log.Info().Str("order_id", res.OrderID).Msg("checkout.verified")
	return nil
}

func (o *Orchestrator) token(ctx context.Context) (string, error) {
	if o.session == nil {
		return "", ErrNotSignedIn
	}
	token, err := o.session.IDToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotSignedIn, err)
	}
	if token == "" {
		return "", ErrNotSignedIn
	}
	return token, nil
}

func (o *Orchestrator) post(ctx context.Context, path, token string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.http.Do(req)
	if err != nil {
		return err
	}
	data, err := httputil.ReadBody(resp, maxResponseBody)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	var envelope struct {
		Error APIError `json:"error"`
	}
	apiErr := &APIError{Status: status}
	if json.Unmarshal(data, &envelope) == nil {
		envelope.Error.Status = status
		apiErr = &envelope.Error
	}
	return apiErr
}
