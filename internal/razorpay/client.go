package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lucidlens/server/internal/circuitbreaker"
	"github.com/lucidlens/server/internal/config"
	"github.com/lucidlens/server/internal/httputil"
	"github.com/lucidlens/server/internal/logger"
)

// ErrUpstream wraps every failure talking to the Orders API.
var ErrUpstream = errors.New("razorpay: orders api request failed")

// OrderRequest are the terms of a new order. Amount is in paise.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the subset of the Orders API response the server relies on.
type Order struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// OrderCreator creates orders with the payment gateway.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
}

// Client talks to the Razorpay Orders API with basic auth (key id, key secret).
// The key secret never leaves this process except in the Authorization header.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	breakers  *circuitbreaker.Manager
}

// NewClient builds a Client from config. breakers may be nil.
func NewClient(cfg config.RazorpayConfig, breakers *circuitbreaker.Manager) *Client {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		http:      httputil.NewClient(timeout),
		breakers:  breakers,
	}
}

// CreateOrder calls POST /orders and returns the created order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	out, err := c.breakers.Execute(circuitbreaker.ServiceGateway, func() (interface{}, error) {
		return c.createOrder(ctx, req)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return Order{}, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return Order{}, err
	}
	return out.(Order), nil
}

func (c *Client) createOrder(ctx context.Context, req OrderRequest) (Order, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Order{}, fmt.Errorf("encode order request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return Order{}, fmt.Errorf("build order request: %w", err)
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	body, err := httputil.ReadBody(resp, 1<<20)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	log := logger.FromContext(ctx)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().
			Int("status", resp.StatusCode).
			Str("receipt", req.Receipt).
			Str("body", httputil.ErrorSnippet(body)).
			Dur("duration", time.Since(start)).
			Msg("razorpay.create_order.rejected")
		return Order{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return Order{}, fmt.Errorf("%w: decode order: %v", ErrUpstream, err)
	}
	if order.ID == "" {
		return Order{}, fmt.Errorf("%w: response missing order id", ErrUpstream)
	}

	log.Debug().
		Str("order_id", order.ID).
		Int64("amount", order.Amount).
		Dur("duration", time.Since(start)).
		Msg("razorpay.create_order.ok")
	return order, nil
}
