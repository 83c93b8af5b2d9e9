package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucidlens/server/internal/circuitbreaker"
	"github.com/lucidlens/server/internal/config"
	"github.com/lucidlens/server/internal/httputil"
	"github.com/lucidlens/server/internal/metrics"
)

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	MaxAttempts     int           // Maximum attempts including the first (default: 5)
	InitialInterval time.Duration // Initial backoff interval (default: 1s)
	MaxInterval     time.Duration // Maximum backoff interval (default: 5m)
	Multiplier      float64       // Backoff multiplier (default: 2.0)
	Timeout         time.Duration // Per-attempt timeout (default: 10s)
}

// DefaultRetryConfig returns sensible defaults for webhook retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryableClient posts entitlement events with exponential backoff.
// Deliveries run in the background; Close waits for in-flight deliveries.
type RetryableClient struct {
	cfg        config.CallbacksConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	breakers   *circuitbreaker.Manager

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// RetryOption customizes the retry client behavior.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) {
		c.logger = logger
	}
}

// WithRetryConfig sets custom retry configuration.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) {
		c.retryCfg = cfg
	}
}

// WithMetrics sets the metrics collector for webhook observability.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) {
		c.metrics = m
	}
}

// WithBreakers routes deliveries through the webhook circuit breaker.
func WithBreakers(m *circuitbreaker.Manager) RetryOption {
	return func(c *RetryableClient) {
		c.breakers = m
	}
}

// NewRetryableClient constructs a callback client. Without a target URL it
// returns a NoopNotifier.
func NewRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) Notifier {
	if cfg.EntitlementGrantedURL == "" {
		return NoopNotifier{}
	}
	return newRetryableClient(cfg, opts...)
}

func newRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) *RetryableClient {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retryCfg := DefaultRetryConfig()
	retryCfg.Timeout = timeout
	if cfg.Retry.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval.Duration > 0 {
		retryCfg.InitialInterval = cfg.Retry.InitialInterval.Duration
	}
	if cfg.Retry.MaxInterval.Duration > 0 {
		retryCfg.MaxInterval = cfg.Retry.MaxInterval.Duration
	}
	if cfg.Retry.Multiplier > 0 {
		retryCfg.Multiplier = cfg.Retry.Multiplier
	}
	if !cfg.Retry.Enabled {
		retryCfg.MaxAttempts = 1
	}

	client := &RetryableClient{
		cfg:        cfg,
		retryCfg:   retryCfg,
		httpClient: httputil.NewClient(timeout),
		logger:     zerolog.Nop(),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// EntitlementGranted dispatches the event in the background.
// The EventID is fixed before the first attempt so every retry carries the same one.
func (c *RetryableClient) EntitlementGranted(_ context.Context, event EntitlementEvent) {
	if c == nil || c.cfg.EntitlementGrantedURL == "" {
		return
	}
	PrepareEvent(&event)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Deliver(context.Background(), event); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", event.EventID).
				Str("user_id", event.UserID).
				Msg("callbacks.delivery_failed")
		}
	}()
}

// Deliver sends the event synchronously, retrying with backoff.
func (c *RetryableClient) Deliver(ctx context.Context, event EntitlementEvent) error {
	if c.cfg.EntitlementGrantedURL == "" {
		return ErrCallbackDisabled
	}
	PrepareEvent(&event)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.sendWithRetry(ctx, payload, event.EventType)
}

// Close stops pending backoff sleeps and waits for in-flight deliveries.
func (c *RetryableClient) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	return nil
}

func (c *RetryableClient) sendWithRetry(ctx context.Context, payload []byte, eventType string) error {
	var lastErr error
	interval := c.retryCfg.InitialInterval
	start := time.Now()

	for attempt := 1; attempt <= c.retryCfg.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		_, err := c.breakers.Execute(circuitbreaker.ServiceWebhook, func() (interface{}, error) {
			return nil, c.sendHTTP(reqCtx, payload)
		})
		cancel()

		if err == nil {
			c.metrics.ObserveWebhook(eventType, "success", time.Since(start), attempt)
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Str("event_type", eventType).
					Msg("callbacks.delivered_after_retry")
			}
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.retryCfg.MaxAttempts).
			Str("event_type", eventType).
			Dur("next_retry", interval).
			Msg("callbacks.attempt_failed")

		if attempt == c.retryCfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(interval):
		case <-c.stop:
			c.metrics.ObserveWebhook(eventType, "aborted", time.Since(start), attempt)
			return fmt.Errorf("webhook aborted after %d attempts: %w", attempt, lastErr)
		case <-ctx.Done():
			return ctx.Err()
		}
		interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
		if interval > c.retryCfg.MaxInterval {
			interval = c.retryCfg.MaxInterval
		}
	}

	c.metrics.ObserveWebhook(eventType, "failed", time.Since(start), c.retryCfg.MaxAttempts)
	return fmt.Errorf("webhook failed after %d attempts: %w", c.retryCfg.MaxAttempts, lastErr)
}

func (c *RetryableClient) sendHTTP(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.EntitlementGrantedURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	contentType := c.cfg.Headers["Content-Type"]
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range c.cfg.Headers {
		if k == "" || strings.EqualFold(k, "content-type") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, c.cfg.EntitlementGrantedURL)
	}
	return nil
}
