// Package payment implements order creation and payment verification for the
// one-time unlock. It is the only code path that grants entitlements from a
// gateway payment.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/lucidlens/server/internal/auth"
	"github.com/lucidlens/server/internal/callbacks"
	"github.com/lucidlens/server/internal/entitlement"
	"github.com/lucidlens/server/internal/identity"
	"github.com/lucidlens/server/internal/logger"
	"github.com/lucidlens/server/internal/metrics"
	"github.com/lucidlens/server/internal/razorpay"
)

// Fixed order terms. No request input can change them.
const (
	Amount        int64 = 1000
	Currency            = "INR"
	ReceiptPrefix       = "receipt_user_"
)

var (
	ErrUnauthenticated     = errors.New("payment: unauthenticated")
	ErrInvalidArgument     = errors.New("payment: missing or malformed confirmation")
	ErrOrderCreationFailed = errors.New("payment: order creation failed")
	ErrSignatureMismatch   = errors.New("payment: signature mismatch")
	ErrInternal            = errors.New("payment: internal error")
)

// Order is the client-visible result of CreateOrder.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
}

// Confirmation is what the gateway checkout returns to the client.
type Confirmation struct {
	OrderID   string
	PaymentID string
	Signature string
}

// Service creates orders and verifies payment confirmations.
type Service struct {
	gateway  razorpay.OrderCreator
	signer   *auth.PaymentSigner
	store    entitlement.Store
	notifier callbacks.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sends entitlement.granted events after successful verification.
func WithNotifier(n callbacks.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics records order and verification metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the gateway, signer, and entitlement store.
func NewService(gateway razorpay.OrderCreator, signer *auth.PaymentSigner, store entitlement.Store, opts ...Option) *Service {
	s := &Service{
		gateway:  gateway,
		signer:   signer,
		store:    store,
		notifier: callbacks.NoopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Receipt returns the gateway receipt for a user.
func Receipt(uid string) string {
	return ReceiptPrefix + uid
}

// CreateOrder asks the gateway for a new order for the fixed amount.
// Every call creates a distinct order and nothing is persisted.
func (s *Service) CreateOrder(ctx context.Context, user identity.User) (Order, error) {
	if user.UID == "" {
		return Order{}, ErrUnauthenticated
	}
	log := logger.FromContext(ctx)
	start := time.Now()

	receipt := Receipt(user.UID)
	created, err := s.gateway.CreateOrder(ctx, razorpay.OrderRequest{
		Amount:   Amount,
		Currency: Currency,
		Receipt:  receipt,
	})
	s.metrics.ObserveUpstream("gateway", time.Since(start), err)
	if err != nil {
		s.metrics.ObserveOrder("gateway_error", time.Since(start))
		log.Error().Err(err).Str("receipt", receipt).Msg("payment.create_order.failed")
		return Order{}, ErrOrderCreationFailed
	}

	s.metrics.ObserveOrder("success", time.Since(start))
	log.Info().Str("order_id", created.ID).Msg("payment.create_order.ok")
	return Order{ID: created.ID, Amount: Amount, Currency: Currency, Receipt: receipt}, nil
}

// VerifyPayment checks the confirmation signature and, when it matches, sets
// hasPaid on the caller's own record. The write target is always user.UID.
// Repeating a successful call is harmless.
func (s *Service) VerifyPayment(ctx context.Context, user identity.User, c Confirmation) error {
	if user.UID == "" {
		return ErrUnauthenticated
	}
	log := logger.FromContext(ctx)
	start := time.Now()

	if c.OrderID == "" || c.PaymentID == "" || c.Signature == "" {
		s.metrics.ObserveVerification("invalid_argument", time.Since(start))
		log.Warn().Msg("payment.verify.invalid_argument")
		return ErrInvalidArgument
	}

	if err := s.signer.Verify(c.OrderID, c.PaymentID, c.Signature); err != nil {
		s.metrics.ObserveVerification("signature_mismatch", time.Since(start))
		log.Warn().
			Str("order_id", c.OrderID).
			Str("payment_id", c.PaymentID).
			Str("signature", logger.Truncate(c.Signature)).
			Msg("payment.verify.signature_mismatch")
		return ErrSignatureMismatch
	}

	if err := s.store.MergeSet(ctx, user.UID, map[string]any{entitlement.FieldHasPaid: true}); err != nil {
		s.metrics.ObserveVerification("store_error", time.Since(start))
		log.Error().Err(err).Str("order_id", c.OrderID).Msg("payment.verify.store_failed")
		return ErrInternal
	}

	s.metrics.ObserveVerification("success", time.Since(start))
	log.Info().
		Str("order_id", c.OrderID).
		Str("payment_id", c.PaymentID).
		Msg("payment.verify.granted")

	s.notifier.EntitlementGranted(ctx, callbacks.EntitlementEvent{
		UserID:    user.UID,
		Source:    callbacks.SourcePayment,
		OrderID:   c.OrderID,
		PaymentID: c.PaymentID,
		Amount:    Amount,
		Currency:  Currency,
		GrantedAt: s.now().UTC(),
	})
	return nil
}
