package httpserver

import (
	"net/http"

	apierrors "github.com/lucidlens/server/internal/errors"
	"github.com/lucidlens/server/internal/identity"
	"github.com/lucidlens/server/internal/logger"
	"github.com/lucidlens/server/internal/payment"
	"github.com/lucidlens/server/pkg/responders"
)

type createOrderResponse struct {
	OrderID string `json:"orderId"`
}

type verifyPaymentRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

func (req verifyPaymentRequest) confirmation() payment.Confirmation {
	return payment.Confirmation{OrderID: req.OrderID, PaymentID: req.PaymentID, Signature: req.Signature}
}

type verifyPaymentResponse struct {
	Success bool `json:"success"`
}

// createOrder handles POST /createOrder. Order terms are fixed server-side,
// so the body is never read.
func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())
	discardBody(w, r)

	order, err := h.payments.CreateOrder(r.Context(), user)
	if err != nil {
		writePaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createOrderResponse{OrderID: order.ID})
}

// verifyPayment handles POST /verifyPayment. The entitlement is written for
// the authenticated caller, whatever the body says.
func (h *handlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())

	var req verifyPaymentRequest
	if err := decodeBody(w, r, maxBodyBytes, &req); err != nil {
		log := logger.FromContext(r.Context())
		log.Warn().Err(err).Msg("payment.verify.bad_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidArgument, msgVerificationFailed)
		return
	}

	if err := h.payments.VerifyPayment(r.Context(), user, req.confirmation()); err != nil {
		writePaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyPaymentResponse{Success: true})
}

// callableCreateOrder handles POST /callable/createOrder.
func (h *handlers) callableCreateOrder(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())
	discardBody(w, r)

	order, err := h.payments.CreateOrder(r.Context(), user)
	if err != nil {
		writeCallablePaymentError(w, err)
		return
	}
	responders.CallableResult(w, createOrderResponse{OrderID: order.ID})
}

// callableVerifyPayment handles POST /callable/verifyPayment.
func (h *handlers) callableVerifyPayment(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())

	var req responders.CallableRequest[verifyPaymentRequest]
	if err := decodeBody(w, r, maxBodyBytes, &req); err != nil || req.Data == nil {
		apierrors.WriteCallableError(w, apierrors.ErrCodeInvalidArgument, msgVerificationFailed)
		return
	}

	if err := h.payments.VerifyPayment(r.Context(), user, req.Data.confirmation()); err != nil {
		writeCallablePaymentError(w, err)
		return
	}
	responders.CallableResult(w, verifyPaymentResponse{Success: true})
}
