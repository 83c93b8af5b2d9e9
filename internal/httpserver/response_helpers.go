package httpserver

import (
	"errors"
	"net/http"

	"github.com/lucidlens/server/internal/dream"
	apierrors "github.com/lucidlens/server/internal/errors"
	"github.com/lucidlens/server/internal/identity"
	"github.com/lucidlens/server/internal/payment"
	"github.com/lucidlens/server/pkg/responders"
)

// Client-facing messages. Internal detail stays in the logs.
const (
	msgVerificationFailed = "Payment verification failed."
	msgOrderFailed        = "Could not create order."
	msgInternal           = "Internal server error."
)

// paymentError maps a payment service error to a code and client message.
func paymentError(err error) (apierrors.ErrorCode, string) {
	switch {
	case errors.Is(err, payment.ErrUnauthenticated):
		return apierrors.ErrCodeUnauthenticated, identity.UnauthenticatedMessage
	case errors.Is(err, payment.ErrInvalidArgument):
		return apierrors.ErrCodeInvalidArgument, msgVerificationFailed
	case errors.Is(err, payment.ErrSignatureMismatch):
		return apierrors.ErrCodeSignatureMismatch, msgVerificationFailed
	case errors.Is(err, payment.ErrOrderCreationFailed):
		return apierrors.ErrCodeOrderCreationFailed, msgOrderFailed
	default:
		return apierrors.ErrCodeInternalError, msgInternal
	}
}

func writePaymentError(w http.ResponseWriter, err error) {
	code, msg := paymentError(err)
	apierrors.WriteSimpleError(w, code, msg)
}

func writeCallablePaymentError(w http.ResponseWriter, err error) {
	code, msg := paymentError(err)
	apierrors.WriteCallableError(w, code, msg)
}

// dreamError maps dream service errors. Upstream model failures become 502.
func dreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrMissingToken):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthenticated, identity.UnauthenticatedMessage)
	case errors.Is(err, dream.ErrNotEntitled):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotEntitled, "Unlock LucidLens to visualize dreams.")
	case errors.Is(err, dream.ErrEmptyText):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "Describe your dream first.")
	case errors.Is(err, dream.ErrTextTooLong):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidArgument, "Dream text is too long.")
	case errors.Is(err, dream.ErrTooManyImages):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidArgument, "Too many images.")
	case errors.Is(err, dream.ErrModelLoading):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnavailable, "The model is loading, please try again in a moment.")
	case errors.Is(err, dream.ErrUpstream), errors.Is(err, dream.ErrInvalidInterpretation):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUpstreamError, "Dream analysis failed. Try again later.")
	default:
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, msgInternal)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	responders.JSON(w, status, payload)
}
