package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrSignatureMismatch is returned when a payment signature does not match the expected value.
var ErrSignatureMismatch = errors.New("payment signature mismatch")

// PaymentSigner computes and checks gateway payment signatures.
//
// The gateway signs a completed payment as
// hex(HMAC_SHA256(keySecret, orderID + "|" + paymentID)) in lowercase.
// The key secret never leaves the server.
type PaymentSigner struct {
	secret []byte
}

// NewPaymentSigner creates a signer keyed with the gateway key secret.
func NewPaymentSigner(keySecret string) *PaymentSigner {
	return &PaymentSigner{secret: []byte(keySecret)}
}

// Message builds the signed payload for an order/payment pair.
func Message(orderID, paymentID string) string {
	return orderID + "|" + paymentID
}

// Sign returns the lowercase hex signature for an order/payment pair.
func (s *PaymentSigner) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(Message(orderID, paymentID)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the expected value byte for byte.
// No case folding or trimming is applied: "ABCD" does not match "abcd".
func (s *PaymentSigner) Verify(orderID, paymentID, signature string) error {
	expected := s.Sign(orderID, paymentID)
	// hmac.Equal is exact equality in constant time.
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}
