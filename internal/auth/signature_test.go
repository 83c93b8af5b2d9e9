package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const knownSignature = "8ab882b69975648bd036bb84b853484100f7addce5cead23e8a2d9ffe5ba21c8"

func TestSignKnownVector(t *testing.T) {
	signer := NewPaymentSigner("testsecret")
	got := signer.Sign("order_ABC123", "pay_XYZ789")
	if got != knownSignature {
		t.Fatalf("Sign() = %s, want %s", got, knownSignature)
	}
}

func TestSignMatchesHMACDefinition(t *testing.T) {
	cases := []struct{ secret, order, payment string }{
		{"testsecret", "order_ABC123", "pay_XYZ789"},
		{"s", "", ""},
		{"k3y|with|pipes", "order|1", "pay|2"},
		{"unicode-ключ", "order_ü", "pay_✓"},
	}
	for _, c := range cases {
		mac := hmac.New(sha256.New, []byte(c.secret))
		mac.Write([]byte(c.order + "|" + c.payment))
		want := hex.EncodeToString(mac.Sum(nil))

		signer := NewPaymentSigner(c.secret)
		if got := signer.Sign(c.order, c.payment); got != want {
			t.Errorf("Sign(%q,%q) = %s, want %s", c.order, c.payment, got, want)
		}
		if err := signer.Verify(c.order, c.payment, want); err != nil {
			t.Errorf("Verify rejected its own signature: %v", err)
		}
	}
}

func TestVerify(t *testing.T) {
	signer := NewPaymentSigner("testsecret")

	tests := []struct {
		name      string
		order     string
		payment   string
		signature string
		wantErr   bool
	}{
		{"valid", "order_ABC123", "pay_XYZ789", knownSignature, false},
		{"garbage", "order_ABC123", "pay_XYZ789", "deadbeef", true},
		{"empty signature", "order_ABC123", "pay_XYZ789", "", true},
		{"uppercase hex", "order_ABC123", "pay_XYZ789", strings.ToUpper(knownSignature), true},
		{"trailing space", "order_ABC123", "pay_XYZ789", knownSignature + " ", true},
		{"swapped ids", "pay_XYZ789", "order_ABC123", knownSignature, true},
		{"other order", "order_B", "pay_XYZ789", knownSignature, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := signer.Verify(tt.order, tt.payment, tt.signature)
			if tt.wantErr {
				if !errors.Is(err, ErrSignatureMismatch) {
					t.Fatalf("expected ErrSignatureMismatch, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestVerifyDifferentSecret(t *testing.T) {
	other := NewPaymentSigner("othersecret")
	if err := other.Verify("order_ABC123", "pay_XYZ789", knownSignature); err == nil {
		t.Fatal("signature made with another secret must not verify")
	}
}
