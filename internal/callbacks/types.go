package callbacks

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventEntitlementGranted is the event type sent after an entitlement write.
const EventEntitlementGranted = "entitlement.granted"

// Grant sources.
const (
	SourcePayment   = "payment"
	SourceDevBypass = "dev_bypass"
)

// Notifier delivers entitlement events to a user-defined callback.
type Notifier interface {
	EntitlementGranted(ctx context.Context, event EntitlementEvent)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) EntitlementGranted(context.Context, EntitlementEvent) {}

// EntitlementEvent describes a user that just gained paid access.
// EventID stays the same across delivery retries; receivers should deduplicate on it.
type EntitlementEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	EventTimestamp time.Time `json:"eventTimestamp"`

	UserID    string    `json:"userId"`
	Source    string    `json:"source"`
	OrderID   string    `json:"orderId,omitempty"`
	PaymentID string    `json:"paymentId,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	GrantedAt time.Time `json:"grantedAt"`
}

// ErrCallbackDisabled is returned when callbacks are not configured.
var ErrCallbackDisabled = errors.New("callbacks: disabled")

// generateEventID returns "evt_" followed by a random UUID without dashes.
func generateEventID() string {
	id := uuid.New()
	return "evt_" + hex.EncodeToString(id[:])
}

// PrepareEvent fills in missing event metadata. An existing EventID is kept.
func PrepareEvent(event *EntitlementEvent) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.EventType == "" {
		event.EventType = EventEntitlementGranted
	}
	now := time.Now().UTC()
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = now
	}
	if event.GrantedAt.IsZero() {
		event.GrantedAt = now
	}
}
