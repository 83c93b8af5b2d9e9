package entitlement

import (
	"context"
	"errors"
	"time"
)

// FieldHasPaid is the record field that grants access to paid features.
const FieldHasPaid = "hasPaid"

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("entitlement: store closed")

// Record is a snapshot of one user's entitlement document.
// A user with no document yet is represented by Exists == false and HasPaid == false.
type Record struct {
	UserID    string         `json:"userId"`
	HasPaid   bool           `json:"hasPaid"`
	Exists    bool           `json:"-"`
	Fields    map[string]any `json:"-"`
	UpdatedAt time.Time      `json:"updatedAt,omitempty"`
}

// Store is the durable per-user entitlement record store.
//
// MergeSet writes the given fields and leaves every other field of the record
// untouched, creating the record when it does not exist. Subscribe delivers the
// current snapshot first and then one snapshot per change until ctx ends, at
// which point the channel is closed. Slow subscribers only see the latest snapshot.
type Store interface {
	Get(ctx context.Context, userID string) (Record, error)
	MergeSet(ctx context.Context, userID string, fields map[string]any) error
	Subscribe(ctx context.Context, userID string) (<-chan Record, error)
	Ping(ctx context.Context) error
	Close() error
}

// recordFromFields builds a Record from raw document fields.
func recordFromFields(userID string, fields map[string]any, updatedAt time.Time) Record {
	rec := Record{
		UserID:    userID,
		Exists:    fields != nil,
		Fields:    copyFields(fields),
		UpdatedAt: updatedAt,
	}
	if paid, ok := fields[FieldHasPaid].(bool); ok {
		rec.HasPaid = paid
	}
	return rec
}

func copyFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// withQueryTimeout wraps the context with a query timeout if one isn't already set.
func withQueryTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// DefaultQueryTimeout bounds every store round trip that has no caller deadline.
const DefaultQueryTimeout = 5 * time.Second
