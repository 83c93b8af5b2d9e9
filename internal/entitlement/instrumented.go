package entitlement

import (
	"context"

	"github.com/lucidlens/server/internal/metrics"
)

// instrumentedStore records query latency for every round trip.
type instrumentedStore struct {
	Store
	metrics *metrics.Metrics
	backend string
}

// Instrument wraps store with query duration metrics labelled by backend.
// A nil collector returns store unchanged.
func Instrument(store Store, m *metrics.Metrics, backend string) Store {
	if m == nil {
		return store
	}
	return &instrumentedStore{Store: store, metrics: m, backend: backend}
}

func (s *instrumentedStore) Get(ctx context.Context, userID string) (Record, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get", s.backend)()
	return s.Store.Get(ctx, userID)
}

func (s *instrumentedStore) MergeSet(ctx context.Context, userID string, fields map[string]any) error {
	defer metrics.MeasureDBQuery(s.metrics, "merge_set", s.backend)()
	return s.Store.MergeSet(ctx, userID, fields)
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	defer metrics.MeasureDBQuery(s.metrics, "ping", s.backend)()
	return s.Store.Ping(ctx)
}
