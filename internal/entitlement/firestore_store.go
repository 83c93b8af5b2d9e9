package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps entitlement records as documents in a Firestore collection
// (users/{uid} by default).
type FirestoreStore struct {
	client       *firestore.Client
	collection   string
	queryTimeout time.Duration
	ownsClient   bool
}

// NewFirestoreStore wraps an existing Firestore client. The caller keeps ownership of the client.
func NewFirestoreStore(client *firestore.Client, collection string, queryTimeout time.Duration) *FirestoreStore {
	if collection == "" {
		collection = "users"
	}
	return &FirestoreStore{client: client, collection: collection, queryTimeout: queryTimeout}
}

// WithOwnedClient makes Close also close the underlying client.
func (s *FirestoreStore) WithOwnedClient() *FirestoreStore {
	s.ownsClient = true
	return s
}

func (s *FirestoreStore) doc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(userID)
}

// Get reads users/{uid}. A missing document yields an empty record.
func (s *FirestoreStore) Get(ctx context.Context, userID string) (Record, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	snap, err := s.doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Record{UserID: userID}, nil
		}
		return Record{}, fmt.Errorf("get entitlement %s: %w", userID, err)
	}
	return recordFromSnapshot(userID, snap), nil
}

// MergeSet writes fields with merge semantics; other fields are preserved.
func (s *FirestoreStore) MergeSet(ctx context.Context, userID string, fields map[string]any) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	if _, err := s.doc(userID).Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("merge entitlement %s: %w", userID, err)
	}
	return nil
}

// Subscribe listens to the user's document through a Firestore snapshot listener.
func (s *FirestoreStore) Subscribe(ctx context.Context, userID string) (<-chan Record, error) {
	it := s.doc(userID).Snapshots(ctx)
	out := make(chan Record, 1)
	sub := &subscription{ch: out}

	go func() {
		defer close(out)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, iterator.Done) {
					log.Warn().Err(err).Str("user_id", userID).Msg("entitlement.firestore.listen_failed")
				}
				return
			}
			sub.offer(recordFromSnapshot(userID, snap))
		}
	}()
	return out, nil
}

// Ping performs a cheap read to confirm Firestore is reachable.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.client.Collection(s.collection).Doc("_health").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("ping firestore: %w", err)
	}
	return nil
}

// Close closes the client if this store owns it.
func (s *FirestoreStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

func recordFromSnapshot(userID string, snap *firestore.DocumentSnapshot) Record {
	if snap == nil || !snap.Exists() {
		return Record{UserID: userID}
	}
	return recordFromFields(userID, snap.Data(), snap.UpdateTime)
}
