package dream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

// CollectionPath returns the Firestore collection holding a user's dreams.
func CollectionPath(appID, userID string) string {
	return fmt.Sprintf("artifacts/%s/users/%s/dreams", appID, userID)
}

// firestoreDream is the stored document shape.
type firestoreDream struct {
	Text          string    `firestore:"text"`
	PoeticSummary string    `firestore:"poeticSummary"`
	DreamMeaning  string    `firestore:"dreamMeaning"`
	Colors        []string  `firestore:"colors"`
	Keywords      []string  `firestore:"keywords"`
	Sound         string    `firestore:"sound"`
	Timestamp     time.Time `firestore:"timestamp,serverTimestamp"`
	ImageCount    int       `firestore:"imageCount"`
}

// FirestoreRepository stores dreams as auto-id documents.
type FirestoreRepository struct {
	client *firestore.Client
	appID  string
}

// NewFirestoreRepository uses an existing client; the caller owns it.
func NewFirestoreRepository(client *firestore.Client, appID string) *FirestoreRepository {
	return &FirestoreRepository{client: client, appID: appID}
}

func (r *FirestoreRepository) Create(ctx context.Context, userID string, d Dream) (string, error) {
	doc := firestoreDream{
		Text:          d.Text,
		PoeticSummary: d.PoeticSummary,
		DreamMeaning:  d.DreamMeaning,
		Colors:        d.Colors,
		Keywords:      d.Keywords,
		Sound:         d.Sound,
		ImageCount:    d.ImageCount,
	}
	ref, _, err := r.client.Collection(CollectionPath(r.appID, userID)).Add(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("add dream: %w", err)
	}
	return ref.ID, nil
}

func (r *FirestoreRepository) List(ctx context.Context, userID string) ([]Dream, error) {
	snaps, err := r.client.Collection(CollectionPath(r.appID, userID)).
		OrderBy("timestamp", firestore.Desc).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("query dreams: %w", err)
	}

	dreams := make([]Dream, 0, len(snaps))
	for _, snap := range snaps {
		var doc firestoreDream
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode dream %s: %w", snap.Ref.ID, err)
		}
		dreams = append(dreams, Dream{
			ID:            snap.Ref.ID,
			Text:          doc.Text,
			PoeticSummary: doc.PoeticSummary,
			DreamMeaning:  doc.DreamMeaning,
			Colors:        doc.Colors,
			Keywords:      doc.Keywords,
			Sound:         doc.Sound,
			Timestamp:     doc.Timestamp,
			ImageCount:    doc.ImageCount,
		})
	}
	return dreams, nil
}

// MemoryRepository keeps dreams in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	dreams map[string][]Dream
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{dreams: make(map[string][]Dream)}
}

func (r *MemoryRepository) Create(_ context.Context, userID string, d Dream) (string, error) {
	d.ID = uuid.NewString()
	d.Images = nil
	r.mu.Lock()
	r.dreams[userID] = append(r.dreams[userID], d)
	r.mu.Unlock()
	return d.ID, nil
}

// List returns dreams in insertion order.
func (r *MemoryRepository) List(_ context.Context, userID string) ([]Dream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Dream(nil), r.dreams[userID]...), nil
}
