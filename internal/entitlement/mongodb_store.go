package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoUpdatedAtField = "updatedAt"

// MongoDBStore keeps one document per user with _id = uid.
// Subscribe relies on change streams, which require a replica set or sharded cluster.
type MongoDBStore struct {
	client       *mongo.Client
	users        *mongo.Collection
	queryTimeout time.Duration
	hub          *hub
}

// NewMongoDBStore connects to MongoDB and verifies the connection.
func NewMongoDBStore(connString, database, collection string, queryTimeout time.Duration) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if collection == "" {
		collection = "users"
	}
	return &MongoDBStore{
		client:       client,
		users:        client.Database(database).Collection(collection),
		queryTimeout: queryTimeout,
		hub:          newHub(),
	}, nil
}

// Get loads the user's document. A missing document yields an empty record.
func (s *MongoDBStore) Get(ctx context.Context, userID string) (Record, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	var doc bson.M
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{UserID: userID}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("get entitlement %s: %w", userID, err)
	}
	return recordFromMongo(userID, doc), nil
}

// MergeSet applies fields with $set and upsert, leaving other fields untouched.
func (s *MongoDBStore) MergeSet(ctx context.Context, userID string, fields map[string]any) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	set := bson.M{mongoUpdatedAtField: time.Now().UTC()}
	for k, v := range fields {
		set[k] = v
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("merge entitlement %s: %w", userID, err)
	}
	return nil
}

// Subscribe opens a change stream filtered to the user's document.
func (s *MongoDBStore) Subscribe(ctx context.Context, userID string) (<-chan Record, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: userID}}}},
	}
	stream, err := s.users.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("watch entitlement %s: %w", userID, err)
	}

	sub, err := s.hub.subscribe(ctx, userID)
	if err != nil {
		_ = stream.Close(context.Background())
		return nil, err
	}
	rec, err := s.Get(ctx, userID)
	if err != nil {
		_ = stream.Close(context.Background())
		return nil, err
	}
	s.hub.deliver(sub, rec)

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var event struct {
				OperationType string `bson:"operationType"`
				FullDocument  bson.M `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("entitlement.mongodb.decode_failed")
				continue
			}
			if event.OperationType == "delete" || event.FullDocument == nil {
				s.hub.deliver(sub, Record{UserID: userID})
				continue
			}
			s.hub.deliver(sub, recordFromMongo(userID, event.FullDocument))
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("entitlement.mongodb.watch_failed")
		}
	}()
	return sub.ch, nil
}

// Ping checks connectivity to the primary.
func (s *MongoDBStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Close releases subscribers and disconnects.
func (s *MongoDBStore) Close() error {
	s.hub.close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func recordFromMongo(userID string, doc bson.M) Record {
	fields := make(map[string]any, len(doc))
	var updatedAt time.Time
	for k, v := range doc {
		switch k {
		case "_id":
			continue
		case mongoUpdatedAtField:
			switch t := v.(type) {
			case time.Time:
				updatedAt = t
			case interface{ Time() time.Time }:
				updatedAt = t.Time()
			}
			continue
		}
		fields[k] = v
	}
	return recordFromFields(userID, fields, updatedAt)
}
