package entitlement

import (
	"database/sql"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog/log"

	"github.com/lucidlens/server/internal/config"
)

// Backends holds already-initialized clients that stores may share with the rest of the app.
type Backends struct {
	Firestore *firestore.Client // required for the firestore backend
	SharedDB  *sql.DB           // optional pool for the postgres backend
}

// NewStore creates the Store selected by cfg.Backend.
func NewStore(cfg config.EntitlementConfig, backends Backends) (Store, error) {
	switch cfg.Backend {
	case "firestore", "":
		if backends.Firestore == nil {
			return nil, errors.New("firestore backend requires an initialized firestore client")
		}
		return NewFirestoreStore(backends.Firestore, cfg.Collection, cfg.QueryTimeout.Duration), nil
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		if backends.SharedDB != nil {
			return NewPostgresStoreWithDB(backends.SharedDB, cfg.PostgresURL, cfg)
		}
		return NewPostgresStore(cfg.PostgresURL, cfg)
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.MongoDBCollection, cfg.QueryTimeout.Duration)
	case "memory":
		log.Warn().Msg("entitlement.store.memory: entitlements are lost on restart, do not use in production")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown entitlement backend: %s", cfg.Backend)
	}
}
