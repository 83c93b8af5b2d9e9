package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	c.Entitlements.Backend = strings.ToLower(strings.TrimSpace(c.Entitlements.Backend))
	if c.Entitlements.Backend == "" {
		c.Entitlements.Backend = "firestore"
	}
	if c.Entitlements.Collection == "" {
		c.Entitlements.Collection = "users"
	}
	if c.Entitlements.QueryTimeout.Duration <= 0 {
		c.Entitlements.QueryTimeout = Duration{Duration: 5 * time.Second}
	}

	c.Idempotency.Backend = strings.ToLower(strings.TrimSpace(c.Idempotency.Backend))
	if c.Idempotency.Backend == "" {
		c.Idempotency.Backend = "memory"
	}
	if c.Idempotency.TTL.Duration <= 0 {
		c.Idempotency.TTL = Duration{Duration: 24 * time.Hour}
	}

	if c.Razorpay.Timeout.Duration <= 0 {
		c.Razorpay.Timeout = Duration{Duration: 10 * time.Second}
	}
	c.Razorpay.BaseURL = strings.TrimSuffix(c.Razorpay.BaseURL, "/")

	if c.Callbacks.Timeout.Duration == 0 {
		c.Callbacks.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Callbacks.Headers == nil {
		c.Callbacks.Headers = make(map[string]string)
	}

	if c.Dreams.ImageCount <= 0 {
		c.Dreams.ImageCount = 1
	}
	if c.Dreams.Repository == "" {
		c.Dreams.Repository = "firestore"
	}
	if c.Dreams.Timeout.Duration <= 0 {
		c.Dreams.Timeout = Duration{Duration: 60 * time.Second}
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	// The key id is public, the secret signs every payment confirmation.
	if c.Razorpay.KeyID == "" {
		errs = append(errs, "razorpay.key_id is required")
	}
	if c.Razorpay.KeySecret == "" {
		errs = append(errs, "razorpay.key_secret is required")
	}
	if c.Razorpay.BaseURL != "" {
		if err := validateHTTPURL(c.Razorpay.BaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("razorpay.base_url: %v", err))
		}
	}

	switch c.Entitlements.Backend {
	case "firestore", "memory":
	case "postgres":
		if c.Entitlements.PostgresURL == "" {
			errs = append(errs, "entitlements.postgres_url is required when backend is 'postgres'")
		}
	case "mongodb":
		if c.Entitlements.MongoDBURL == "" {
			errs = append(errs, "entitlements.mongodb_url is required when backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("entitlements.backend %q is not supported (use firestore, postgres, mongodb, or memory)", c.Entitlements.Backend))
	}

	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if c.Idempotency.RedisURL == "" {
			errs = append(errs, "idempotency.redis_url is required when backend is 'redis'")
		}
	default:
		errs = append(errs, fmt.Sprintf("idempotency.backend %q is not supported (use memory or redis)", c.Idempotency.Backend))
	}

	if c.Callbacks.EntitlementGrantedURL != "" {
		if err := validateHTTPURL(c.Callbacks.EntitlementGrantedURL); err != nil {
			errs = append(errs, fmt.Sprintf("callbacks.entitlement_granted_url: %v", err))
		}
	}

	if c.Dreams.Enabled {
		if c.Dreams.GeminiAPIKey == "" {
			errs = append(errs, "dreams.gemini_api_key is required when dreams are enabled")
		}
		if c.Dreams.HuggingFaceAPIKey == "" {
			errs = append(errs, "dreams.huggingface_api_key is required when dreams are enabled")
		}
		switch c.Dreams.Repository {
		case "firestore", "memory":
		default:
			errs = append(errs, fmt.Sprintf("dreams.repository %q is not supported (use firestore or memory)", c.Dreams.Repository))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// NeedsFirestore reports whether any configured component talks to Firestore.
// Identity verification always needs the Firebase app; this only covers data access.
func (c *Config) NeedsFirestore() bool {
	return c.Entitlements.UsesFirestore() || c.Dreams.UsesFirestore()
}

// UsesFirestore reports whether entitlement records live in Firestore.
// An unset backend defaults to Firestore.
func (c EntitlementConfig) UsesFirestore() bool {
	return c.Backend == "" || c.Backend == "firestore"
}

// UsesFirestore reports whether the dream service is enabled and stores dreams in Firestore.
func (c DreamsConfig) UsesFirestore() bool {
	return c.Enabled && (c.Repository == "" || c.Repository == "firestore")
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return errors.New("missing scheme")
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
