package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Razorpay       RazorpayConfig       `yaml:"razorpay"`
	Firebase       FirebaseConfig       `yaml:"firebase"`
	Entitlements   EntitlementConfig    `yaml:"entitlements"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Dreams         DreamsConfig         `yaml:"dreams"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics endpoint
	CallableEnabled    bool     `yaml:"callable_enabled"`      // Mount /callable/* routes speaking the Firebase callable wire format
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// IsProduction reports whether the configured environment is production.
func (l LoggingConfig) IsProduction() bool {
	return strings.EqualFold(l.Environment, "production")
}

// RazorpayConfig holds payment gateway credentials and checkout presentation.
type RazorpayConfig struct {
	KeyID       string   `yaml:"key_id"`       // Public key id, safe to hand to clients
	KeySecret   string   `yaml:"key_secret"`   // HMAC secret for payment signatures; never leaves the server
	BaseURL     string   `yaml:"base_url"`     // Orders API base (default: https://api.razorpay.com/v1)
	Timeout     Duration `yaml:"timeout"`      // Per-call HTTP timeout (default: 10s)
	CompanyName string   `yaml:"company_name"` // Checkout display name
	Description string   `yaml:"description"`  // Checkout line item description
}

// FirebaseConfig holds Firebase Admin SDK settings.
type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"` // Path to a service account JSON file
	CredentialsJSON string `yaml:"-"`                // Service account JSON loaded from env
}

// HasCredentials reports whether explicit service account credentials were provided.
func (f FirebaseConfig) HasCredentials() bool {
	return f.CredentialsFile != "" || f.CredentialsJSON != ""
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// EntitlementConfig selects and configures the per-user entitlement record store.
type EntitlementConfig struct {
	Backend           string             `yaml:"backend"`            // "firestore", "postgres", "mongodb", or "memory"
	Collection        string             `yaml:"collection"`         // Firestore collection (default: users)
	PostgresURL       string             `yaml:"postgres_url"`       // PostgreSQL connection string
	PostgresTable     string             `yaml:"postgres_table"`     // PostgreSQL table (default: user_entitlements)
	PostgresPool      PostgresPoolConfig `yaml:"postgres_pool"`      // PostgreSQL connection pool settings
	MongoDBURL        string             `yaml:"mongodb_url"`        // MongoDB connection string
	MongoDBDatabase   string             `yaml:"mongodb_database"`   // MongoDB database name
	MongoDBCollection string             `yaml:"mongodb_collection"` // MongoDB collection (default: users)
	QueryTimeout      Duration           `yaml:"query_timeout"`      // Per-query timeout (default: 5s)
}

// IdempotencyConfig configures the response cache behind the Idempotency-Key header.
type IdempotencyConfig struct {
	Backend   string   `yaml:"backend"`    // "memory" or "redis"
	RedisURL  string   `yaml:"redis_url"`  // redis://host:port/db
	KeyPrefix string   `yaml:"key_prefix"` // Redis key prefix (default: lucidlens:idem:)
	TTL       Duration `yaml:"ttl"`        // How long a cached response is replayed (default: 24h)
}

// CallbacksConfig holds webhook callback configuration.
type CallbacksConfig struct {
	EntitlementGrantedURL string            `yaml:"entitlement_granted_url"`
	Headers               map[string]string `yaml:"headers"`
	Timeout               Duration          `yaml:"timeout"`
	Retry                 RetryConfig       `yaml:"retry"`
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`          // Enable retry with exponential backoff (default: true)
	MaxAttempts     int      `yaml:"max_attempts"`     // Maximum retry attempts (default: 5)
	InitialInterval Duration `yaml:"initial_interval"` // Initial backoff interval (default: 1s)
	MaxInterval     Duration `yaml:"max_interval"`     // Maximum backoff interval (default: 5m)
	Multiplier      float64  `yaml:"multiplier"`       // Backoff multiplier (default: 2.0)
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Global rate limiting (across all users)
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-user rate limiting (identified by the verified identity token)
	PerUserEnabled bool     `yaml:"per_user_enabled"`
	PerUserLimit   int      `yaml:"per_user_limit"`
	PerUserWindow  Duration `yaml:"per_user_window"`

	// Per-IP rate limiting (applies before authentication)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled    bool                 `yaml:"enabled"`
	Gateway    BreakerServiceConfig `yaml:"gateway"`     // Razorpay Orders API
	TextModel  BreakerServiceConfig `yaml:"text_model"`  // Dream interpretation model
	ImageModel BreakerServiceConfig `yaml:"image_model"` // Dream image model
	Webhook    BreakerServiceConfig `yaml:"webhook"`     // Outbound callbacks
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}

// DreamsConfig configures dream visualization and the saved gallery.
type DreamsConfig struct {
	Enabled           bool     `yaml:"enabled"`
	AppID             string   `yaml:"app_id"`          // Namespace for artifacts/{app_id}/users/{uid}/dreams
	Repository        string   `yaml:"repository"`      // "firestore" or "memory"
	GeminiAPIKey      string   `yaml:"gemini_api_key"`
	GeminiModel       string   `yaml:"gemini_model"`    // default: gemini-2.0-flash
	GeminiBaseURL     string   `yaml:"gemini_base_url"` // Optional API endpoint override
	HuggingFaceAPIKey string   `yaml:"huggingface_api_key"`
	ImageModelURL     string   `yaml:"image_model_url"` // Inference endpoint for the image model
	ImageCount        int      `yaml:"image_count"`     // Images generated per dream (default: 1)
	Style             string   `yaml:"style"`           // Appended to every image prompt
	BlobDir           string   `yaml:"blob_dir"`        // Directory for stored image blobs
	Timeout           Duration `yaml:"timeout"`         // Per-call model timeout (default: 60s)
}
