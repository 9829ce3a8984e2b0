package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the chat service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode the bearer token is accepted as the caller's user id.
	Mode string

	// Relational store
	DatastoreType string // "postgres" or "sqlite"
	DBURL         string

	// Run relational and document store migrations on startup.
	DatastoreMigrateAtStart bool

	// Document store (messages)
	DocstoreType  string // "mongo"
	MongoURL      string
	MongoDatabase string
	// MessageRetention adds a TTL index on sentAt when > 0.
	MessageRetention time.Duration

	// Redis, shared by the cache, presence and redis fan-out plugins.
	RedisURL string

	// Unread & chat-order cache
	CacheType        string // "redis", "memory" or "none"
	ChatIndexTTL     time.Duration
	LastMessageTTL   time.Duration
	UnreadCounterTTL time.Duration

	// Presence tracker
	PresenceType          string // "redis" or "none"
	ConnectionTTL         time.Duration
	PreviousConnectionTTL time.Duration

	// Real-time fan-out
	FanoutType   string // "redis", "kafka" or "none"
	KafkaBrokers string // comma-separated host:port list
	KafkaTopic   string

	// Message limits
	MaxMessageLength   int
	PreviewLength      int
	DefaultPageSize    int
	MaxPageSize        int
	ReplyPreviewLength int

	// Reconciliation task processor
	TaskInterval   time.Duration
	TaskRetryDelay time.Duration
	TaskBatchSize  int

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string // Internal URL for OIDC discovery (when issuer URL is not reachable)

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=chat-service".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	// When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for /health, /ready and /metrics.
	ManagementAccessLog bool

	// CORS for browser clients. An empty origin list allows any origin.
	CORSEnabled bool
	CORSOrigins string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	LogLevel string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DocstoreType:            "mongo",
		MongoDatabase:           "chat",
		CacheType:               "none",
		ChatIndexTTL:            24 * time.Hour,
		LastMessageTTL:          24 * time.Hour,
		UnreadCounterTTL:        24 * time.Hour,
		PresenceType:            "none",
		ConnectionTTL:           30 * time.Minute,
		PreviousConnectionTTL:   15 * time.Minute,
		FanoutType:              "none",
		KafkaTopic:              "chat-events",
		MaxMessageLength:        1500,
		PreviewLength:           64,
		DefaultPageSize:         50,
		MaxPageSize:             100,
		ReplyPreviewLength:      100,
		TaskInterval:            30 * time.Second,
		TaskRetryDelay:          5 * time.Minute,
		TaskBatchSize:           100,
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:    1024 * 1024,
		DrainTimeout:   30,
		DBMaxOpenConns: 25,
		DBMaxIdleConns: 5,
		LogLevel:       "info",
	}
}
