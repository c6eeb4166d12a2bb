// Package config provides the configuration schema of complyflow.
//
// Configuration is file-based (complyflow.yaml) with COMPLYFLOW_ environment
// overrides. Everything except the API keys has a working default, so an
// empty file runs an in-memory engine on 127.0.0.1:8080.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP listener for ingest, admin API and metrics.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store selects where rules, notifications and items live.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Rules configures rules loaded at startup.
	Rules RulesConfig `yaml:"rules" mapstructure:"rules"`

	// Engine tunes the event bus and action execution.
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Harness configures the rule test harness.
	Harness HarnessConfig `yaml:"harness" mapstructure:"harness"`

	// ExecutionLog configures the execution history output.
	ExecutionLog ExecutionLogConfig `yaml:"execution_log" mapstructure:"execution_log"`

	// Ingest configures message broker event sources.
	Ingest IngestConfig `yaml:"ingest" mapstructure:"ingest"`

	// Auth configures API keys for ingest and admin.
	// Optional: without keys ingest is open and the admin API only answers
	// loopback callers in dev mode.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Telemetry configures OpenTelemetry traces and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (debug logging, keyless loopback admin).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file"`

	// AllowedOrigins lists browser origins accepted besides localhost.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// MaxEventBytes limits an ingested event envelope. Defaults to 1MB.
	MaxEventBytes int64 `yaml:"max_event_bytes" mapstructure:"max_event_bytes" validate:"omitempty,min=1"`

	// AdminRateLimit is the maximum admin API requests per minute per caller.
	// Defaults to 120. A negative value disables the limit.
	AdminRateLimit int `yaml:"admin_rate_limit" mapstructure:"admin_rate_limit"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite". Defaults to "memory".
	Driver string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=memory sqlite"`

	// Path is the SQLite database file. Required for the sqlite driver.
	Path string `yaml:"path" mapstructure:"path"`
}

// RulesConfig configures startup rules.
type RulesConfig struct {
	// SeedFile is a YAML rules file stored at startup for tenants that have
	// no rules yet.
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
}

// EngineConfig tunes rule evaluation and action execution.
type EngineConfig struct {
	// Workers is the number of goroutines evaluating events. Defaults to 4.
	Workers int `yaml:"workers" mapstructure:"workers" validate:"omitempty,min=1"`

	// QueueSize is the event bus capacity. Defaults to 1000.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" validate:"omitempty,min=1"`

	// PublishTimeout is how long Publish blocks on a full queue (e.g., "100ms").
	// "0" = drop immediately. Defaults to "100ms".
	PublishTimeout string `yaml:"publish_timeout" mapstructure:"publish_timeout" validate:"omitempty,duration"`

	// MaxRetries bounds retries of a pass that failed on the rule store.
	// Defaults to 5.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"omitempty,min=0"`

	// RetryInterval is the first retry delay (e.g., "200ms"). Defaults to "200ms".
	RetryInterval string `yaml:"retry_interval" mapstructure:"retry_interval" validate:"omitempty,duration"`

	// ActionTimeout bounds one action handler (e.g., "30s"). Defaults to "30s".
	ActionTimeout string `yaml:"action_timeout" mapstructure:"action_timeout" validate:"omitempty,duration"`

	// GuardExpressions enables CEL guard expressions on rules.
	// Default: true.
	GuardExpressions bool `yaml:"guard_expressions" mapstructure:"guard_expressions"`

	// WebhookTimeout bounds outgoing webhook calls (e.g., "10s"). Defaults to "10s".
	WebhookTimeout string `yaml:"webhook_timeout" mapstructure:"webhook_timeout" validate:"omitempty,duration"`

	// WebhookAllowPrivate lets webhooks reach loopback and private addresses.
	// Default: false.
	WebhookAllowPrivate bool `yaml:"webhook_allow_private" mapstructure:"webhook_allow_private"`
}

// HarnessConfig configures the rule test harness.
type HarnessConfig struct {
	// AllowLiveSideEffects lets test runs execute actions that cannot dry
	// run. Such results are flagged live_side_effect. Default: true.
	AllowLiveSideEffects bool `yaml:"allow_live_side_effects" mapstructure:"allow_live_side_effects"`
}

// ExecutionLogConfig configures the execution history.
type ExecutionLogConfig struct {
	// File receives one JSON line per rule dispatch, rotated by size.
	// Empty disables the file; "stdout" writes to standard output.
	File string `yaml:"file" mapstructure:"file"`

	// MaxSizeMB is the size at which the file is rotated. Defaults to 100.
	MaxSizeMB int `yaml:"max_size_mb" mapstructure:"max_size_mb" validate:"omitempty,min=1"`

	// MaxBackups is the number of rotated files kept. Defaults to 7.
	MaxBackups int `yaml:"max_backups" mapstructure:"max_backups" validate:"omitempty,min=0"`

	// MaxAgeDays removes rotated files older than this. Defaults to 30.
	MaxAgeDays int `yaml:"max_age_days" mapstructure:"max_age_days" validate:"omitempty,min=0"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress" mapstructure:"compress"`

	// BufferSize is the number of recent records kept for the admin API.
	// Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`
}

// IngestConfig configures broker event sources.
type IngestConfig struct {
	NATS  NATSConfig  `yaml:"nats" mapstructure:"nats"`
	Kafka KafkaConfig `yaml:"kafka" mapstructure:"kafka"`

	// TenantQuota limits events per tenant across all sources.
	TenantQuota TenantQuotaConfig `yaml:"tenant_quota" mapstructure:"tenant_quota"`
}

// TenantQuotaConfig configures per-tenant ingest rate limiting.
type TenantQuotaConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Rate is the number of events a tenant may publish per Period. Defaults to 100.
	Rate int `yaml:"rate" mapstructure:"rate" validate:"omitempty,min=1"`
	// Burst is how many events are accepted at once. Defaults to Rate.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`
	// Period is the window for Rate (e.g., "1s"). Defaults to "1s".
	Period string `yaml:"period" mapstructure:"period" validate:"omitempty,duration"`
}

// NATSConfig configures the NATS subscriber.
type NATSConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// URL of the NATS server. Defaults to "nats://127.0.0.1:4222".
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	// Subject to subscribe to. Defaults to "complyflow.events".
	Subject string `yaml:"subject" mapstructure:"subject"`
	// Queue makes replicas share the subject as a queue group.
	Queue string `yaml:"queue" mapstructure:"queue"`
	// Token authenticates the connection.
	Token string `yaml:"token" mapstructure:"token"`
}

// KafkaConfig configures the Kafka consumer.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Brokers []string `yaml:"brokers" mapstructure:"brokers" validate:"omitempty,dive,hostname_port"`
	// Topic to consume. Defaults to "complyflow.events".
	Topic string `yaml:"topic" mapstructure:"topic"`
	// GroupID is the consumer group. Defaults to "complyflow".
	GroupID string `yaml:"group_id" mapstructure:"group_id"`
}

// AuthConfig configures API keys.
type AuthConfig struct {
	Keys []APIKeyConfig `yaml:"keys" mapstructure:"keys" validate:"omitempty,dive"`
}

// APIKeyConfig defines an API key and what it may do.
type APIKeyConfig struct {
	// Name identifies the key holder in logs and the admin API.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// KeyHash is the Argon2id hash of the key (see "complyflow hash-key"),
	// or its SHA-256 hex digest prefixed with "sha256:".
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`

	// Roles are any of "admin", "ingest", "read-only".
	Roles []string `yaml:"roles" mapstructure:"roles" validate:"required,min=1,dive,oneof=admin ingest read-only"`

	// Tenants limits the key to these tenants. Empty means all tenants.
	Tenants []string `yaml:"tenants" mapstructure:"tenants" validate:"omitempty,dive,required"`

	// ExpiresAt is an optional RFC 3339 expiry.
	ExpiresAt string `yaml:"expires_at" mapstructure:"expires_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// ServiceName is reported on every span. Defaults to "complyflow".
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	// SampleRatio is the fraction of event passes traced. Defaults to 1.
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio" validate:"omitempty,gt=0,lte=1"`
	// MetricInterval is how often metrics are exported (e.g., "1m"). Defaults to "1m".
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"omitempty,duration"`
}

// devKeyHash is the SHA-256 of "dev-api-key".
const devKeyHash = "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274"

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"

	// Provide a default admin key ("dev-api-key") if none configured
	if len(c.Auth.Keys) == 0 {
		c.Auth.Keys = []APIKeyConfig{
			{
				Name:    "dev-admin",
				KeyHash: devKeyHash,
				Roles:   []string{"admin", "ingest"},
			},
		}
	}

	if c.ExecutionLog.File == "" {
		c.ExecutionLog.File = "stdout"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults: bind to localhost only.
	// Users who need network access must explicitly set http_addr: ":8080" or "0.0.0.0:8080".
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.MaxEventBytes == 0 {
		c.Server.MaxEventBytes = 1 << 20
	}
	if c.Server.AdminRateLimit == 0 {
		c.Server.AdminRateLimit = 120
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}

	// Engine defaults
	if c.Engine.Workers == 0 {
		c.Engine.Workers = 4
	}
	if c.Engine.QueueSize == 0 {
		c.Engine.QueueSize = 1000
	}
	if c.Engine.PublishTimeout == "" {
		c.Engine.PublishTimeout = "100ms"
	}
	if !viper.IsSet("engine.max_retries") && c.Engine.MaxRetries == 0 {
		c.Engine.MaxRetries = 5
	}
	if c.Engine.RetryInterval == "" {
		c.Engine.RetryInterval = "200ms"
	}
	if c.Engine.ActionTimeout == "" {
		c.Engine.ActionTimeout = "30s"
	}
	if c.Engine.WebhookTimeout == "" {
		c.Engine.WebhookTimeout = "10s"
	}
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("engine.guard_expressions") {
		c.Engine.GuardExpressions = true
	}
	if !viper.IsSet("harness.allow_live_side_effects") {
		c.Harness.AllowLiveSideEffects = true
	}

	// Execution log defaults
	if c.ExecutionLog.MaxSizeMB == 0 {
		c.ExecutionLog.MaxSizeMB = 100
	}
	if c.ExecutionLog.MaxBackups == 0 {
		c.ExecutionLog.MaxBackups = 7
	}
	if c.ExecutionLog.MaxAgeDays == 0 {
		c.ExecutionLog.MaxAgeDays = 30
	}
	if c.ExecutionLog.BufferSize == 0 {
		c.ExecutionLog.BufferSize = 1000
	}

	// Ingest defaults apply whether or not the source is enabled.
	if c.Ingest.NATS.URL == "" {
		c.Ingest.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.Ingest.NATS.Subject == "" {
		c.Ingest.NATS.Subject = "complyflow.events"
	}
	if c.Ingest.Kafka.Topic == "" {
		c.Ingest.Kafka.Topic = "complyflow.events"
	}
	if c.Ingest.Kafka.GroupID == "" {
		c.Ingest.Kafka.GroupID = "complyflow"
	}
	if c.Ingest.TenantQuota.Rate == 0 {
		c.Ingest.TenantQuota.Rate = 100
	}
	if c.Ingest.TenantQuota.Burst == 0 {
		c.Ingest.TenantQuota.Burst = c.Ingest.TenantQuota.Rate
	}
	if c.Ingest.TenantQuota.Period == "" {
		c.Ingest.TenantQuota.Period = "1s"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "complyflow"
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "1m"
	}
}

// Duration parses a validated duration field, returning fallback for an
// empty or malformed value.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
