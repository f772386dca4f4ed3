package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/observability"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/store"
)

// Config holds all connector configuration
type Config struct {
	// Remote tenant configuration
	Okta OktaConfig

	// CSV source configuration
	Source SourceConfig

	// Reconciliation engine configuration
	Engine EngineConfig

	// State store configuration
	Store store.Config

	// Response cache configuration
	Cache remote.CacheConfig

	// Poll loop configuration
	Poll PollConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// OktaConfig holds tenant and credential settings
type OktaConfig struct {
	OrgURL       string
	Issuer       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// SourceConfig holds CSV source settings
type SourceConfig struct {
	Type string // "file", "s3"

	// File source
	Path      string
	Dir       string
	Delimiter string

	// S3 source
	S3Region string
	S3Bucket string
	S3Prefix string

	// File watcher
	WatchEnabled  bool
	WatchDebounce time.Duration
}

// EngineConfig holds reconciliation and mining settings
type EngineConfig struct {
	ApplicationName   string
	ApplicationLabel  string
	EntitlementPrefix string
	IdentityColumns   []string
	DictionaryPath    string

	RoleThreshold int
	CreateBundles bool

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	PauseEvery        int
	PauseDelay        time.Duration
}

// PollConfig holds poll loop settings
type PollConfig struct {
	Enabled    bool
	Schedule   string
	Interval   time.Duration
	RunOnStart bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool
	MetricsPort    string

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Okta:          loadOktaConfig(),
		Source:        loadSourceConfig(),
		Engine:        loadEngineConfig(),
		Store:         loadStoreConfig(),
		Cache:         loadCacheConfig(),
		Poll:          loadPollConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadOktaConfig loads tenant configuration from environment
func loadOktaConfig() OktaConfig {
	cfg := OktaConfig{
		OrgURL:       getEnv("CONNECTOR_ORG_URL", ""),
		Issuer:       getEnv("CONNECTOR_ISSUER", ""),
		TokenURL:     getEnv("CONNECTOR_TOKEN_URL", ""),
		ClientID:     getEnv("CONNECTOR_CLIENT_ID", ""),
		ClientSecret: getEnv("CONNECTOR_CLIENT_SECRET", ""),
		Timeout:      getEnvDuration("CONNECTOR_HTTP_TIMEOUT", 30*time.Second),
	}
	if scopes := getEnv("CONNECTOR_SCOPES", ""); scopes != "" {
		cfg.Scopes = splitList(scopes)
	} else {
		cfg.Scopes = []string{"okta.apps.manage", "okta.users.manage", "okta.governance.manage"}
	}
	return cfg
}

// loadSourceConfig loads CSV source configuration from environment
func loadSourceConfig() SourceConfig {
	return SourceConfig{
		Type:          getEnv("CONNECTOR_SOURCE_TYPE", "file"),
		Path:          getEnv("CONNECTOR_SOURCE_PATH", ""),
		Dir:           getEnv("CONNECTOR_SOURCE_DIR", ""),
		Delimiter:     getEnv("CONNECTOR_SOURCE_DELIMITER", ","),
		S3Region:      getEnv("CONNECTOR_S3_REGION", ""),
		S3Bucket:      getEnv("CONNECTOR_S3_BUCKET", ""),
		S3Prefix:      getEnv("CONNECTOR_S3_PREFIX", ""),
		WatchEnabled:  getEnvBool("CONNECTOR_WATCH_ENABLED", false),
		WatchDebounce: getEnvDuration("CONNECTOR_WATCH_DEBOUNCE", 2*time.Second),
	}
}

// loadEngineConfig loads reconciliation configuration from environment
func loadEngineConfig() EngineConfig {
	cfg := EngineConfig{
		ApplicationName:   getEnv("CONNECTOR_APP_NAME", ""),
		ApplicationLabel:  getEnv("CONNECTOR_APP_LABEL", ""),
		EntitlementPrefix: getEnv("CONNECTOR_ENTITLEMENT_PREFIX", "ent_"),
		DictionaryPath:    getEnv("CONNECTOR_DICTIONARY_PATH", ""),
		RoleThreshold:     getEnvInt("CONNECTOR_ROLE_THRESHOLD", 2),
		CreateBundles:     getEnvBool("CONNECTOR_CREATE_BUNDLES", false),
		RetryMaxAttempts:  getEnvInt("CONNECTOR_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay: getEnvDuration("CONNECTOR_RETRY_INITIAL_DELAY", 2*time.Second),
		PauseEvery:        getEnvInt("CONNECTOR_PAUSE_EVERY", 10),
		PauseDelay:        getEnvDuration("CONNECTOR_PAUSE_DELAY", time.Second),
	}
	if columns := getEnv("CONNECTOR_IDENTITY_COLUMNS", ""); columns != "" {
		cfg.IdentityColumns = splitList(columns)
	}
	return cfg
}

// loadStoreConfig loads state store configuration from environment
func loadStoreConfig() store.Config {
	cfg := store.DefaultConfig()

	if storeType := getEnv("CONNECTOR_STORE_TYPE", ""); storeType != "" {
		cfg.Type = storeType
	}
	if sqlitePath := getEnv("CONNECTOR_SQLITE_PATH", ""); sqlitePath != "" {
		cfg.SQLitePath = sqlitePath
	}
	if pgURL := getEnv("CONNECTOR_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("CONNECTOR_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if timeout := getEnvDuration("CONNECTOR_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	return cfg
}

// loadCacheConfig loads response cache configuration from environment
func loadCacheConfig() remote.CacheConfig {
	cfg := remote.DefaultCacheConfig()

	if enabled := getEnv("CONNECTOR_CACHE_ENABLED", ""); enabled != "" {
		cfg.Enabled = strings.ToLower(enabled) == "true" || enabled == "1"
	}
	if size := getEnvInt("CONNECTOR_CACHE_SIZE", 0); size > 0 {
		cfg.Size = size
	}
	if ttl := getEnvDuration("CONNECTOR_CACHE_TTL", 0); ttl > 0 {
		cfg.TTL = ttl
	}
	if tti := getEnvDuration("CONNECTOR_CACHE_TTI", 0); tti > 0 {
		cfg.TTI = tti
	}
	if redisURL := getEnv("CONNECTOR_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("CONNECTOR_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("CONNECTOR_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}

	return cfg
}

// loadPollConfig loads poll loop configuration from environment
func loadPollConfig() PollConfig {
	return PollConfig{
		Enabled:    getEnvBool("CONNECTOR_POLL_ENABLED", false),
		Schedule:   getEnv("CONNECTOR_POLL_SCHEDULE", ""),
		Interval:   getEnvDuration("CONNECTOR_POLL_INTERVAL", 15*time.Minute),
		RunOnStart: getEnvBool("CONNECTOR_POLL_RUN_ON_START", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("CONNECTOR_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CONNECTOR_METRICS_ENABLED", true),
		MetricsPort:        getEnv("CONNECTOR_METRICS_PORT", "9090"),
		OTelEnabled:        getEnvBool("CONNECTOR_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CONNECTOR_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CONNECTOR_OTEL_SERVICE_NAME", "disconnected-app-connector"),
		OTelServiceVersion: getEnv("CONNECTOR_OTEL_SERVICE_VERSION", "1.0.0"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Okta.OrgURL == "" {
		return fmt.Errorf("org URL is required")
	}
	if c.Okta.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.Okta.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	if c.Okta.Issuer == "" && c.Okta.TokenURL == "" {
		return fmt.Errorf("either issuer or token URL is required")
	}

	if c.Engine.ApplicationName == "" {
		return fmt.Errorf("application name is required")
	}
	if c.Engine.EntitlementPrefix == "" {
		return fmt.Errorf("entitlement prefix is required")
	}
	if c.Engine.RoleThreshold < 1 {
		return fmt.Errorf("role threshold must be at least 1")
	}

	switch c.Source.Type {
	case "file":
		if c.Source.Path == "" && c.Source.Dir == "" {
			return fmt.Errorf("source path or directory is required for file source")
		}
	case "s3":
		if c.Source.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 source")
		}
	default:
		return fmt.Errorf("invalid source type: %s (must be file or s3)", c.Source.Type)
	}
	if len(c.Source.Delimiter) != 1 {
		return fmt.Errorf("source delimiter must be a single character")
	}

	switch c.Store.Type {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite store")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be sqlite or postgres)", c.Store.Type)
	}

	if c.Poll.Enabled && c.Poll.Schedule == "" && c.Poll.Interval <= 0 && !c.Source.WatchEnabled {
		return fmt.Errorf("poll mode requires a schedule, an interval or the file watcher")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// TokenConfig adapts the tenant settings to the credential cache.
func (c *Config) TokenConfig() remote.TokenConfig {
	return remote.TokenConfig{
		Issuer:       c.Okta.Issuer,
		TokenURL:     c.Okta.TokenURL,
		ClientID:     c.Okta.ClientID,
		ClientSecret: c.Okta.ClientSecret,
		Scopes:       c.Okta.Scopes,
	}
}

// splitList splits a comma-separated environment value
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
