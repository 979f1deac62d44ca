// Package config provides environment-aware configuration management.
// Values are resolved from three layers, lowest precedence first: built-in
// defaults, the environment-specific file config/<env>.env, and process
// environment variables named XZEPR__SECTION__KEY.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all application configuration
type Config struct {
	Env Environment

	Server struct {
		Host        string
		Port        int
		EnableHTTPS bool
	}

	Database struct {
		URL             string
		MaxConnections  int
		MinConnections  int
		ConnTimeout     time.Duration
		IdleTimeout     time.Duration
		MaxConnLifetime time.Duration
		MigrationsURL   string
	}

	JWT struct {
		Algorithm      string
		SecretKey      string
		PrivateKeyPath string
		PublicKeyPath  string
		Issuer         string
		Audience       string
		AccessTTL      time.Duration
		RefreshTTL     time.Duration
		EnableRotation bool
		Leeway         time.Duration
	}

	Kafka struct {
		Brokers           []string
		Topic             string
		Partitions        int
		ReplicationFactor int
		CompressionType   string
		BatchSize         int
		Linger            time.Duration
		SecurityProtocol  string
		SASLMechanism     string
		SASLUsername      string
		SASLPassword      string
		SSLCALocation     string
		SSLCertLocation   string
		SSLKeyLocation    string
	}

	OPA struct {
		Enabled         bool
		URL             string
		Timeout         time.Duration
		PolicyPath      string
		CacheTTL        time.Duration
		BundleURL       string
		BreakerFailures int
		BreakerCooloff  time.Duration
	}

	RateLimit struct {
		AnonymousRPM     int
		AuthenticatedRPM int
		AdminRPM         int
		PerEndpoint      map[string]int
		UseRedis         bool
		RedisURL         string
	}

	CORS struct {
		AllowedOrigins   []string
		AllowCredentials bool
		MaxAgeSeconds    int
	}

	Monitoring struct {
		MetricsEnabled bool
		LogLevel       string
		LogFormat      string
	}
}

// Load reads configuration for the environment named by XZEPR_ENV.
func Load() (*Config, error) {
	envStr := os.Getenv("XZEPR_ENV")
	if envStr == "" {
		envStr = string(Development)
	}

	env := Environment(envStr)
	switch env {
	case Development, Testing, Production:
	default:
		return nil, fmt.Errorf("invalid XZEPR_ENV: %s (must be development, testing, or production)", envStr)
	}

	// Environment-specific file is optional; process env always wins because
	// godotenv never overrides variables that are already set.
	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: could not load %s: %v\n", configFile, err)
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	var err error

	// server
	c.Server.Host = getEnv("XZEPR__SERVER__HOST", "0.0.0.0")
	c.Server.Port = getIntEnv("XZEPR__SERVER__PORT", 8042)
	c.Server.EnableHTTPS = getBoolEnv("XZEPR__SERVER__ENABLE_HTTPS", false)

	// database
	c.Database.URL = getEnv("XZEPR__DATABASE__URL", "")
	c.Database.MaxConnections = getIntEnv("XZEPR__DATABASE__MAX_CONNECTIONS", 20)
	c.Database.MinConnections = getIntEnv("XZEPR__DATABASE__MIN_CONNECTIONS", 2)
	if c.Database.ConnTimeout, err = getDurationEnv("XZEPR__DATABASE__CONNECTION_TIMEOUT_SECONDS", 10*time.Second); err != nil {
		return err
	}
	if c.Database.IdleTimeout, err = getDurationEnv("XZEPR__DATABASE__IDLE_TIMEOUT_SECONDS", 5*time.Minute); err != nil {
		return err
	}
	if c.Database.MaxConnLifetime, err = getDurationEnv("XZEPR__DATABASE__MAX_LIFETIME_SECONDS", 30*time.Minute); err != nil {
		return err
	}
	c.Database.MigrationsURL = getEnv("XZEPR__DATABASE__MIGRATIONS_URL", "file://db/migrations")

	// auth.jwt
	c.JWT.Algorithm = getEnv("XZEPR__AUTH__JWT__ALGORITHM", "HS256")
	c.JWT.SecretKey = getEnv("XZEPR__AUTH__JWT__SECRET_KEY", "")
	c.JWT.PrivateKeyPath = getEnv("XZEPR__AUTH__JWT__PRIVATE_KEY_PATH", "")
	c.JWT.PublicKeyPath = getEnv("XZEPR__AUTH__JWT__PUBLIC_KEY_PATH", "")
	c.JWT.Issuer = getEnv("XZEPR__AUTH__JWT__ISSUER", "xzepr")
	c.JWT.Audience = getEnv("XZEPR__AUTH__JWT__AUDIENCE", "xzepr")
	if c.JWT.AccessTTL, err = getDurationEnv("XZEPR__AUTH__JWT__ACCESS_TOKEN_EXPIRATION_SECONDS", 15*time.Minute); err != nil {
		return err
	}
	if c.JWT.RefreshTTL, err = getDurationEnv("XZEPR__AUTH__JWT__REFRESH_TOKEN_EXPIRATION_SECONDS", 7*24*time.Hour); err != nil {
		return err
	}
	c.JWT.EnableRotation = getBoolEnv("XZEPR__AUTH__JWT__ENABLE_TOKEN_ROTATION", true)
	if c.JWT.Leeway, err = getDurationEnv("XZEPR__AUTH__JWT__LEEWAY_SECONDS", 30*time.Second); err != nil {
		return err
	}

	// kafka
	c.Kafka.Brokers = splitList(getEnv("XZEPR__KAFKA__BROKERS", "localhost:9092"))
	c.Kafka.Topic = getEnv("XZEPR__KAFKA__TOPIC", getEnv("XZEPR__KAFKA__DEFAULT_TOPIC", "xzepr.events"))
	c.Kafka.Partitions = getIntEnv("XZEPR__KAFKA__DEFAULT_TOPIC_PARTITIONS", 3)
	c.Kafka.ReplicationFactor = getIntEnv("XZEPR__KAFKA__DEFAULT_TOPIC_REPLICATION_FACTOR", 1)
	c.Kafka.CompressionType = getEnv("XZEPR__KAFKA__COMPRESSION_TYPE", "snappy")
	c.Kafka.BatchSize = getIntEnv("XZEPR__KAFKA__BATCH_SIZE", 1<<20)
	c.Kafka.Linger = time.Duration(getIntEnv("XZEPR__KAFKA__LINGER_MS", 10)) * time.Millisecond
	c.Kafka.SecurityProtocol = getEnv("XZEPR__KAFKA__AUTH__SECURITY_PROTOCOL", "plaintext")
	c.Kafka.SASLMechanism = getEnv("XZEPR__KAFKA__AUTH__SASL__MECHANISM", "")
	c.Kafka.SASLUsername = getEnv("XZEPR__KAFKA__AUTH__SASL__USERNAME", "")
	c.Kafka.SASLPassword = getEnv("XZEPR__KAFKA__AUTH__SASL__PASSWORD", "")
	c.Kafka.SSLCALocation = getEnv("XZEPR__KAFKA__AUTH__SSL__CA_LOCATION", "")
	c.Kafka.SSLCertLocation = getEnv("XZEPR__KAFKA__AUTH__SSL__CERTIFICATE_LOCATION", "")
	c.Kafka.SSLKeyLocation = getEnv("XZEPR__KAFKA__AUTH__SSL__KEY_LOCATION", "")

	// opa
	c.OPA.Enabled = getBoolEnv("XZEPR__OPA__ENABLED", true)
	c.OPA.URL = getEnv("XZEPR__OPA__URL", "http://localhost:8181/v1/data/xzepr/authz")
	if c.OPA.Timeout, err = getDurationEnv("XZEPR__OPA__TIMEOUT_SECONDS", 5*time.Second); err != nil {
		return err
	}
	c.OPA.PolicyPath = getEnv("XZEPR__OPA__POLICY_PATH", "xzepr/authz")
	if c.OPA.CacheTTL, err = getDurationEnv("XZEPR__OPA__CACHE_TTL_SECONDS", 5*time.Minute); err != nil {
		return err
	}
	c.OPA.BundleURL = getEnv("XZEPR__OPA__BUNDLE_URL", "")
	c.OPA.BreakerFailures = getIntEnv("XZEPR__OPA__BREAKER_FAILURES", 5)
	if c.OPA.BreakerCooloff, err = getDurationEnv("XZEPR__OPA__BREAKER_COOLOFF_SECONDS", 30*time.Second); err != nil {
		return err
	}

	// security.rate_limit
	c.RateLimit.AnonymousRPM = getIntEnv("XZEPR__SECURITY__RATE_LIMIT__ANONYMOUS_RPM", 10)
	c.RateLimit.AuthenticatedRPM = getIntEnv("XZEPR__SECURITY__RATE_LIMIT__AUTHENTICATED_RPM", 100)
	c.RateLimit.AdminRPM = getIntEnv("XZEPR__SECURITY__RATE_LIMIT__ADMIN_RPM", 1000)
	c.RateLimit.PerEndpoint = parseEndpointLimits(getEnv("XZEPR__SECURITY__RATE_LIMIT__PER_ENDPOINT", ""))
	c.RateLimit.UseRedis = getBoolEnv("XZEPR__SECURITY__RATE_LIMIT__USE_REDIS", false)
	c.RateLimit.RedisURL = getEnv("XZEPR__SECURITY__RATE_LIMIT__REDIS_URL", "redis://localhost:6379/0")

	// security.cors
	c.CORS.AllowedOrigins = splitList(getEnv("XZEPR__SECURITY__CORS__ALLOWED_ORIGINS", "*"))
	c.CORS.AllowCredentials = getBoolEnv("XZEPR__SECURITY__CORS__ALLOW_CREDENTIALS", false)
	c.CORS.MaxAgeSeconds = getIntEnv("XZEPR__SECURITY__CORS__MAX_AGE_SECONDS", 3600)

	// monitoring
	c.Monitoring.MetricsEnabled = getBoolEnv("XZEPR__MONITORING__METRICS_ENABLED", true)
	c.Monitoring.LogLevel = getEnv("XZEPR__MONITORING__LOG_LEVEL", getEnv("LOG_LEVEL", "info"))
	c.Monitoring.LogFormat = getEnv("XZEPR__MONITORING__LOG_FORMAT", getEnv("LOG_FORMAT", "json"))

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsTesting returns true if running in testing environment
func (c *Config) IsTesting() bool { return c.Env == Testing }

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("XZEPR__DATABASE__URL is required")
	}
	if c.IsProduction() {
		if c.JWT.Algorithm == "HS256" && len(c.JWT.SecretKey) < 32 {
			return fmt.Errorf("XZEPR__AUTH__JWT__SECRET_KEY must be at least 32 bytes in production")
		}
		if c.Kafka.SecurityProtocol == "plaintext" {
			return fmt.Errorf("plaintext broker connections are not allowed in production")
		}
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDurationEnv reads a *_SECONDS key as an integer number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(seconds) * time.Second, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseEndpointLimits parses "POST /api/v1/auth/login=5,POST /api/v1/users=3".
func parseEndpointLimits(raw string) map[string]int {
	limits := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		if limit, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && limit > 0 {
			limits[strings.TrimSpace(key)] = limit
		}
	}
	return limits
}
