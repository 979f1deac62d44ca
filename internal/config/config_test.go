package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XZEPR_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Development, cfg.Env)
	assert.Equal(t, 8042, cfg.Server.Port)
	assert.Equal(t, "xzepr.events", cfg.Kafka.Topic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10*time.Millisecond, cfg.Kafka.Linger)
	assert.Equal(t, 5*time.Minute, cfg.OPA.CacheTTL)
	assert.Equal(t, 5, cfg.OPA.BreakerFailures)
	assert.Equal(t, 30*time.Second, cfg.OPA.BreakerCooloff)
	assert.Equal(t, 10, cfg.RateLimit.AnonymousRPM)
	assert.Equal(t, 100, cfg.RateLimit.AuthenticatedRPM)
	assert.Equal(t, 1000, cfg.RateLimit.AdminRPM)
	assert.True(t, cfg.JWT.EnableRotation)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("XZEPR_ENV", "testing")
	t.Setenv("XZEPR__SERVER__PORT", "9999")
	t.Setenv("XZEPR__KAFKA__BROKERS", "b1:9092, b2:9092")
	t.Setenv("XZEPR__KAFKA__TOPIC", "xzepr.dev.events")
	t.Setenv("XZEPR__OPA__CACHE_TTL_SECONDS", "60")
	t.Setenv("XZEPR__SECURITY__RATE_LIMIT__ANONYMOUS_RPM", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Testing, cfg.Env)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "xzepr.dev.events", cfg.Kafka.Topic)
	assert.Equal(t, time.Minute, cfg.OPA.CacheTTL)
	assert.Equal(t, 3, cfg.RateLimit.AnonymousRPM)
}

func TestInvalidEnvironmentRejected(t *testing.T) {
	t.Setenv("XZEPR_ENV", "staging")
	_, err := Load()
	assert.Error(t, err)
}

func TestInvalidDurationRejected(t *testing.T) {
	t.Setenv("XZEPR_ENV", "development")
	t.Setenv("XZEPR__OPA__TIMEOUT_SECONDS", "five")
	_, err := Load()
	assert.Error(t, err)
}

func TestParseEndpointLimits(t *testing.T) {
	limits := parseEndpointLimits("POST /api/v1/auth/login=5, POST /api/v1/users=3,bogus,zero=0")

	assert.Equal(t, map[string]int{
		"POST /api/v1/auth/login": 5,
		"POST /api/v1/users":      3,
	}, limits)
}

func TestValidateProduction(t *testing.T) {
	t.Setenv("XZEPR_ENV", "production")
	t.Setenv("XZEPR__DATABASE__URL", "postgres://localhost/xzepr")
	t.Setenv("XZEPR__AUTH__JWT__SECRET_KEY", "short")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	t.Setenv("XZEPR__AUTH__JWT__SECRET_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("XZEPR__KAFKA__AUTH__SECURITY_PROTOCOL", "sasl_ssl")
	cfg, err = Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("XZEPR_ENV", "development")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}
