package messaging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

func validSASLConfig() Config {
	cfg := DefaultConfig()
	cfg.SecurityProtocol = ProtocolSASLSSL
	cfg.SASLMechanism = MechanismScramSHA512
	cfg.SASLUsername = "svc-xzepr"
	cfg.SASLPassword = "hunter2"
	cfg.TLSCALocation = "/etc/xzepr/ca.pem"
	return cfg
}

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidateSASLRequirements(t *testing.T) {
	cfg := validSASLConfig()
	require.NoError(t, cfg.Validate())

	missing := validSASLConfig()
	missing.SASLUsername = ""
	err := missing.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindBadRequest))

	missing = validSASLConfig()
	missing.SASLPassword = ""
	assert.Error(t, missing.Validate())

	missing = validSASLConfig()
	missing.SASLMechanism = ""
	assert.Error(t, missing.Validate())
}

func TestValidateTLSRequirements(t *testing.T) {
	cfg := validSASLConfig()
	cfg.TLSCALocation = ""
	assert.Error(t, cfg.Validate())

	cfg = validSASLConfig()
	cfg.TLSCertLocation = "/etc/xzepr/client.pem"
	assert.Error(t, cfg.Validate()) // key missing

	cfg.TLSKeyLocation = "/etc/xzepr/client-key.pem"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownEnums(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityProtocol = "quantum"
	assert.Error(t, cfg.Validate())

	_, err := ParseSASLMechanism("SCRAM-SHA-1024")
	assert.Error(t, err)

	mechanism, err := ParseSASLMechanism("scram-sha-256")
	require.NoError(t, err)
	assert.Equal(t, MechanismScramSHA256, mechanism)

	protocol, err := ParseSecurityProtocol("SASL_SSL")
	require.NoError(t, err)
	assert.Equal(t, ProtocolSASLSSL, protocol)
}

func TestValidateRequiresBrokersAndTopic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Brokers = nil
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Topic = ""
	assert.Error(t, cfg.Validate())
}

func TestStringRedactsCredentials(t *testing.T) {
	cfg := validSASLConfig()
	rendered := cfg.String()

	assert.NotContains(t, rendered, "hunter2")
	assert.Contains(t, rendered, "[REDACTED]")
	assert.Contains(t, rendered, "svc-xzepr")

	// No password configured: nothing to redact.
	plain := DefaultConfig()
	assert.False(t, strings.Contains(plain.String(), "REDACTED"))
}
