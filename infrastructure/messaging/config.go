// Package messaging provides the Kafka/Redpanda producer used by the
// publication pipeline.
package messaging

import (
	"fmt"
	"strings"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

// SecurityProtocol is one of the closed set of transport security modes.
type SecurityProtocol string

const (
	ProtocolPlaintext     SecurityProtocol = "plaintext"
	ProtocolSASLPlaintext SecurityProtocol = "sasl_plaintext"
	ProtocolSASLSSL       SecurityProtocol = "sasl_ssl"
	ProtocolSSL           SecurityProtocol = "ssl"
)

// ParseSecurityProtocol validates a protocol tag.
func ParseSecurityProtocol(s string) (SecurityProtocol, error) {
	switch SecurityProtocol(strings.ToLower(s)) {
	case ProtocolPlaintext, ProtocolSASLPlaintext, ProtocolSASLSSL, ProtocolSSL:
		return SecurityProtocol(strings.ToLower(s)), nil
	}
	return "", errors.InvalidInput("security_protocol", fmt.Sprintf("unknown protocol %q", s))
}

// SASLMechanism is one of the closed set of SASL mechanisms.
type SASLMechanism string

const (
	MechanismScramSHA256 SASLMechanism = "SCRAM-SHA-256"
	MechanismScramSHA512 SASLMechanism = "SCRAM-SHA-512"
	MechanismPlain       SASLMechanism = "PLAIN"
)

// ParseSASLMechanism validates a mechanism tag.
func ParseSASLMechanism(s string) (SASLMechanism, error) {
	switch SASLMechanism(strings.ToUpper(s)) {
	case MechanismScramSHA256, MechanismScramSHA512, MechanismPlain:
		return SASLMechanism(strings.ToUpper(s)), nil
	}
	return "", errors.InvalidInput("sasl_mechanism", fmt.Sprintf("unknown mechanism %q", s))
}

// Config holds broker connection and producer configuration.
type Config struct {
	Brokers []string

	SecurityProtocol SecurityProtocol
	SASLMechanism    SASLMechanism
	SASLUsername     string
	SASLPassword     string

	TLSCALocation   string
	TLSCertLocation string
	TLSKeyLocation  string

	Topic             string
	TopicPartitions   int32
	ReplicationFactor int16

	CompressionType string
	BatchMaxBytes   int32
	Linger          time.Duration
	MaxRetries      int
	ClientID        string
}

// DefaultConfig returns the producer defaults: snappy compression, ~10ms
// linger, bounded retries, three partitions with a replication factor of one.
func DefaultConfig() Config {
	return Config{
		Brokers:           []string{"localhost:9092"},
		SecurityProtocol:  ProtocolPlaintext,
		Topic:             "xzepr.events",
		TopicPartitions:   3,
		ReplicationFactor: 1,
		CompressionType:   "snappy",
		BatchMaxBytes:     1 << 20,
		Linger:            10 * time.Millisecond,
		MaxRetries:        5,
		ClientID:          "xzepr",
	}
}

// Validate checks the configuration eagerly so misconfiguration surfaces at
// startup, not at first publish.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.MissingParameter("kafka.brokers")
	}
	if c.Topic == "" {
		return errors.MissingParameter("kafka.topic")
	}
	if _, err := ParseSecurityProtocol(string(c.SecurityProtocol)); err != nil {
		return err
	}

	saslRequired := c.SecurityProtocol == ProtocolSASLPlaintext || c.SecurityProtocol == ProtocolSASLSSL
	if saslRequired {
		if c.SASLMechanism == "" {
			return errors.MissingParameter("kafka.auth.sasl.mechanism")
		}
		if _, err := ParseSASLMechanism(string(c.SASLMechanism)); err != nil {
			return err
		}
		if c.SASLUsername == "" {
			return errors.MissingParameter("kafka.auth.sasl.username")
		}
		if c.SASLPassword == "" {
			return errors.MissingParameter("kafka.auth.sasl.password")
		}
	} else if c.SASLMechanism != "" {
		if c.SASLUsername == "" {
			return errors.MissingParameter("kafka.auth.sasl.username")
		}
	}

	tlsRequired := c.SecurityProtocol == ProtocolSASLSSL || c.SecurityProtocol == ProtocolSSL
	if tlsRequired && c.TLSCALocation == "" {
		return errors.MissingParameter("kafka.auth.ssl.ca_location")
	}
	if (c.TLSCertLocation == "") != (c.TLSKeyLocation == "") {
		return errors.InvalidInput("kafka.auth.ssl", "certificate and key must be configured together")
	}

	return nil
}

// String renders the configuration for diagnostics with credentials redacted.
func (c Config) String() string {
	password := ""
	if c.SASLPassword != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("brokers=%s protocol=%s mechanism=%s username=%s password=%s topic=%s",
		strings.Join(c.Brokers, ","), c.SecurityProtocol, c.SASLMechanism,
		c.SASLUsername, password, c.Topic)
}
