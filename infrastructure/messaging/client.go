package messaging

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	stderrors "errors"
	"os"
	"sync"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/infrastructure/logging"
)

// Publisher is the narrow contract the publication pipeline needs; tests use
// a capturing fake.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	DefaultTopic() string
}

// Client wraps the Kafka/Redpanda connection. The producer is idempotent;
// topics are ensured to exist before the first record is written to them.
type Client struct {
	client *kgo.Client
	admin  *kadm.Client
	config Config
	log    *logging.Logger

	mu     sync.Mutex
	topics map[string]bool
}

var _ Publisher = (*Client)(nil)

// NewClient validates the configuration and connects.
func NewClient(cfg Config, log *logging.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),

		// Producer settings. Idempotency is on unless explicitly disabled;
		// acks=all is required for it.
		kgo.ProducerBatchMaxBytes(cfg.BatchMaxBytes),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(parseCompression(cfg.CompressionType)),
		kgo.RecordRetries(cfg.MaxRetries),
	}

	if mechanism := saslMechanism(cfg); mechanism != nil {
		opts = append(opts, kgo.SASL(mechanism))
	}

	if cfg.SecurityProtocol == ProtocolSASLSSL || cfg.SecurityProtocol == ProtocolSSL {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.DialTLSConfig(tlsConfig))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.MessagingError("connect", err)
	}

	log.WithFields(map[string]interface{}{"config": cfg.String()}).Info("messaging client connected")

	return &Client{
		client: client,
		admin:  kadm.NewClient(client),
		config: cfg,
		log:    log,
		topics: make(map[string]bool),
	}, nil
}

func saslMechanism(cfg Config) sasl.Mechanism {
	if cfg.SASLUsername == "" {
		return nil
	}
	switch cfg.SASLMechanism {
	case MechanismScramSHA512:
		return scram.Auth{User: cfg.SASLUsername, Pass: cfg.SASLPassword}.AsSha512Mechanism()
	case MechanismPlain:
		return plain.Auth{User: cfg.SASLUsername, Pass: cfg.SASLPassword}.AsMechanism()
	default:
		return scram.Auth{User: cfg.SASLUsername, Pass: cfg.SASLPassword}.AsSha256Mechanism()
	}
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCALocation != "" {
		pem, err := os.ReadFile(cfg.TLSCALocation)
		if err != nil {
			return nil, errors.MessagingError("read ca certificate", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.InvalidInput("kafka.auth.ssl.ca_location", "no certificates found")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.TLSCertLocation != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertLocation, cfg.TLSKeyLocation)
		if err != nil {
			return nil, errors.MessagingError("load client certificate", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func parseCompression(name string) kgo.CompressionCodec {
	switch name {
	case "gzip":
		return kgo.GzipCompression()
	case "lz4":
		return kgo.Lz4Compression()
	case "zstd":
		return kgo.ZstdCompression()
	case "none":
		return kgo.NoCompression()
	default:
		return kgo.SnappyCompression()
	}
}

// DefaultTopic returns the configured default topic.
func (c *Client) DefaultTopic() string {
	return c.config.Topic
}

// EnsureTopic creates the topic if it does not exist. Creation happens once
// per topic per process; a failed create is an error for this publication.
func (c *Client) EnsureTopic(ctx context.Context, topic string) error {
	c.mu.Lock()
	known := c.topics[topic]
	c.mu.Unlock()
	if known {
		return nil
	}

	responses, err := c.admin.CreateTopics(ctx, c.config.TopicPartitions, c.config.ReplicationFactor, nil, topic)
	if err != nil {
		return errors.MessagingError("create topic", err)
	}
	for _, resp := range responses {
		if resp.Err != nil && !stderrors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return errors.MessagingError("create topic", resp.Err)
		}
	}

	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()
	return nil
}

// Publish writes one record synchronously. The record key carries the event
// identifier so log compaction and partitioning follow it.
func (c *Client) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := c.EnsureTopic(ctx, topic); err != nil {
		return err
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}

	if err := c.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return errors.MessagingError("produce", err)
	}
	return nil
}

// Close flushes and releases the connection.
func (c *Client) Close() {
	c.client.Close()
}
