// Package main provides the XZEPR ingestion server entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/xbcsmith/xzepr/applications/httpapi"
	"github.com/xbcsmith/xzepr/infrastructure/audit"
	"github.com/xbcsmith/xzepr/infrastructure/authz"
	"github.com/xbcsmith/xzepr/infrastructure/database"
	"github.com/xbcsmith/xzepr/infrastructure/logging"
	"github.com/xbcsmith/xzepr/infrastructure/messaging"
	"github.com/xbcsmith/xzepr/infrastructure/metrics"
	"github.com/xbcsmith/xzepr/infrastructure/middleware"
	"github.com/xbcsmith/xzepr/internal/app/auth"
	"github.com/xbcsmith/xzepr/internal/app/ingest"
	"github.com/xbcsmith/xzepr/internal/app/storage/postgres"
	"github.com/xbcsmith/xzepr/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "xzepr: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New("xzepr", cfg.Monitoring.LogLevel, cfg.Monitoring.LogFormat)
	m := metrics.Init("xzepr")
	auditor := audit.NewLogger(log, "xzepr", string(cfg.Env))

	// Database
	db, err := database.Open(database.Config{
		URL:             cfg.Database.URL,
		MaxConnections:  cfg.Database.MaxConnections,
		MinConnections:  cfg.Database.MinConnections,
		ConnTimeout:     cfg.Database.ConnTimeout,
		IdleTimeout:     cfg.Database.IdleTimeout,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.Database.MigrationsURL); err != nil {
		return err
	}
	store := postgres.New(db)

	// Messaging
	broker, err := messaging.NewClient(messaging.Config{
		Brokers:           cfg.Kafka.Brokers,
		SecurityProtocol:  messaging.SecurityProtocol(cfg.Kafka.SecurityProtocol),
		SASLMechanism:     messaging.SASLMechanism(cfg.Kafka.SASLMechanism),
		SASLUsername:      cfg.Kafka.SASLUsername,
		SASLPassword:      cfg.Kafka.SASLPassword,
		TLSCALocation:     cfg.Kafka.SSLCALocation,
		TLSCertLocation:   cfg.Kafka.SSLCertLocation,
		TLSKeyLocation:    cfg.Kafka.SSLKeyLocation,
		Topic:             cfg.Kafka.Topic,
		TopicPartitions:   int32(cfg.Kafka.Partitions),
		ReplicationFactor: int16(cfg.Kafka.ReplicationFactor),
		CompressionType:   cfg.Kafka.CompressionType,
		BatchMaxBytes:     int32(cfg.Kafka.BatchSize),
		Linger:            cfg.Kafka.Linger,
		MaxRetries:        5,
		ClientID:          "xzepr",
	}, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	// Authorization
	authorizer := authz.New(authz.Config{
		EvaluatorURL:     cfg.OPA.URL,
		EvaluatorTimeout: cfg.OPA.Timeout,
		CacheTTL:         cfg.OPA.CacheTTL,
		BreakerFailures:  cfg.OPA.BreakerFailures,
		BreakerCooloff:   cfg.OPA.BreakerCooloff,
	}, m, auditor, log)

	// Tokens
	tokens, err := auth.NewManager(auth.Config{
		Algorithm:      cfg.JWT.Algorithm,
		SecretKey:      cfg.JWT.SecretKey,
		PrivateKeyPath: cfg.JWT.PrivateKeyPath,
		PublicKeyPath:  cfg.JWT.PublicKeyPath,
		Issuer:         cfg.JWT.Issuer,
		Audience:       cfg.JWT.Audience,
		AccessTTL:      cfg.JWT.AccessTTL,
		RefreshTTL:     cfg.JWT.RefreshTTL,
		EnableRotation: cfg.JWT.EnableRotation,
		Leeway:         cfg.JWT.Leeway,
	})
	if err != nil {
		return err
	}
	stopSweep := tokens.Blacklist().StartSweep(time.Minute)
	defer stopSweep()

	// Rate limiting
	var limitStore middleware.RateLimitStore
	if cfg.RateLimit.UseRedis {
		redisOpts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		limitStore = middleware.NewRedisStore(redis.NewClient(redisOpts))
	} else {
		memStore := middleware.NewMemoryStore()
		stopCleanup := memStore.StartCleanup(time.Minute)
		defer stopCleanup()
		limitStore = memStore
	}

	rateLimit := middleware.DefaultRateLimitConfig()
	rateLimit.AnonymousRPM = cfg.RateLimit.AnonymousRPM
	rateLimit.AuthenticatedRPM = cfg.RateLimit.AuthenticatedRPM
	rateLimit.AdminRPM = cfg.RateLimit.AdminRPM
	for endpoint, limit := range cfg.RateLimit.PerEndpoint {
		rateLimit.PerEndpoint[endpoint] = limit
	}

	service := ingest.NewService(store, authorizer, broker, m, auditor, log)

	server := httpapi.New(httpapi.Options{
		Addr:       fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Ingest:     service,
		Tokens:     tokens,
		Users:      store,
		Authorizer: authorizer,
		Metrics:    m,
		Auditor:    auditor,
		Logger:     log,

		RateLimit:      rateLimit,
		RateLimitStore: limitStore,
		CORS: &middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAgeSeconds:    cfg.CORS.MaxAgeSeconds,
		},
		RequestTimeout: 30 * time.Second,
		MetricsEnabled: cfg.Monitoring.MetricsEnabled,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.WithFields(map[string]interface{}{"signal": sig.String()}).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
