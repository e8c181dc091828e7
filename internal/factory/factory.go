package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/metrics"
	"otp-auth-service/internal/service"
	"otp-auth-service/internal/signing"
	"otp-auth-service/internal/tls"
	"otp-auth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient   *client.RedisClient
	kafkaProducer *client.KafkaProducer
	profileClient *client.ProfileClient

	// Crypto collaborators
	signingContext *signing.Context
	serverSecret   *encryption.ServerSecret

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	metrics.Init()

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeCrypto(); err != nil {
		return nil, fmt.Errorf("failed to initialize crypto: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Redis is the only hard dependency; everything durable lives there.
	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	// Kafka is best-effort: security events degrade to log entries.
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	f.profileClient = client.NewProfileClient(f.config)

	return nil
}

// initializeCrypto builds the signing context and the server-secret
// encryption used for API-key storage.
func (f *Factory) initializeCrypto() error {
	opts := []signing.Option{
		signing.WithIssuer(f.config.Auth.Issuer),
	}
	if f.config.Auth.RSAPrivateKeyPEM != "" {
		opts = append(opts, signing.WithRSAKeysPEM(f.config.Auth.RSAPrivateKeyPEM))
	}
	if f.config.Auth.LegacyHS256Secret != "" {
		opts = append(opts, signing.WithLegacySecret(f.config.Auth.LegacyHS256Secret))
	}

	signer, err := signing.NewContext(opts...)
	if err != nil {
		return fmt.Errorf("signing context: %w", err)
	}
	f.signingContext = signer

	kmsClient, err := client.NewKMSClient(f.config)
	if err != nil {
		if f.config.IsProduction() {
			return fmt.Errorf("kms: %w", err)
		}
		util.Warn("KMS client initialization failed - falling back to local server secret", util.ErrorField(err))
		kmsClient = nil
	}

	secrets, err := encryption.NewServerSecret(encryption.ServerSecretConfig{
		KMSEnabled:  f.config.KMS.Enabled,
		KMSKeyID:    f.config.KMS.KeyID,
		LocalSecret: f.config.Auth.ServerSecret,
	}, kmsClient)
	if err != nil {
		return fmt.Errorf("server secret: %w", err)
	}
	f.serverSecret = secrets

	util.Info("Crypto collaborators initialized",
		util.String("signing_key_id", signer.KeyID()),
		util.Bool("legacy_hs256_enabled", f.config.Auth.LegacyHS256Secret != ""),
	)
	return nil
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var events service.EventPublisher
		if f.kafkaProducer != nil {
			events = service.NewKafkaEventPublisher(f.kafkaProducer)
		} else {
			events = service.LogEventPublisher{}
		}

		f.serviceFactory = service.NewServiceFactory(
			f.signingContext,
			f.redisClient,
			f.serverSecret,
			f.profileClient,
			service.LogEmailSender{},
			events,
			f.config,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.signingContext == nil {
		healthErrors["signing"] = fmt.Errorf("signing context not initialized")
	}
	if f.serverSecret == nil {
		healthErrors["server_secret"] = fmt.Errorf("server secret not initialized")
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return len(f.HealthCheck(ctx)) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.serverSecret != nil {
			f.serverSecret.ClearCache()
			util.Info("Server secret cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) RedisClient() *client.RedisClient {
	return f.redisClient
}

func (f *Factory) SigningContext() *signing.Context {
	return f.signingContext
}
