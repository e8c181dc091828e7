package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the single typed dependency bag injected at construction.
// Values come from the environment, optionally seeded from a .env file.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	Server  ServerConfig
	Logging LoggingConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	KMS     KMSConfig
	Auth    AuthConfig
	Profile ProfileConfig
}

type ServerConfig struct {
	Host         string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"SERVER_PORT" envDefault:"8080"`
	TLSPort      int           `env:"SERVER_TLS_PORT" envDefault:"8443"`
	EnableTLS    bool          `env:"SERVER_ENABLE_TLS" envDefault:"false"`
	AutoCert     bool          `env:"SERVER_AUTO_CERT" envDefault:"false"`
	Domain       string        `env:"SERVER_DOMAIN"`
	CertFile     string        `env:"SERVER_CERT_FILE"`
	KeyFile      string        `env:"SERVER_KEY_FILE"`
	AutoCertDir  string        `env:"SERVER_AUTOCERT_DIR" envDefault:"/var/lib/autocert"`
	Email        string        `env:"SERVER_ACME_EMAIL"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type RedisConfig struct {
	URL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"50"`
}

type KafkaConfig struct {
	Enabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"KAFKA_SECURITY_TOPIC" envDefault:"security-events"`
}

type KMSConfig struct {
	Enabled bool   `env:"KMS_ENABLED" envDefault:"false"`
	KeyID   string `env:"KMS_KEY_ID"`
	Region  string `env:"AWS_REGION" envDefault:"us-east-1"`
}

// AuthConfig carries everything the token issuer and the crypto layers
// need. ServerSecret backs API-key field encryption when KMS is off;
// LegacyHS256Secret keeps pre-migration tokens verifiable.
type AuthConfig struct {
	Issuer            string        `env:"AUTH_ISSUER" envDefault:"otp-auth-service"`
	RSAPrivateKeyPEM  string        `env:"AUTH_RSA_PRIVATE_KEY"`
	LegacyHS256Secret string        `env:"AUTH_LEGACY_HS256_SECRET"`
	ServerSecret      string        `env:"AUTH_SERVER_SECRET" envDefault:"dev-only-server-secret"`
	AccessTokenTTL    time.Duration `env:"AUTH_ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL   time.Duration `env:"AUTH_REFRESH_TOKEN_TTL" envDefault:"168h"`
	OTPTTL            time.Duration `env:"AUTH_OTP_TTL" envDefault:"5m"`
	OTPMaxAttempts    int           `env:"AUTH_OTP_MAX_ATTEMPTS" envDefault:"5"`
	DataRequestTTL    time.Duration `env:"AUTH_DATA_REQUEST_TTL" envDefault:"72h"`
	DefaultScope      string        `env:"AUTH_DEFAULT_SCOPE" envDefault:"openid profile"`
}

type ProfileConfig struct {
	BaseURL string        `env:"PROFILE_SERVICE_URL" envDefault:"http://localhost:8090"`
	Timeout time.Duration `env:"PROFILE_SERVICE_TIMEOUT" envDefault:"5s"`
}

// LoadConfig reads .env if present, then parses the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
