package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting for the admin auth service.
// Values are sourced from the environment (optionally seeded from a .env file).
type Config struct {
	Environment string

	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	ClickHouse ClickHouseConfig
	Elastic    ElasticConfig
	KMS        KMSConfig
	Auth       AuthConfig
	Bootstrap  BootstrapConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	// Enabled switches the session store and attempt ledger to their
	// Redis-backed implementations for multi-instance deployments.
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	Username string
	Password string
}

type ElasticConfig struct {
	Enabled   bool
	Addresses []string
	Index     string
}

type KMSConfig struct {
	Enabled bool
	Region  string
	KeyID   string
	// Base64 ciphertext of the secret-codec master key, decrypted at startup.
	MasterKeyCiphertext string
}

type AuthConfig struct {
	SessionTTL         time.Duration
	SweepInterval      time.Duration
	MaxSessionsPerUser int
	MaxFailedAttempts  int
	LockoutDuration    time.Duration
	MaxMFAAttempts     int
	MFALockoutDuration time.Duration
	MFAIssuer          string
	MasterKey          string
	BcryptCost         int
	GeoLookupEnabled   bool
}

type BootstrapConfig struct {
	Username string
	Password string
}

// LoadConfig reads configuration from the environment. A .env file is
// loaded first when present so local runs need no exported variables.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/admin-auth/certs"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CORSOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", "https://*"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", "127.0.0.1:9042"),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "admin_auth"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getEnv("KAFKA_SECURITY_TOPIC", "admin-security-events"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "admin_auth"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elastic: ElasticConfig{
			Enabled:   getEnvBool("ELASTIC_ENABLED", false),
			Addresses: getEnvList("ELASTIC_ADDRESSES", "http://localhost:9200"),
			Index:     getEnv("ELASTIC_ACTIVITY_INDEX", "admin-activity-logs"),
		},
		KMS: KMSConfig{
			Enabled:             getEnvBool("KMS_ENABLED", false),
			Region:              getEnv("KMS_REGION", "eu-central-1"),
			KeyID:               getEnv("KMS_KEY_ID", ""),
			MasterKeyCiphertext: getEnv("KMS_MASTER_KEY_CIPHERTEXT", ""),
		},
		Auth: AuthConfig{
			SessionTTL:         getEnvDuration("AUTH_SESSION_TTL", 30*time.Minute),
			SweepInterval:      getEnvDuration("AUTH_SWEEP_INTERVAL", 5*time.Minute),
			MaxSessionsPerUser: getEnvInt("AUTH_MAX_SESSIONS_PER_USER", 3),
			MaxFailedAttempts:  getEnvInt("AUTH_MAX_FAILED_ATTEMPTS", 3),
			LockoutDuration:    getEnvDuration("AUTH_LOCKOUT_DURATION", 15*time.Minute),
			MaxMFAAttempts:     getEnvInt("AUTH_MAX_MFA_ATTEMPTS", 5),
			MFALockoutDuration: getEnvDuration("AUTH_MFA_LOCKOUT_DURATION", 5*time.Minute),
			MFAIssuer:          getEnv("AUTH_MFA_ISSUER", "MIYOMINT"),
			MasterKey:          getEnv("AUTH_MASTER_KEY", ""),
			BcryptCost:         getEnvInt("AUTH_BCRYPT_COST", 12),
			GeoLookupEnabled:   getEnvBool("AUTH_GEO_LOOKUP", true),
		},
		Bootstrap: BootstrapConfig{
			Username: getEnv("ADMIN_BOOTSTRAP_USER", "admin"),
			Password: getEnv("ADMIN_BOOTSTRAP_PASSWORD", ""),
		},
	}
}

// Validate reports settings that would be unsafe to run with.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.Auth.MasterKey == "" && !c.KMS.Enabled {
			return fmt.Errorf("AUTH_MASTER_KEY or KMS must be configured in production")
		}
		if !c.Server.EnableTLS {
			return fmt.Errorf("TLS must be enabled in production")
		}
	}
	if c.Auth.MaxSessionsPerUser < 1 || c.Auth.MaxSessionsPerUser > 10 {
		return fmt.Errorf("AUTH_MAX_SESSIONS_PER_USER must be between 1 and 10, got %d", c.Auth.MaxSessionsPerUser)
	}
	if c.Auth.MaxFailedAttempts < 1 {
		return fmt.Errorf("AUTH_MAX_FAILED_ATTEMPTS must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
