package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the session service
type Config struct {
	Service   ServiceConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Telegram  TelegramConfig
	Session   SessionConfig
	Heartbeat HeartbeatConfig
	Kafka     KafkaConfig
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Name            string
	Port            string
	ShutdownTimeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// TelegramConfig holds MTProto app credentials
type TelegramConfig struct {
	APIID   int
	APIHash string
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	// EncryptionKey is the symmetric key for session blobs. A 64-hex-char
	// value is used as raw key bytes; any other value of at least 32
	// characters is hashed into key material. Anything shorter is fatal.
	EncryptionKey string

	// Retention is how long invalid/revoked sessions are kept before the
	// cleanup sweep hard-deletes them.
	Retention time.Duration

	// InitializingTTL is the staleness window after which an initializing
	// session counts as an abandoned handshake.
	InitializingTTL time.Duration

	CleanupInterval time.Duration

	// AuthFlowTTL bounds pending phone-code and QR flows.
	AuthFlowTTL     time.Duration
	MaxPendingAuth  int
	ReconnectOnBoot bool
	MaxConcurrent   int
}

// HeartbeatConfig holds connection health monitor configuration
type HeartbeatConfig struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}

// KafkaConfig holds the optional lifecycle-event sink configuration
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

const (
	heartbeatIntervalMin = 60 * time.Second
	heartbeatIntervalMax = 600 * time.Second
	heartbeatTimeoutMin  = 5 * time.Second
	heartbeatTimeoutMax  = 60 * time.Second
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	apiID, err := strconv.Atoi(getEnv("TELEGRAM_API_ID", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_API_ID: %w", err)
	}

	retention, err := time.ParseDuration(getEnv("SESSION_RETENTION", "720h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_RETENTION: %w", err)
	}
	initializingTTL, err := time.ParseDuration(getEnv("SESSION_INITIALIZING_TTL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_INITIALIZING_TTL: %w", err)
	}
	cleanupInterval, err := time.ParseDuration(getEnv("SESSION_CLEANUP_INTERVAL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_CLEANUP_INTERVAL: %w", err)
	}
	authFlowTTL, err := time.ParseDuration(getEnv("AUTH_FLOW_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_FLOW_TTL: %w", err)
	}
	maxPendingAuth, err := strconv.Atoi(getEnv("AUTH_FLOW_MAX_PENDING", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_FLOW_MAX_PENDING: %w", err)
	}
	shutdownTimeout, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}
	maxConcurrent, err := strconv.Atoi(getEnv("SESSION_MAX_CONCURRENT_RECONNECT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_MAX_CONCURRENT_RECONNECT: %w", err)
	}

	heartbeatInterval, err := time.ParseDuration(getEnv("HEARTBEAT_INTERVAL", "120s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
	}
	heartbeatTimeout, err := time.ParseDuration(getEnv("HEARTBEAT_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_TIMEOUT: %w", err)
	}

	kafkaBrokers := []string{}
	if brokersStr := getEnv("KAFKA_BROKERS", ""); brokersStr != "" {
		kafkaBrokers = strings.Split(brokersStr, ",")
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:            getEnv("SERVICE_NAME", "session-service"),
			Port:            getEnv("SERVICE_PORT", "8086"),
			ShutdownTimeout: shutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "sessions"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Telegram: TelegramConfig{
			APIID:   apiID,
			APIHash: getEnv("TELEGRAM_API_HASH", ""),
		},
		Session: SessionConfig{
			EncryptionKey:   getEnv("SESSION_ENCRYPTION_KEY", ""),
			Retention:       retention,
			InitializingTTL: initializingTTL,
			CleanupInterval: cleanupInterval,
			AuthFlowTTL:     authFlowTTL,
			MaxPendingAuth:  maxPendingAuth,
			ReconnectOnBoot: getEnv("SESSION_RECONNECT_ON_BOOT", "true") == "true",
			MaxConcurrent:   maxConcurrent,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  getEnv("HEARTBEAT_ENABLED", "true") == "true",
			Interval: clampDuration(heartbeatInterval, heartbeatIntervalMin, heartbeatIntervalMax),
			Timeout:  clampDuration(heartbeatTimeout, heartbeatTimeoutMin, heartbeatTimeoutMax),
		},
		Kafka: KafkaConfig{
			Enabled: getEnv("KAFKA_EVENTS_ENABLED", "false") == "true",
			Brokers: kafkaBrokers,
			Topic:   getEnv("KAFKA_EVENTS_TOPIC", "session-events"),
		},
	}

	// The probe timeout must always be shorter than the probe interval.
	if cfg.Heartbeat.Timeout >= cfg.Heartbeat.Interval {
		cfg.Heartbeat.Timeout = heartbeatTimeoutMin
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Telegram.APIID == 0 {
		return fmt.Errorf("TELEGRAM_API_ID is required")
	}

	if c.Telegram.APIHash == "" {
		return fmt.Errorf("TELEGRAM_API_HASH is required")
	}

	if len(c.Session.EncryptionKey) < 32 {
		return fmt.Errorf("SESSION_ENCRYPTION_KEY is required and must be at least 32 characters")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_EVENTS_ENABLED is true")
	}

	return nil
}

// Out exposes sub-configs as separate fx-providable values
type Out struct {
	Config    *Config
	Service   *ServiceConfig
	Logging   *LoggingConfig
	Database  *DatabaseConfig
	Telegram  *TelegramConfig
	Session   *SessionConfig
	Heartbeat *HeartbeatConfig
	Kafka     *KafkaConfig
}

// Provide loads the config once and returns all sub-config pointers
func Provide() (*Config, *ServiceConfig, *LoggingConfig, *DatabaseConfig, *TelegramConfig, *SessionConfig, *HeartbeatConfig, *KafkaConfig, error) {
	cfg, err := Load()
	if err != nil {
		return nil, nil, nil, nil, nil, nil, nil, nil, err
	}
	return cfg, &cfg.Service, &cfg.Logging, &cfg.Database, &cfg.Telegram, &cfg.Session, &cfg.Heartbeat, &cfg.Kafka, nil
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
