package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort int

	DBConfig struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	KafkaBrokerURL          string
	KafkaLifecycleTopic     string
	KafkaNotificationsTopic string
	KafkaConsumerGroup      string

	AdminUIOrigin string

	MigrationsPath string

	OutboxPollInterval time.Duration
	OutboxPollTimeout  time.Duration
	OutboxMaxAttempts  int
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPPort = getEnvAsInt("ESCROW_HTTP_PORT", 8083)

	cfg.DBConfig.Host = getEnvOrDefault("ESCROW_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("ESCROW_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("ESCROW_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("ESCROW_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("ESCROW_DB_NAME", "escrow_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("ESCROW_DB_SSLMODE", "disable")

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaLifecycleTopic = getEnvOrDefault("KAFKA_LIFECYCLE_TOPIC", "payment_lifecycle_events")
	cfg.KafkaNotificationsTopic = getEnvOrDefault("KAFKA_NOTIFICATIONS_TOPIC", "payment_notifications")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "escrow-engine-group")

	cfg.AdminUIOrigin = getEnvOrDefault("ADMIN_UI_ORIGIN", "http://localhost:5173")

	cfg.MigrationsPath = getEnvOrDefault("ESCROW_MIGRATIONS_PATH", "file://migrations")

	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 500*time.Millisecond)
	cfg.OutboxMaxAttempts = getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5)

	return cfg, nil
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
