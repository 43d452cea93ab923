package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Delivery modes for order-created events
const (
	DeliveryDirect = "direct"
	DeliveryOutbox = "outbox"
)

// Config holds all configuration for the application
// Following 12-factor app principles, all config is loaded from environment variables
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Order    OrderConfig
	Outbox   OutboxConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
	LogLevel string
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int
}

// DatabaseConfig configures the order store. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
}

// BrokerConfig configures the RabbitMQ publisher. An empty URL selects the log publisher.
type BrokerConfig struct {
	URL          string
	Queue        string
	DialAttempts int
	DialDelay    time.Duration
}

type OrderConfig struct {
	DefaultCustomerID string
	DeliveryMode      string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// TracingConfig configures OTLP export. An empty URI disables tracing.
type TracingConfig struct {
	URI            string
	ServiceName    string
	ServiceVersion string
}

type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("PORT"),
			Host:            v.GetString("HOST"),
			ReadTimeout:     v.GetInt("READ_TIMEOUT"),
			WriteTimeout:    v.GetInt("WRITE_TIMEOUT"),
			ShutdownTimeout: v.GetInt("SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			URL:          v.GetString("DATABASE_URL"),
			MaxOpenConns: v.GetInt("DATABASE_MAX_OPEN_CONNS"),
		},
		Broker: BrokerConfig{
			URL:          v.GetString("RABBITMQ_URL"),
			Queue:        v.GetString("RABBITMQ_QUEUE"),
			DialAttempts: v.GetInt("RABBITMQ_DIAL_ATTEMPTS"),
			DialDelay:    v.GetDuration("RABBITMQ_DIAL_DELAY"),
		},
		Order: OrderConfig{
			DefaultCustomerID: v.GetString("ORDER_DEFAULT_CUSTOMER_ID"),
			DeliveryMode:      strings.ToLower(v.GetString("ORDER_DELIVERY_MODE")),
		},
		Outbox: OutboxConfig{
			PollInterval: v.GetDuration("OUTBOX_POLL_INTERVAL"),
			BatchSize:    v.GetInt("OUTBOX_BATCH_SIZE"),
		},
		Tracing: TracingConfig{
			URI:            v.GetString("TRACER_URI"),
			ServiceName:    v.GetString("SERVICE_NAME"),
			ServiceVersion: v.GetString("SERVICE_VERSION"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "3333")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("READ_TIMEOUT", 15)
	v.SetDefault("WRITE_TIMEOUT", 15)
	v.SetDefault("SHUTDOWN_TIMEOUT", 30)

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 10)

	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_QUEUE", "orders")
	v.SetDefault("RABBITMQ_DIAL_ATTEMPTS", 5)
	v.SetDefault("RABBITMQ_DIAL_DELAY", "2s")

	v.SetDefault("ORDER_DEFAULT_CUSTOMER_ID", "1f6766c2-ca49-44c0-ae2f-61c360cf1406")
	v.SetDefault("ORDER_DELIVERY_MODE", DeliveryDirect)

	v.SetDefault("OUTBOX_POLL_INTERVAL", "3s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 10)

	v.SetDefault("TRACER_URI", "")
	v.SetDefault("SERVICE_NAME", "app-orders")
	v.SetDefault("SERVICE_VERSION", "dev")

	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("LOG_LEVEL", "info")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	switch c.Order.DeliveryMode {
	case DeliveryDirect, DeliveryOutbox:
	default:
		return fmt.Errorf("invalid delivery mode: %s (must be %s or %s)", c.Order.DeliveryMode, DeliveryDirect, DeliveryOutbox)
	}

	if _, err := uuid.Parse(c.Order.DefaultCustomerID); err != nil {
		return fmt.Errorf("ORDER_DEFAULT_CUSTOMER_ID must be a UUID: %w", err)
	}

	if c.Broker.Queue == "" {
		return fmt.Errorf("RABBITMQ_QUEUE is required")
	}

	if c.Order.DeliveryMode == DeliveryOutbox {
		if c.Outbox.PollInterval <= 0 {
			return fmt.Errorf("OUTBOX_POLL_INTERVAL must be positive")
		}
		if c.Outbox.BatchSize <= 0 {
			return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
		}
	}

	return nil
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}
