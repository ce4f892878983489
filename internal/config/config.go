package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Logs       LogsConfig       `yaml:"logs"`
}

// LogsConfig holds the fanout topology used to relay per-job log lines
// from the worker to the API service.
type LogsConfig struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Queue    QueueConfig    `yaml:"queue"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ScrapeConfig holds the scraping and throttling policy. BatchSize and
// BatchPause bound how long one batch hop runs; the throttle settings shape
// the inter-request delay once the source starts pushing back.
type ScrapeConfig struct {
	UserAgent          string        `yaml:"user_agent"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	DefaultBatchSize   int           `yaml:"default_batch_size"`
	MaxBatchSize       int           `yaml:"max_batch_size"`
	BaseDelay          time.Duration `yaml:"base_delay"`
	BatchPause         time.Duration `yaml:"batch_pause"`
	SlowModeThreshold  int           `yaml:"slow_mode_threshold"`
	SlowModeMultiplier float64       `yaml:"slow_mode_multiplier"`
	EscalationFactor   float64       `yaml:"escalation_factor"`
	BlockMarkers       []string      `yaml:"block_markers"`
	LogTTL             time.Duration `yaml:"log_ttl"`
	LogEvictInterval   time.Duration `yaml:"log_evict_interval"`
	LogDoneGrace       time.Duration `yaml:"log_done_grace"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	BatchTimeout    time.Duration `yaml:"batch_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPI checks the configuration needed by the API service
func (c *Config) ValidateAPI() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	// The API consumes relayed log lines; the worker only publishes to the
	// logs exchange and needs no queue.
	if c.RabbitMQ.Logs.Queue.Name == "" {
		return fmt.Errorf("rabbitmq logs queue name is required")
	}
	if err := c.validateShared(); err != nil {
		return err
	}
	return c.validateScrape()
}

// ValidateWorker checks the configuration needed by the worker service
func (c *Config) ValidateWorker() error {
	if c.Worker.BatchTimeout <= 0 {
		return fmt.Errorf("worker batch_timeout must be greater than 0")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}
	if err := c.validateShared(); err != nil {
		return err
	}
	return c.validateScrape()
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}
	if c.RabbitMQ.Logs.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq logs exchange name is required")
	}
	return nil
}

func (c *Config) validateScrape() error {
	if c.Scrape.DefaultBatchSize <= 0 {
		return fmt.Errorf("scrape default_batch_size must be greater than 0")
	}
	if c.Scrape.MaxBatchSize < c.Scrape.DefaultBatchSize {
		return fmt.Errorf("scrape max_batch_size must be >= default_batch_size")
	}
	if c.Scrape.BaseDelay <= 0 {
		return fmt.Errorf("scrape base_delay must be greater than 0")
	}
	if c.Scrape.SlowModeThreshold <= 0 {
		return fmt.Errorf("scrape slow_mode_threshold must be greater than 0")
	}
	if c.Scrape.SlowModeMultiplier <= 1 {
		return fmt.Errorf("scrape slow_mode_multiplier must be greater than 1")
	}
	if c.Scrape.EscalationFactor <= 1 {
		return fmt.Errorf("scrape escalation_factor must be greater than 1")
	}
	if c.Scrape.LogTTL <= 0 {
		return fmt.Errorf("scrape log_ttl must be greater than 0")
	}
	return nil
}
