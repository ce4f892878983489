package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "scraperd_db", cfg.Database.Database)
				assert.Equal(t, "scrape_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "scrape_continuations", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "scraperd-api", cfg.App.Name)
				assert.Equal(t, 30, cfg.Scrape.DefaultBatchSize)
				assert.Equal(t, 500*time.Millisecond, cfg.Scrape.BaseDelay)
				assert.Equal(t, 3, cfg.Scrape.SlowModeThreshold)
				assert.Equal(t, 5.0, cfg.Scrape.SlowModeMultiplier)
				assert.Equal(t, []string{"unusual traffic", "captcha"}, cfg.Scrape.BlockMarkers)
				assert.Equal(t, 10*time.Minute, cfg.Scrape.LogTTL)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "scraperd_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "scrape_exchange"},
			Queue:    QueueConfig{Name: "scrape_continuations"},
			Logs: LogsConfig{
				Exchange: ExchangeConfig{Name: "scrape_logs", Type: "fanout"},
				Queue:    QueueConfig{Name: "scrape_logs_api"},
			},
		},
		Scrape: ScrapeConfig{
			DefaultBatchSize:   30,
			MaxBatchSize:       100,
			BaseDelay:          500 * time.Millisecond,
			SlowModeThreshold:  3,
			SlowModeMultiplier: 5.0,
			EscalationFactor:   1.5,
			LogTTL:             10 * time.Minute,
		},
		Worker: WorkerConfig{
			BatchTimeout:    4 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

func TestConfig_ValidateAPI(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "missing rabbitmq exchange",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "missing logs exchange",
			mutate:    func(c *Config) { c.RabbitMQ.Logs.Exchange.Name = "" },
			wantErr:   true,
			errString: "logs exchange name is required",
		},
		{
			name:      "missing logs queue",
			mutate:    func(c *Config) { c.RabbitMQ.Logs.Queue.Name = "" },
			wantErr:   true,
			errString: "logs queue name is required",
		},
		{
			name:      "zero batch size",
			mutate:    func(c *Config) { c.Scrape.DefaultBatchSize = 0 },
			wantErr:   true,
			errString: "default_batch_size",
		},
		{
			name:      "max batch below default",
			mutate:    func(c *Config) { c.Scrape.MaxBatchSize = 10 },
			wantErr:   true,
			errString: "max_batch_size",
		},
		{
			name:      "slow mode multiplier not above 1",
			mutate:    func(c *Config) { c.Scrape.SlowModeMultiplier = 1.0 },
			wantErr:   true,
			errString: "slow_mode_multiplier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPI()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorker(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		require.NoError(t, validConfig().ValidateWorker())
	})

	t.Run("zero batch timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Worker.BatchTimeout = 0
		err := cfg.ValidateWorker()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "batch_timeout")
	})

	t.Run("zero shutdown timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Worker.ShutdownTimeout = 0
		err := cfg.ValidateWorker()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shutdown_timeout")
	})

	t.Run("logs queue only required by the api", func(t *testing.T) {
		// The worker publishes log lines without consuming them.
		cfg := validConfig()
		cfg.RabbitMQ.Logs.Queue.Name = ""
		require.NoError(t, cfg.ValidateWorker())
	})
}
