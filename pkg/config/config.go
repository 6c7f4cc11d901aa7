package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Binance struct {
		WebSocketURL   string        `yaml:"websocket_url"`
		Symbols        []string      `yaml:"symbols"`
		Intervals      []string      `yaml:"intervals"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"binance"`
	Market struct {
		MaxSymbols      int           `yaml:"max_symbols"`
		CandleCapacity  int           `yaml:"candle_capacity"`
		StaleAfter      time.Duration `yaml:"stale_after"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"market"`
	Screener struct {
		MinWorkers   int           `yaml:"min_workers"`
		MaxWorkers   int           `yaml:"max_workers"`
		TaskTimeout  time.Duration `yaml:"task_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
		CandleDepth  int           `yaml:"candle_depth"`
		ScanInterval time.Duration `yaml:"scan_interval"`
		EventBuffer  int           `yaml:"event_buffer"`
	} `yaml:"screener"`
	Monitoring struct {
		MaxReanalyses      int           `yaml:"max_reanalyses"`
		ReanalysisInterval time.Duration `yaml:"reanalysis_interval"`
		CleanupInterval    time.Duration `yaml:"cleanup_interval"`
		Retention          time.Duration `yaml:"retention"`
		CandleDepth        int           `yaml:"candle_depth"`
	} `yaml:"monitoring"`
	Dispatcher struct {
		MaxConcurrent     int           `yaml:"max_concurrent"`
		MaxRetries        int           `yaml:"max_retries"`
		BaseDelay         time.Duration `yaml:"base_delay"`
		TaskTimeout       time.Duration `yaml:"task_timeout"`
		RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
		ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
	} `yaml:"dispatcher"`
	RateLimit struct {
		TokensPerSecond float64 `yaml:"tokens_per_second"`
		MaxTokens       float64 `yaml:"max_tokens"`
	} `yaml:"rate_limit"`
	Reasoner struct {
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Model   string        `yaml:"model"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"reasoner"`
	Rules struct {
		BaseURL  string        `yaml:"base_url"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"rules"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		CandlesTopic string   `yaml:"candles_topic"`
		SignalsTopic string   `yaml:"signals_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Binance.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("BINANCE_WS_URL"); v != "" {
		c.Binance.WebSocketURL = v
	}
	if v := os.Getenv("REASONER_API_KEY"); v != "" {
		c.Reasoner.APIKey = v
	}
	if v := os.Getenv("REASONER_BASE_URL"); v != "" {
		c.Reasoner.BaseURL = v
	}
	if v := os.Getenv("RULES_BASE_URL"); v != "" {
		c.Rules.BaseURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Binance.Symbols) == 0 {
		return fmt.Errorf("binance.symbols cannot be empty")
	}
	if c.Binance.WebSocketURL == "" {
		return fmt.Errorf("binance.websocket_url is required")
	}
	if c.Reasoner.BaseURL == "" {
		return fmt.Errorf("reasoner.base_url is required")
	}
	if c.Rules.BaseURL == "" {
		return fmt.Errorf("rules.base_url is required")
	}
	if c.Screener.MinWorkers > c.Screener.MaxWorkers && c.Screener.MaxWorkers > 0 {
		return fmt.Errorf("screener.min_workers cannot exceed screener.max_workers")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
