package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type RedisConfig struct {
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RecordsConfig struct {
	// Backend is "memory" or "postgres".
	Backend     string `mapstructure:"backend"`
	DatabaseURL string `mapstructure:"database_url"`
}

type ProcessorConfig struct {
	// URL of the remote processor; empty selects the built-in stub.
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	StubDelay  time.Duration `mapstructure:"stub_delay"`
	// QueueSize bounds chunks per stream waiting to be processed.
	QueueSize int `mapstructure:"queue_size"`
}

type HandshakeConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Window      time.Duration `mapstructure:"window"`
}

type Config struct {
	Mode         string          `mapstructure:"mode"`
	Port         int             `mapstructure:"port"`
	LogLevel     string          `mapstructure:"log_level"`
	APIKey       string          `mapstructure:"api_key"`
	ReadLimit    int64           `mapstructure:"read_limit"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	StateTTL     time.Duration   `mapstructure:"state_ttl"`
	Redis        RedisConfig     `mapstructure:"redis"`
	Records      RecordsConfig   `mapstructure:"records"`
	Processor    ProcessorConfig `mapstructure:"processor"`
	Handshake    HandshakeConfig `mapstructure:"handshake"`
}

var ErrMissingAPIKey = errors.New("api_key is required")

// Load reads config/config.<CONFIG_ENV>.yaml, then MEETSTREAM_* environment
// variables (a local .env file is loaded first when present).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MEETSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("api_key", "")
	v.SetDefault("read_limit", 8<<20)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("state_ttl", "0s")
	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.master_name", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "5s")
	v.SetDefault("redis.write_timeout", "5s")
	v.SetDefault("records.backend", "memory")
	v.SetDefault("records.database_url", "")
	v.SetDefault("processor.url", "")
	v.SetDefault("processor.timeout", "10s")
	v.SetDefault("processor.max_retries", 2)
	v.SetDefault("processor.stub_delay", "50ms")
	v.SetDefault("processor.queue_size", 64)
	v.SetDefault("handshake.max_failures", 5)
	v.SetDefault("handshake.window", "1m")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("records", cfg.Records.Backend).
		Strs("redis", cfg.Redis.Addrs).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	switch c.Records.Backend {
	case "memory":
	case "postgres":
		if c.Records.DatabaseURL == "" {
			return fmt.Errorf("records.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown records backend %q", c.Records.Backend)
	}
	if len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("redis.addrs is required")
	}
	return nil
}
