package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Perpflow  PerpflowConfig  `yaml:"perpflow"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	Source    SourceConfig    `yaml:"source"`
	Processor ProcessorConfig `yaml:"processor"`
	Storage   StorageConfig   `yaml:"storage"`
	Writer    WriterConfig    `yaml:"writer"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type PerpflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	ChannelSize bool `yaml:"channel_size"`
}

type ChannelsConfig struct {
	EventBuffer int `yaml:"event_buffer"`
	BatchBuffer int `yaml:"batch_buffer"`
}

// FeedConfig is the per-feed fallback tuning: pull cadence, push liveness
// and the consecutive failure count that marks a feed degraded.
type FeedConfig struct {
	PullInterval    time.Duration `yaml:"pull_interval"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
	DegradedAfter   int           `yaml:"degraded_after"`
	RedialMin       time.Duration `yaml:"redial_min"`
	RedialMax       time.Duration `yaml:"redial_max"`
}

type FeedsConfig struct {
	Market  FeedConfig `yaml:"market"`
	Account FeedConfig `yaml:"account"`
}

type ProcessorConfig struct {
	MaxWorkers   int           `yaml:"max_workers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

// VenueConfig configures one venue connector. Symbols maps venue symbols to
// canonical symbols and must be bijective; for Lighter the venue symbol is
// the decimal market index.
type VenueConfig struct {
	Enabled         bool                 `yaml:"enabled"`
	WSURL           string               `yaml:"ws_url"`
	RestURL         string               `yaml:"rest_url"`
	Timeout         time.Duration        `yaml:"timeout"`
	Symbols         map[string]string    `yaml:"symbols"`
	CollateralAsset string               `yaml:"collateral_asset"`
	AccountIndex    int                  `yaml:"account_index"`
	AuthTokenEnv    string               `yaml:"auth_token_env"`
	ConnectionPool  ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit       RateLimitConfig      `yaml:"rate_limit"`
}

// AuthToken reads the venue's already issued credential from the configured
// environment variable. Token issuance and signing live outside this service.
func (v *VenueConfig) AuthToken() string {
	if v.AuthTokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(v.AuthTokenEnv))
}

type SourceConfig struct {
	Paradex  VenueConfig `yaml:"paradex"`
	Extended VenueConfig `yaml:"extended"`
	Lighter  VenueConfig `yaml:"lighter"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type WriterConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBuffered   int           `yaml:"max_buffered"`
	Compression   string        `yaml:"compression"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

// LoadConfig reads, parses and validates the service configuration. An
// environment specific file (config.<env>.yml next to the default path) wins
// over the default when APP_ENV selects it.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{ChannelSize: true},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment overrides for storage credentials
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Perpflow.Name == "" {
		return fmt.Errorf("perpflow.name is required")
	}
	if cfg.Perpflow.Version == "" {
		return fmt.Errorf("perpflow.version is required")
	}

	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}
	if cfg.Channels.BatchBuffer <= 0 {
		return fmt.Errorf("channels.batch_buffer must be greater than 0")
	}

	if cfg.Feeds.Market.PullInterval <= 0 {
		return fmt.Errorf("feeds.market.pull_interval must be greater than 0")
	}
	if cfg.Feeds.Market.LivenessTimeout <= 0 {
		return fmt.Errorf("feeds.market.liveness_timeout must be greater than 0")
	}
	if cfg.Feeds.Account.PullInterval <= 0 {
		return fmt.Errorf("feeds.account.pull_interval must be greater than 0")
	}
	if cfg.Feeds.Account.LivenessTimeout <= 0 {
		return fmt.Errorf("feeds.account.liveness_timeout must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}
	if cfg.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size must be greater than 0")
	}
	if cfg.Processor.BatchTimeout <= 0 {
		return fmt.Errorf("processor.batch_timeout must be greater than 0")
	}

	for name, venue := range map[string]VenueConfig{
		"paradex":  cfg.Source.Paradex,
		"extended": cfg.Source.Extended,
		"lighter":  cfg.Source.Lighter,
	} {
		if !venue.Enabled {
			continue
		}
		if venue.RestURL == "" {
			return fmt.Errorf("source.%s.rest_url is required when enabled", name)
		}
		if len(venue.Symbols) == 0 {
			return fmt.Errorf("source.%s.symbols is required when enabled", name)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Writer.FlushInterval <= 0 {
			return fmt.Errorf("writer.flush_interval must be greater than 0 when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
