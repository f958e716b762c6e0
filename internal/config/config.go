package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Network   NetworkConfig   `mapstructure:"network"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Mirrors   MirrorsConfig   `mapstructure:"mirrors"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// NetworkConfig contains HTTP client settings
type NetworkConfig struct {
	UserAgent   string `mapstructure:"user_agent"`
	BearerToken string `mapstructure:"bearer_token"`
	Timeout     string `mapstructure:"timeout"`
	OfflineMode bool   `mapstructure:"offline_mode"`
}

// CacheConfig contains local cache settings
type CacheConfig struct {
	RootDir          string `mapstructure:"root_dir"`
	MaxSizeMB        int    `mapstructure:"max_size_mb"`
	EvictEveryCommit int    `mapstructure:"evict_every_commit"`
}

// MirrorsConfig contains mirror registry settings
type MirrorsConfig struct {
	SeedFile         string `mapstructure:"seed_file"`
	ProbeTimeout     string `mapstructure:"probe_timeout"`
	HealthyThreshold string `mapstructure:"healthy_threshold"`
	MaxCandidates    int    `mapstructure:"max_candidates"`
}

// DownloadsConfig contains transfer and retry settings
type DownloadsConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	ChunkSizeKB int    `mapstructure:"chunk_size_kb"`
	MaxRetries  int    `mapstructure:"max_retries"`
	BackoffBase string `mapstructure:"backoff_base"`
	BackoffCap  string `mapstructure:"backoff_cap"`
	Resumable   bool   `mapstructure:"resumable"`
}

// JournalConfig contains resume journal settings
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("network.user_agent", "envfetch/1.0")
	viper.SetDefault("network.timeout", "30s")
	viper.SetDefault("network.offline_mode", false)
	viper.SetDefault("cache.root_dir", "")
	viper.SetDefault("cache.max_size_mb", 1024)
	viper.SetDefault("cache.evict_every_commit", 10)
	viper.SetDefault("mirrors.probe_timeout", "10s")
	viper.SetDefault("mirrors.healthy_threshold", "2s")
	viper.SetDefault("mirrors.max_candidates", 3)
	viper.SetDefault("downloads.concurrency", 3)
	viper.SetDefault("downloads.chunk_size_kb", 64)
	viper.SetDefault("downloads.max_retries", 3)
	viper.SetDefault("downloads.backoff_base", "1s")
	viper.SetDefault("downloads.backoff_cap", "30s")
	viper.SetDefault("downloads.resumable", true)
	viper.SetDefault("journal.path", "")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.file", "")
	viper.SetDefault("logging.max_size_mb", 50)
	viper.SetDefault("logging.max_backups", 3)

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cache.MaxSizeMB <= 0 {
		return fmt.Errorf("cache.max_size_mb must be positive")
	}
	if c.Cache.EvictEveryCommit <= 0 {
		return fmt.Errorf("cache.evict_every_commit must be positive")
	}

	if c.Downloads.Concurrency < 1 || c.Downloads.Concurrency > 16 {
		return fmt.Errorf("downloads.concurrency must be between 1 and 16")
	}
	if c.Downloads.ChunkSizeKB <= 0 {
		return fmt.Errorf("downloads.chunk_size_kb must be positive")
	}
	if c.Downloads.MaxRetries < 0 {
		return fmt.Errorf("downloads.max_retries must not be negative")
	}

	// Validate durations
	if _, err := time.ParseDuration(c.Network.Timeout); err != nil {
		return fmt.Errorf("invalid network.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Mirrors.ProbeTimeout); err != nil {
		return fmt.Errorf("invalid mirrors.probe_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Mirrors.HealthyThreshold); err != nil {
		return fmt.Errorf("invalid mirrors.healthy_threshold: %w", err)
	}
	if _, err := time.ParseDuration(c.Downloads.BackoffBase); err != nil {
		return fmt.Errorf("invalid downloads.backoff_base: %w", err)
	}
	if _, err := time.ParseDuration(c.Downloads.BackoffCap); err != nil {
		return fmt.Errorf("invalid downloads.backoff_cap: %w", err)
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetTimeout returns the per-request timeout as time.Duration
func (c *NetworkConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetProbeTimeout returns the mirror probe timeout as time.Duration
func (c *MirrorsConfig) GetProbeTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ProbeTimeout)
	if d == 0 {
		return 10 * time.Second
	}
	return d
}

// GetHealthyThreshold returns the healthy response-time threshold
func (c *MirrorsConfig) GetHealthyThreshold() time.Duration {
	d, _ := time.ParseDuration(c.HealthyThreshold)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// GetBackoffBase returns the initial retry backoff as time.Duration
func (c *DownloadsConfig) GetBackoffBase() time.Duration {
	d, _ := time.ParseDuration(c.BackoffBase)
	if d == 0 {
		return time.Second
	}
	return d
}

// GetBackoffCap returns the maximum retry backoff as time.Duration
func (c *DownloadsConfig) GetBackoffCap() time.Duration {
	d, _ := time.ParseDuration(c.BackoffCap)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetChunkSize returns the transfer chunk size in bytes
func (c *DownloadsConfig) GetChunkSize() int {
	if c.ChunkSizeKB <= 0 {
		return 64 * 1024
	}
	return c.ChunkSizeKB * 1024
}

// GetMaxCacheSize returns the cache budget in bytes
func (c *CacheConfig) GetMaxCacheSize() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}
