package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Google      GoogleConfig      `yaml:"google"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Fetcher     FetcherConfig     `yaml:"fetcher"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Sheets      SheetsConfig      `yaml:"sheets"`
	Worker      WorkerConfig      `yaml:"worker"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	API         APIConfig         `yaml:"api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path   string       `yaml:"path"`
	Backup BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	StoragePath   string        `yaml:"storage_path"`
	RetentionDays int           `yaml:"retention_days"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// MarketplaceConfig points the client at the TikTok Shop endpoints.
type MarketplaceConfig struct {
	AuthBaseURL string        `yaml:"auth_base_url"`
	APIBaseURL  string        `yaml:"api_base_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	SpreadsheetTitle      string `yaml:"spreadsheet_title"`
}

type SchedulerConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	Timezone          string        `yaml:"timezone"`
}

type FetcherConfig struct {
	PageSize            int           `yaml:"page_size"`
	MaxRequests         int           `yaml:"max_requests"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	GatewayTimeoutDelay time.Duration `yaml:"gateway_timeout_delay"`
	ParallelThreshold   time.Duration `yaml:"parallel_threshold"`
	ChunkSize           time.Duration `yaml:"chunk_size"`
	MaxConcurrent       int           `yaml:"max_concurrent"`
	LaunchStagger       time.Duration `yaml:"launch_stagger"`
	BatchDelay          time.Duration `yaml:"batch_delay"`
	SortOrder           string        `yaml:"sort_order"`
}

type IngestConfig struct {
	LookbackDays          int           `yaml:"lookback_days"`
	TokenRefreshThreshold time.Duration `yaml:"token_refresh_threshold"`
	BatchRows             int           `yaml:"batch_rows"`
	WindowConcurrency     int           `yaml:"window_concurrency"`
}

type SheetsConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxJitter        time.Duration `yaml:"max_jitter"`
	RateLimitCap     time.Duration `yaml:"rate_limit_cap"`
	UnavailableCap   time.Duration `yaml:"unavailable_cap"`
	RequestsPerMin   int           `yaml:"requests_per_minute"`
	WriteChunkRows   int           `yaml:"write_chunk_rows"`
	DefaultSheetRows int           `yaml:"default_sheet_rows"`
}

type WorkerConfig struct {
	QueueKey      string        `yaml:"queue_key"`
	DeadLetterKey string        `yaml:"dead_letter_key"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Fetcher.MaxConcurrent <= 0 {
		return errors.New("fetcher.max_concurrent must be positive")
	}
	switch strings.ToUpper(c.Fetcher.SortOrder) {
	case "ASC", "DESC":
	default:
		return fmt.Errorf("unknown fetcher.sort_order %q", c.Fetcher.SortOrder)
	}
	if c.API.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api.auth.api_keys is required when api is enabled")
	}
	for i, k := range c.API.Auth.APIKeys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api.auth.api_keys[%d].key is empty", i)
		}
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("invalid scheduler.timezone: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tiktok-sheets"
	}
	if c.Database.Backup.Interval == 0 {
		c.Database.Backup.Interval = 24 * time.Hour
	}
	if c.Database.Backup.StoragePath == "" {
		c.Database.Backup.StoragePath = "data/backups"
	}
	if c.Database.Backup.RetentionDays == 0 {
		c.Database.Backup.RetentionDays = 7
	}
	if c.Marketplace.AuthBaseURL == "" {
		c.Marketplace.AuthBaseURL = "https://auth.tiktok-shops.com"
	}
	if c.Marketplace.APIBaseURL == "" {
		c.Marketplace.APIBaseURL = "https://open-api.tiktokglobalshop.com"
	}
	if c.Marketplace.Timeout == 0 {
		c.Marketplace.Timeout = 30 * time.Second
	}
	if c.Google.SpreadsheetTitle == "" {
		c.Google.SpreadsheetTitle = "TikTok Orders"
	}

	if c.Scheduler.ReconcileInterval == 0 {
		c.Scheduler.ReconcileInterval = time.Hour
	}
	if c.Scheduler.RunTimeout == 0 {
		c.Scheduler.RunTimeout = 2 * time.Hour
	}
	if c.Scheduler.LockTTL == 0 {
		c.Scheduler.LockTTL = c.Scheduler.RunTimeout + 5*time.Minute
	}

	if c.Fetcher.PageSize == 0 {
		c.Fetcher.PageSize = 100
	}
	if c.Fetcher.MaxRequests == 0 {
		c.Fetcher.MaxRequests = 50
	}
	if c.Fetcher.MaxRetries == 0 {
		c.Fetcher.MaxRetries = 3
	}
	if c.Fetcher.RetryDelay == 0 {
		c.Fetcher.RetryDelay = 2 * time.Second
	}
	if c.Fetcher.GatewayTimeoutDelay == 0 {
		c.Fetcher.GatewayTimeoutDelay = 10 * time.Second
	}
	if c.Fetcher.ParallelThreshold == 0 {
		c.Fetcher.ParallelThreshold = 24 * time.Hour
	}
	if c.Fetcher.ChunkSize == 0 {
		c.Fetcher.ChunkSize = 24 * time.Hour
	}
	if c.Fetcher.MaxConcurrent == 0 {
		c.Fetcher.MaxConcurrent = 3
	}
	if c.Fetcher.LaunchStagger == 0 {
		c.Fetcher.LaunchStagger = 500 * time.Millisecond
	}
	if c.Fetcher.BatchDelay == 0 {
		c.Fetcher.BatchDelay = 2 * time.Second
	}
	if c.Fetcher.SortOrder == "" {
		c.Fetcher.SortOrder = "DESC"
	}

	if c.Ingest.LookbackDays == 0 {
		c.Ingest.LookbackDays = 15
	}
	if c.Ingest.TokenRefreshThreshold == 0 {
		c.Ingest.TokenRefreshThreshold = time.Hour
	}
	if c.Ingest.BatchRows == 0 {
		c.Ingest.BatchRows = 5000
	}
	if c.Ingest.WindowConcurrency == 0 {
		c.Ingest.WindowConcurrency = 3
	}

	if c.Sheets.MaxRetries == 0 {
		c.Sheets.MaxRetries = 5
	}
	if c.Sheets.BaseDelay == 0 {
		c.Sheets.BaseDelay = 2 * time.Second
	}
	if c.Sheets.MaxJitter == 0 {
		c.Sheets.MaxJitter = 2 * time.Second
	}
	if c.Sheets.RateLimitCap == 0 {
		c.Sheets.RateLimitCap = 120 * time.Second
	}
	if c.Sheets.UnavailableCap == 0 {
		c.Sheets.UnavailableCap = 90 * time.Second
	}
	if c.Sheets.RequestsPerMin == 0 {
		c.Sheets.RequestsPerMin = 60
	}
	if c.Sheets.WriteChunkRows == 0 {
		c.Sheets.WriteChunkRows = 5000
	}
	if c.Sheets.DefaultSheetRows == 0 {
		c.Sheets.DefaultSheetRows = 1000
	}

	if c.Worker.QueueKey == "" {
		c.Worker.QueueKey = "runs:queue"
	}
	if c.Worker.DeadLetterKey == "" {
		c.Worker.DeadLetterKey = "runs:deadletter"
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
