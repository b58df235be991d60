package config

import (
	"errors"
	"fmt"
	"os"

	"erpsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Store      StoreConfig      `yaml:"store"`
	Sync       SyncConfig       `yaml:"sync"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Notify     NotifyConfig     `yaml:"notify"`
	Exports    ExportConfig     `yaml:"exports"`
	Backup     BackupConfig     `yaml:"backup"`
	RulesPath  string           `yaml:"rules_path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// StoreConfig selects the table store backend. "sqlite" keeps staging
// and master sheets in the local database; "sheets" points at a Google
// spreadsheet shared with the ERP operators.
type StoreConfig struct {
	Backend         string `yaml:"backend"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
}

type SyncConfig struct {
	StaleThresholdHours      int      `yaml:"stale_threshold_hours"`
	SummaryThreshold         int      `yaml:"summary_threshold"`
	NeverSummarize           []string `yaml:"never_summarize"`
	RecentFailureWindowHours int      `yaml:"recent_failure_window_hours"`
	StatusCacheTTLSeconds    int      `yaml:"status_cache_ttl_seconds"`
	LockTTLSeconds           int      `yaml:"lock_ttl_seconds"`
	PollIntervalSeconds      int      `yaml:"poll_interval_seconds"`
	BatchSize                int      `yaml:"batch_size"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment wins when both define a key.
	_ = godotenv.Load(".env")

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

	switch c.Store.Backend {
	case "sqlite", "memory":
	case "sheets":
		if c.Store.CredentialsFile == "" || c.Store.SpreadsheetID == "" {
			return errors.New("store.backend=sheets requires credentials_file and spreadsheet_id")
		}
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.RulesPath == "" {
		return errors.New("rules_path is required")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Sync.StaleThresholdHours == 0 {
		c.Sync.StaleThresholdHours = models.DefaultStaleThresholdHours
	}
	if c.Sync.SummaryThreshold == 0 {
		c.Sync.SummaryThreshold = models.DefaultSummaryThreshold
	}
	if c.Sync.RecentFailureWindowHours == 0 {
		c.Sync.RecentFailureWindowHours = models.DefaultRecentFailureWindowHours
	}
	if c.Sync.StatusCacheTTLSeconds == 0 {
		c.Sync.StatusCacheTTLSeconds = models.DefaultStatusCacheTTLSeconds
	}
	if c.Sync.LockTTLSeconds == 0 {
		c.Sync.LockTTLSeconds = models.DefaultLockTTLSeconds
	}
	if c.Sync.PollIntervalSeconds == 0 {
		c.Sync.PollIntervalSeconds = models.DefaultPollIntervalSeconds
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.DefaultWorkerBatchSize
	}

	if c.API.Enabled {
		if c.API.Port == 0 {
			c.API.Port = 8080
		}
		if !c.API.Auth.Enabled {
			c.API.Auth.Enabled = true
		}
		if c.API.Auth.HeaderAPIKey == "" {
			c.API.Auth.HeaderAPIKey = "x-api-key"
		}
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
