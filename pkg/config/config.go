package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App         AppConfig
	API         APIConfig
	DB          DBConfig
	Replication ReplicationConfig
	Scan        ScanConfig
	Approval    ApprovalConfig
	Retention   RetentionConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.DB.Path == "" {
		return nil, fmt.Errorf("%s is required", EnvDBPath)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MIZAN_APP_ENV" required:"true"`
	TerminalID   string `envconfig:"MIZAN_TERMINAL_ID" required:"true"`
	LogLevel     string `envconfig:"MIZAN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MIZAN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type APIConfig struct {
	Port string `envconfig:"MIZAN_API_PORT" default:"8093"`
}

type DBConfig struct {
	Path          string `envconfig:"MIZAN_DB_PATH"`
	CacheCapacity int    `envconfig:"MIZAN_DB_CACHE_CAPACITY" default:"5000"`
	AutoMigrate   bool   `envconfig:"MIZAN_DB_AUTO_MIGRATE" default:"true"`
}

type ReplicationConfig struct {
	// RemoteURL empty means the terminal runs local-only. That is a valid
	// terminal mode, not a misconfiguration.
	RemoteURL      string        `envconfig:"MIZAN_REMOTE_URL"`
	BatchSize      int           `envconfig:"MIZAN_SYNC_BATCH_SIZE" default:"25"`
	BackoffInitial time.Duration `envconfig:"MIZAN_SYNC_BACKOFF_INITIAL" default:"1s"`
	BackoffFactor  float64       `envconfig:"MIZAN_SYNC_BACKOFF_FACTOR" default:"1.5"`
	BackoffMax     time.Duration `envconfig:"MIZAN_SYNC_BACKOFF_MAX" default:"60s"`
	PollInterval   time.Duration `envconfig:"MIZAN_SYNC_POLL_INTERVAL" default:"2s"`
}

func (r ReplicationConfig) LocalOnly() bool {
	return strings.TrimSpace(r.RemoteURL) == ""
}

type ScanConfig struct {
	BurstWindow       time.Duration `envconfig:"MIZAN_SCAN_BURST_WINDOW" default:"400ms"`
	DispatchDelay     time.Duration `envconfig:"MIZAN_SCAN_DISPATCH_DELAY" default:"50ms"`
	SettleDelay       time.Duration `envconfig:"MIZAN_SCAN_SETTLE_DELAY" default:"2s"`
	InactivityTimeout time.Duration `envconfig:"MIZAN_SCAN_INACTIVITY_TIMEOUT" default:"10s"`
	BatchSize         int           `envconfig:"MIZAN_SCAN_BATCH_SIZE" default:"5"`
	CacheCapacity     int           `envconfig:"MIZAN_SCAN_CACHE_CAPACITY" default:"1000"`
}

type ApprovalConfig struct {
	// RequireForZeroingDecrement routes a relative quantity decrement that
	// would reach zero through manager approval instead of removing the
	// line directly.
	RequireForZeroingDecrement bool `envconfig:"MIZAN_APPROVAL_REQUIRE_FOR_ZEROING_DECREMENT" default:"false"`
}

type RetentionConfig struct {
	Enabled  bool          `envconfig:"MIZAN_RETENTION_ENABLED" default:"true"`
	Interval time.Duration `envconfig:"MIZAN_RETENTION_INTERVAL" default:"24h"`
}
