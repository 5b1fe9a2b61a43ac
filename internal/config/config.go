// Package config loads pubhub settings from .env, an optional YAML file and
// PUBHUB_-prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/steveyegge/pubhub/internal/ai"
	"github.com/steveyegge/pubhub/internal/reddit"
	"github.com/steveyegge/pubhub/internal/scan"
	"github.com/steveyegge/pubhub/internal/storage"
	"github.com/steveyegge/pubhub/internal/storage/postgres"
)

// EnvPrefix prefixes every environment override, e.g. PUBHUB_SCAN_MONITOR_PAGE_SIZE
const EnvPrefix = "PUBHUB"

// RedditConfig holds content API settings
type RedditConfig struct {
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	UserAgent     string        `mapstructure:"user_agent"`
	RedirectURI   string        `mapstructure:"redirect_uri"`
	TokenURL      string        `mapstructure:"token_url"`
	APIBaseURL    string        `mapstructure:"api_base_url"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// PostgresConfig holds postgres connection settings
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// StorageConfig selects and configures the KV backend
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	Path     string         `mapstructure:"path"` // empty discovers .pubhub/pubhub.db
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// AIConfig holds text generation settings
type AIConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	Model              string        `mapstructure:"model"` // empty uses ai.GetDefaultModel
	BaseURL            string        `mapstructure:"base_url"`
	MaxRetries         int           `mapstructure:"max_retries"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxConcurrentCalls int           `mapstructure:"max_concurrent_calls"`
}

// ScanConfig holds scan tuning
type ScanConfig struct {
	MaxConcurrentForums int           `mapstructure:"max_concurrent_forums"`
	DeepScanPageSize    int           `mapstructure:"deep_scan_page_size"`
	MonitorPageSize     int           `mapstructure:"monitor_page_size"`
	MonitorWindow       time.Duration `mapstructure:"monitor_window"`
	MonitorSchedule     string        `mapstructure:"monitor_schedule"`
}

// JobsConfig holds retry counts and per-user hourly limits
type JobsConfig struct {
	DeepScanRetries  int `mapstructure:"deep_scan_retries"`
	DeepScansPerHour int `mapstructure:"deep_scans_per_hour"`
	ResponseRetries  int `mapstructure:"response_retries"`
	ResponsesPerHour int `mapstructure:"responses_per_hour"`
	KeywordRetries   int `mapstructure:"keyword_retries"`
	MonitorRetries   int `mapstructure:"monitor_retries"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// NotifyConfig holds match notification settings
type NotifyConfig struct {
	DiscordWebhook string `mapstructure:"discord_webhook"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the complete pubhub configuration
type Config struct {
	Reddit  RedditConfig         `mapstructure:"reddit"`
	Storage StorageConfig        `mapstructure:"storage"`
	AI      AIConfig             `mapstructure:"ai"`
	Scan    ScanConfig           `mapstructure:"scan"`
	Jobs    JobsConfig           `mapstructure:"jobs"`
	Server  ServerConfig         `mapstructure:"server"`
	Notify  NotifyConfig         `mapstructure:"notify"`
	Log     LogConfig            `mapstructure:"log"`
	Events  EventRetentionConfig `mapstructure:"events"`

	// DemoMode scans public RSS feeds without any credentials
	DemoMode bool `mapstructure:"demo_mode"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	rd := reddit.DefaultConfig()
	pg := postgres.DefaultConfig()
	retry := ai.DefaultRetryConfig()
	sd := scan.DefaultConfig()
	fd := scan.DefaultFunctionConfig()

	return &Config{
		Reddit: RedditConfig{
			UserAgent:     rd.UserAgent,
			TokenURL:      rd.TokenURL,
			APIBaseURL:    rd.APIBaseURL,
			PublicBaseURL: rd.PublicBaseURL,
			Timeout:       rd.Timeout,
		},
		Storage: StorageConfig{
			Backend: string(storage.BackendSQLite),
			Postgres: PostgresConfig{
				Host:     pg.Host,
				Port:     pg.Port,
				Database: pg.Database,
				User:     pg.User,
				SSLMode:  pg.SSLMode,
				MaxConns: pg.MaxConns,
			},
		},
		AI: AIConfig{
			MaxRetries:         retry.MaxRetries,
			Timeout:            retry.Timeout,
			MaxConcurrentCalls: retry.MaxConcurrentCalls,
		},
		Scan: ScanConfig{
			MaxConcurrentForums: sd.MaxConcurrentForums,
			DeepScanPageSize:    sd.DeepScanPageSize,
			MonitorPageSize:     sd.MonitorPageSize,
			MonitorWindow:       sd.MonitorWindow,
			MonitorSchedule:     fd.MonitorSchedule,
		},
		Jobs: JobsConfig{
			DeepScanRetries:  fd.DeepScanRetries,
			DeepScansPerHour: fd.DeepScansPerHour,
			ResponseRetries:  fd.ResponseRetries,
			ResponsesPerHour: fd.ResponsesPerHour,
			KeywordRetries:   fd.KeywordRetries,
			MonitorRetries:   fd.MonitorRetries,
		},
		Server: ServerConfig{
			Addr:      ":8080",
			JWTIssuer: "pubhub",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Events: DefaultEventRetentionConfig(),
	}
}

// setDefaults registers every key with viper so env overrides reach Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]interface{}{
		"reddit.client_id":       d.Reddit.ClientID,
		"reddit.client_secret":   d.Reddit.ClientSecret,
		"reddit.user_agent":      d.Reddit.UserAgent,
		"reddit.redirect_uri":    d.Reddit.RedirectURI,
		"reddit.token_url":       d.Reddit.TokenURL,
		"reddit.api_base_url":    d.Reddit.APIBaseURL,
		"reddit.public_base_url": d.Reddit.PublicBaseURL,
		"reddit.timeout":         d.Reddit.Timeout,

		"storage.backend":            d.Storage.Backend,
		"storage.path":               d.Storage.Path,
		"storage.postgres.dsn":       d.Storage.Postgres.DSN,
		"storage.postgres.host":      d.Storage.Postgres.Host,
		"storage.postgres.port":      d.Storage.Postgres.Port,
		"storage.postgres.database":  d.Storage.Postgres.Database,
		"storage.postgres.user":      d.Storage.Postgres.User,
		"storage.postgres.password":  d.Storage.Postgres.Password,
		"storage.postgres.sslmode":   d.Storage.Postgres.SSLMode,
		"storage.postgres.max_conns": d.Storage.Postgres.MaxConns,

		"ai.api_key":              d.AI.APIKey,
		"ai.model":                d.AI.Model,
		"ai.base_url":             d.AI.BaseURL,
		"ai.max_retries":          d.AI.MaxRetries,
		"ai.timeout":              d.AI.Timeout,
		"ai.max_concurrent_calls": d.AI.MaxConcurrentCalls,

		"scan.max_concurrent_forums": d.Scan.MaxConcurrentForums,
		"scan.deep_scan_page_size":   d.Scan.DeepScanPageSize,
		"scan.monitor_page_size":     d.Scan.MonitorPageSize,
		"scan.monitor_window":        d.Scan.MonitorWindow,
		"scan.monitor_schedule":      d.Scan.MonitorSchedule,

		"jobs.deep_scan_retries":   d.Jobs.DeepScanRetries,
		"jobs.deep_scans_per_hour": d.Jobs.DeepScansPerHour,
		"jobs.response_retries":    d.Jobs.ResponseRetries,
		"jobs.responses_per_hour":  d.Jobs.ResponsesPerHour,
		"jobs.keyword_retries":     d.Jobs.KeywordRetries,
		"jobs.monitor_retries":     d.Jobs.MonitorRetries,

		"server.addr":       d.Server.Addr,
		"server.jwt_secret": d.Server.JWTSecret,
		"server.jwt_issuer": d.Server.JWTIssuer,

		"notify.discord_webhook": d.Notify.DiscordWebhook,

		"log.level":  d.Log.Level,
		"log.format": d.Log.Format,

		"events.per_project_limit": d.Events.PerProjectLimit,
		"events.enabled":           d.Events.Enabled,

		"demo_mode": d.DemoMode,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load reads configuration. path names a YAML file; when empty, pubhub.yaml
// is looked up in the working directory and .pubhub/, and its absence is not
// an error. A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pubhub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(".pubhub")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Conventional unprefixed names for secrets
	fromEnv(&cfg.AI.APIKey, "ANTHROPIC_API_KEY")
	fromEnv(&cfg.Reddit.ClientID, "REDDIT_CLIENT_ID")
	fromEnv(&cfg.Reddit.ClientSecret, "REDDIT_CLIENT_SECRET")
	fromEnv(&cfg.Storage.Postgres.DSN, "DATABASE_URL")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func fromEnv(dest *string, key string) {
	if *dest == "" {
		*dest = os.Getenv(key)
	}
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	switch storage.Backend(c.Storage.Backend) {
	case storage.BackendSQLite, storage.BackendPostgres:
	default:
		return fmt.Errorf("storage.backend must be sqlite or postgres (got %q)", c.Storage.Backend)
	}

	if c.Reddit.Timeout <= 0 {
		return fmt.Errorf("reddit.timeout must be positive (got %v)", c.Reddit.Timeout)
	}
	if c.Scan.MaxConcurrentForums < 1 || c.Scan.MaxConcurrentForums > 50 {
		return fmt.Errorf("scan.max_concurrent_forums must be between 1 and 50 (got %d)", c.Scan.MaxConcurrentForums)
	}
	if c.Scan.DeepScanPageSize < 1 || c.Scan.DeepScanPageSize > reddit.MaxPageSize {
		return fmt.Errorf("scan.deep_scan_page_size must be between 1 and %d (got %d)", reddit.MaxPageSize, c.Scan.DeepScanPageSize)
	}
	if c.Scan.MonitorPageSize < 1 || c.Scan.MonitorPageSize > reddit.MaxPageSize {
		return fmt.Errorf("scan.monitor_page_size must be between 1 and %d (got %d)", reddit.MaxPageSize, c.Scan.MonitorPageSize)
	}
	if c.Scan.MonitorWindow <= 0 {
		return fmt.Errorf("scan.monitor_window must be positive (got %v)", c.Scan.MonitorWindow)
	}
	if c.Scan.MonitorSchedule != "" {
		if _, err := cron.ParseStandard(c.Scan.MonitorSchedule); err != nil {
			return fmt.Errorf("scan.monitor_schedule is invalid: %w", err)
		}
	}

	retries := map[string]int{
		"jobs.deep_scan_retries": c.Jobs.DeepScanRetries,
		"jobs.response_retries":  c.Jobs.ResponseRetries,
		"jobs.keyword_retries":   c.Jobs.KeywordRetries,
		"jobs.monitor_retries":   c.Jobs.MonitorRetries,
		"ai.max_retries":         c.AI.MaxRetries,
	}
	for key, n := range retries {
		if n < 0 || n > 10 {
			return fmt.Errorf("%s must be between 0 and 10 (got %d)", key, n)
		}
	}
	if c.Jobs.DeepScansPerHour < 0 || c.Jobs.ResponsesPerHour < 0 {
		return fmt.Errorf("hourly limits cannot be negative")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive (got %v)", c.AI.Timeout)
	}
	if c.AI.MaxConcurrentCalls < 0 {
		return fmt.Errorf("ai.max_concurrent_calls cannot be negative (got %d)", c.AI.MaxConcurrentCalls)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json (got %q)", c.Log.Format)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	return nil
}

// RedditClientConfig returns the content API client configuration
func (c *Config) RedditClientConfig() reddit.Config {
	return reddit.Config{
		ClientID:      c.Reddit.ClientID,
		ClientSecret:  c.Reddit.ClientSecret,
		UserAgent:     c.Reddit.UserAgent,
		RedirectURI:   c.Reddit.RedirectURI,
		TokenURL:      c.Reddit.TokenURL,
		APIBaseURL:    c.Reddit.APIBaseURL,
		PublicBaseURL: c.Reddit.PublicBaseURL,
		Timeout:       c.Reddit.Timeout,
	}
}

// StorageOptions returns the storage configuration
func (c *Config) StorageOptions() *storage.Config {
	pg := postgres.DefaultConfig()
	pg.DSN = c.Storage.Postgres.DSN
	pg.Host = c.Storage.Postgres.Host
	pg.Port = c.Storage.Postgres.Port
	pg.Database = c.Storage.Postgres.Database
	pg.User = c.Storage.Postgres.User
	pg.Password = c.Storage.Postgres.Password
	pg.SSLMode = c.Storage.Postgres.SSLMode
	if c.Storage.Postgres.MaxConns > 0 {
		pg.MaxConns = c.Storage.Postgres.MaxConns
	}
	return &storage.Config{
		Backend:  storage.Backend(c.Storage.Backend),
		Path:     storage.ResolveDatabasePath(c.Storage.Path),
		Postgres: pg,
	}
}

// GeneratorOptions returns the text generation configuration
func (c *Config) GeneratorOptions() *ai.Config {
	retry := ai.DefaultRetryConfig()
	retry.MaxRetries = c.AI.MaxRetries
	retry.Timeout = c.AI.Timeout
	retry.MaxConcurrentCalls = c.AI.MaxConcurrentCalls
	return &ai.Config{
		APIKey:  c.AI.APIKey,
		Model:   c.AI.Model,
		BaseURL: c.AI.BaseURL,
		Retry:   retry,
	}
}

// FunctionOptions returns retry and rate-limit settings for the scan functions
func (c *Config) FunctionOptions() scan.FunctionConfig {
	return scan.FunctionConfig{
		DeepScanRetries:  c.Jobs.DeepScanRetries,
		DeepScansPerHour: c.Jobs.DeepScansPerHour,
		ResponseRetries:  c.Jobs.ResponseRetries,
		ResponsesPerHour: c.Jobs.ResponsesPerHour,
		KeywordRetries:   c.Jobs.KeywordRetries,
		MonitorRetries:   c.Jobs.MonitorRetries,
		MonitorSchedule:  c.Scan.MonitorSchedule,
	}
}

// ApplyScan copies scan tuning onto a coordinator config
func (c *Config) ApplyScan(sc *scan.Config) {
	sc.MaxConcurrentForums = c.Scan.MaxConcurrentForums
	sc.DeepScanPageSize = c.Scan.DeepScanPageSize
	sc.MonitorPageSize = c.Scan.MonitorPageSize
	sc.MonitorWindow = c.Scan.MonitorWindow
	sc.EventRetention = c.Events.Keep()
	sc.Anonymous = c.DemoMode
}
