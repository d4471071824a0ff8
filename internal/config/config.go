package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"downloadreport/internal/domain"
	"downloadreport/internal/util"
)

// ErrMissingSettings is returned by Validate when required settings are
// absent.
var ErrMissingSettings = errors.New("missing required settings")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the download reporter.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Stores   Stores         `yaml:"stores"`
	Telegram Telegram       `yaml:"telegram"`
	Report   Report         `yaml:"report"`
	Retry    Retry          `yaml:"retry"`
	Logging  Logging        `yaml:"logging"`
	Server   Server         `yaml:"server"`
	Backfill BackfillConfig `yaml:"backfill"`
}

// Storage holds paths for the ledger and the cumulative-totals cache.
type Storage struct {
	DataDir string `yaml:"data_dir"`
	// LedgerBackend is "csv" (default) or "sqlite".
	LedgerBackend string `yaml:"ledger_backend"`
	LedgerPath    string `yaml:"ledger_path"`
	SQLitePath    string `yaml:"sqlite_path"`
	TotalsPath    string `yaml:"totals_path"`
	// ParquetPath, when set, receives a columnar copy of the ledger after
	// every run.
	ParquetPath string `yaml:"parquet_path"`
}

// Stores lists the enabled store clients and their credentials.
type Stores struct {
	Enabled    []string   `yaml:"enabled"`
	AppStore   AppStore   `yaml:"appstore"`
	GooglePlay GooglePlay `yaml:"googleplay"`
	Huawei     Huawei     `yaml:"huawei"`
}

// AppStore holds App Store Connect API credentials.
type AppStore struct {
	IssuerID     string `yaml:"issuer_id"`
	KeyID        string `yaml:"key_id"`
	PrivateKey   string `yaml:"private_key"`
	VendorNumber string `yaml:"vendor_number"`
	AppSKU       string `yaml:"app_sku"`
	BaseURL      string `yaml:"base_url"`
}

// GooglePlay holds the Play Console reporting bucket settings.
type GooglePlay struct {
	PackageName     string `yaml:"package_name"`
	BucketID        string `yaml:"bucket_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Huawei holds AppGallery Connect API credentials.
type Huawei struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AppID        string `yaml:"app_id"`
	BaseURL      string `yaml:"base_url"`
}

// Telegram holds the notification bot settings.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	BaseURL  string `yaml:"base_url"`
}

// Report controls what a run fetches and how the summary reads.
type Report struct {
	AppName      string `yaml:"app_name"`
	Timezone     string `yaml:"timezone"`
	LookbackDays int    `yaml:"lookback_days"`
}

// Retry configures the two retry policies.
type Retry struct {
	Fetch  RetryPolicy `yaml:"fetch"`
	Notify RetryPolicy `yaml:"notify"`
}

// RetryPolicy is the YAML form of util.RetryPolicy.
type RetryPolicy struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Server holds network listener configuration for the dashboard server.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// BackfillConfig holds parameters for the history backfill tool.
type BackfillConfig struct {
	StartDate       string `yaml:"start_date"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load loads a .env file from the working directory if present, reads the
// YAML configuration file at the given path, applies environment variable
// overrides and then fills in defaults. A missing config file is not
// an error: the reporter can run from environment variables alone.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.LedgerBackend == "" {
		cfg.Storage.LedgerBackend = "csv"
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = filepath.Join(cfg.Storage.DataDir, "downloads.csv")
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "downloads.db")
	}
	if cfg.Storage.TotalsPath == "" {
		cfg.Storage.TotalsPath = "cumulative_totals.json"
	}
	if len(cfg.Stores.Enabled) == 0 {
		cfg.Stores.Enabled = []string{string(domain.PlatformAppStore), string(domain.PlatformGooglePlay)}
	}
	if cfg.Report.AppName == "" {
		cfg.Report.AppName = "B-Ticket"
	}
	if cfg.Report.Timezone == "" {
		cfg.Report.Timezone = "Asia/Manila"
	}
	if cfg.Report.LookbackDays <= 0 {
		cfg.Report.LookbackDays = 7
	}
	if cfg.Retry.Fetch == (RetryPolicy{}) {
		cfg.Retry.Fetch = fromPolicy(util.FetchPolicy)
	}
	if cfg.Retry.Notify == (RetryPolicy{}) {
		cfg.Retry.Notify = fromPolicy(util.NotifyPolicy)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Backfill.RateLimitPerMin == 0 {
		cfg.Backfill.RateLimitPerMin = 60
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"DATA_DIR", &cfg.Storage.DataDir},
		{"LEDGER_PATH", &cfg.Storage.LedgerPath},
		{"TOTALS_PATH", &cfg.Storage.TotalsPath},
		{"APPLE_ISSUER_ID", &cfg.Stores.AppStore.IssuerID},
		{"APPLE_KEY_ID", &cfg.Stores.AppStore.KeyID},
		{"APPLE_PRIVATE_KEY", &cfg.Stores.AppStore.PrivateKey},
		{"APPLE_VENDOR_NUMBER", &cfg.Stores.AppStore.VendorNumber},
		{"APPLE_APP_SKU", &cfg.Stores.AppStore.AppSKU},
		{"GOOGLE_PACKAGE_NAME", &cfg.Stores.GooglePlay.PackageName},
		{"GOOGLE_BUCKET_ID", &cfg.Stores.GooglePlay.BucketID},
		{"GOOGLE_APPLICATION_CREDENTIALS", &cfg.Stores.GooglePlay.CredentialsFile},
		{"HUAWEI_CLIENT_ID", &cfg.Stores.Huawei.ClientID},
		{"HUAWEI_CLIENT_SECRET", &cfg.Stores.Huawei.ClientSecret},
		{"HUAWEI_APP_ID", &cfg.Stores.Huawei.AppID},
		{"TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken},
		{"TELEGRAM_CHAT_ID", &cfg.Telegram.ChatID},
		{"LOG_LEVEL", &cfg.Logging.Level},
		{"REPORT_TIMEZONE", &cfg.Report.Timezone},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.name)); v != "" {
			*o.dst = v
		}
	}

	// CI secrets usually carry the PEM with escaped newlines.
	cfg.Stores.AppStore.PrivateKey = strings.ReplaceAll(cfg.Stores.AppStore.PrivateKey, `\n`, "\n")
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks that every setting required by the enabled stores and the
// notifier is present. When requireNotifier is false (dry runs, the
// dashboard) the Telegram settings are optional.
func (c *Config) Validate(requireNotifier bool) error {
	var missing []string
	need := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}

	platforms, err := c.EnabledPlatforms()
	if err != nil {
		return err
	}
	for _, p := range platforms {
		switch p {
		case domain.PlatformAppStore:
			need("APPLE_ISSUER_ID", c.Stores.AppStore.IssuerID)
			need("APPLE_KEY_ID", c.Stores.AppStore.KeyID)
			need("APPLE_PRIVATE_KEY", c.Stores.AppStore.PrivateKey)
			need("APPLE_VENDOR_NUMBER", c.Stores.AppStore.VendorNumber)
			need("APPLE_APP_SKU", c.Stores.AppStore.AppSKU)
		case domain.PlatformGooglePlay:
			need("GOOGLE_PACKAGE_NAME", c.Stores.GooglePlay.PackageName)
			need("GOOGLE_BUCKET_ID", c.Stores.GooglePlay.BucketID)
		case domain.PlatformHuawei:
			need("HUAWEI_CLIENT_ID", c.Stores.Huawei.ClientID)
			need("HUAWEI_CLIENT_SECRET", c.Stores.Huawei.ClientSecret)
			need("HUAWEI_APP_ID", c.Stores.Huawei.AppID)
		}
	}
	if requireNotifier {
		need("TELEGRAM_BOT_TOKEN", c.Telegram.BotToken)
		need("TELEGRAM_CHAT_ID", c.Telegram.ChatID)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSettings, strings.Join(missing, ", "))
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Storage.LedgerBackend {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Storage.LedgerBackend)
	}
	return nil
}

// EnabledPlatforms returns the enabled stores in report order.
func (c *Config) EnabledPlatforms() ([]domain.Platform, error) {
	seen := make(map[domain.Platform]bool)
	for _, name := range c.Stores.Enabled {
		p, err := domain.ParsePlatform(name)
		if err != nil {
			return nil, fmt.Errorf("stores.enabled: %w", err)
		}
		seen[p] = true
	}
	var out []domain.Platform
	for _, p := range domain.Platforms {
		if seen[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Location resolves the report timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return nil, fmt.Errorf("report.timezone %q: %w", c.Report.Timezone, err)
	}
	return loc, nil
}

// FetchPolicy returns the store-fetch retry policy.
func (c *Config) FetchPolicy() util.RetryPolicy { return c.Retry.Fetch.toPolicy("fetch") }

// NotifyPolicy returns the notification retry policy.
func (c *Config) NotifyPolicy() util.RetryPolicy { return c.Retry.Notify.toPolicy("notify") }

// LogOptions returns the logger options for the given log file name.
func (c *Config) LogOptions(fileName string) util.LogOptions {
	return util.LogOptions{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Dir:        c.Logging.Dir,
		FileName:   fileName,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}

func (p RetryPolicy) toPolicy(name string) util.RetryPolicy {
	return util.RetryPolicy{Name: name, MaxRetries: p.MaxRetries, BaseDelay: p.BaseDelay, Multiplier: p.Multiplier}
}

func fromPolicy(p util.RetryPolicy) RetryPolicy {
	return RetryPolicy{MaxRetries: p.MaxRetries, BaseDelay: p.BaseDelay, Multiplier: p.Multiplier}
}
