package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Overseerr OverseerrConfig `mapstructure:"overseerr"`
	Trakt     TraktConfig     `mapstructure:"trakt"`
	Debrid    DebridConfig    `mapstructure:"debrid"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Match     MatchConfig     `mapstructure:"match"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// OverseerrConfig holds the request catalog connection.
type OverseerrConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"`
}

// TraktConfig holds the schedule metadata connection.
type TraktConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"`
	// RateLimit and RateWindowMinutes bound outgoing calls; the client
	// self-throttles when the budget for the window is spent.
	RateLimit         int `mapstructure:"rate_limit"`
	RateWindowMinutes int `mapstructure:"rate_window_minutes"`
}

// DebridConfig holds the Real-Debrid credentials used by the availability
// session and the token refresher.
type DebridConfig struct {
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// TokenFile is where refreshed access tokens are persisted.
	TokenFile string `mapstructure:"token_file"`
	// RefreshCheckMinutes is how often token expiry is checked.
	RefreshCheckMinutes int `mapstructure:"refresh_check_minutes"`
}

// BridgeConfig holds the reconciliation loop settings.
type BridgeConfig struct {
	// RefreshIntervalMinutes drives the periodic catalog re-population job.
	// Values below 1 are clamped to 1.
	RefreshIntervalMinutes float64 `mapstructure:"refresh_interval_minutes"`
	QueueCapacity          int     `mapstructure:"queue_capacity"`
	IdleGraceSeconds       int     `mapstructure:"idle_grace_seconds"`
	LedgerPath             string  `mapstructure:"ledger_path"`
	// TorrentFilterRegex is pushed into the session's filter box before
	// candidate scans.
	TorrentFilterRegex string `mapstructure:"torrent_filter_regex"`
	// ListingBaseURL is the root of the candidate-listing site.
	ListingBaseURL string `mapstructure:"listing_base_url"`
	// EnableSubscriptionTask toggles the periodic catalog re-population job
	// (and with it the discrepancy recheck it triggers). Webhook intake
	// works either way.
	EnableSubscriptionTask bool `mapstructure:"enable_subscription_task"`
}

// MatchConfig holds the confirmation policy knobs.
type MatchConfig struct {
	CachedScanThreshold int `mapstructure:"cached_scan_threshold"`
	FullScanThreshold   int `mapstructure:"full_scan_threshold"`
	YearTolerance       int `mapstructure:"year_tolerance"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	PollTimeoutSeconds  int `mapstructure:"poll_timeout_seconds"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8777,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			File:       "./logs/seerrbridge.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Overseerr: OverseerrConfig{
			Timeout: 30,
		},
		Trakt: TraktConfig{
			BaseURL:           "https://api.trakt.tv",
			Timeout:           30,
			RateLimit:         1000,
			RateWindowMinutes: 5,
		},
		Debrid: DebridConfig{
			TokenFile:           "./data/rd_token.json",
			RefreshCheckMinutes: 10,
		},
		Bridge: BridgeConfig{
			RefreshIntervalMinutes: 60,
			QueueCapacity:          250,
			IdleGraceSeconds:       60,
			LedgerPath:             "./data/episode_discrepancies.json",
			ListingBaseURL:         "https://debridmediamanager.com",
			EnableSubscriptionTask: true,
		},
		Match: MatchConfig{
			CachedScanThreshold: 65,
			FullScanThreshold:   75,
			YearTolerance:       1,
			PollIntervalSeconds: 2,
			PollTimeoutSeconds:  15,
		},
	}
}

// Load reads configuration from a local .env file, a config file, and
// environment variables. Priority: environment variables > config file >
// defaults.
func Load(configPath string) (*Config, error) {
	// Deployments have historically been .env-driven; load it into the
	// process environment before viper resolves anything.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.seerrbridge")
	}

	v.SetEnvPrefix("SEERRBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Bridge.clamp()
	return cfg, nil
}

// Validate checks the settings the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Overseerr.BaseURL == "" {
		return fmt.Errorf("overseerr.base_url is required")
	}
	if c.Overseerr.APIKey == "" {
		return fmt.Errorf("overseerr.api_key is required")
	}
	if c.Trakt.APIKey == "" {
		return fmt.Errorf("trakt.api_key is required")
	}
	return nil
}

func (b *BridgeConfig) clamp() {
	if b.RefreshIntervalMinutes < 1 {
		b.RefreshIntervalMinutes = 1
	}
	if b.QueueCapacity <= 0 {
		b.QueueCapacity = 250
	}
}

// RefreshInterval returns the re-population period as a duration.
func (b *BridgeConfig) RefreshInterval() time.Duration {
	minutes := b.RefreshIntervalMinutes
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes * float64(time.Minute))
}

// IdleGrace returns the idle housekeeping grace period.
func (b *BridgeConfig) IdleGrace() time.Duration {
	return time.Duration(b.IdleGraceSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)

	v.SetDefault("overseerr.base_url", "")
	v.SetDefault("overseerr.api_key", "")
	v.SetDefault("overseerr.timeout", d.Overseerr.Timeout)

	v.SetDefault("trakt.api_key", EmbeddedTraktKey)
	v.SetDefault("trakt.base_url", d.Trakt.BaseURL)
	v.SetDefault("trakt.timeout", d.Trakt.Timeout)
	v.SetDefault("trakt.rate_limit", d.Trakt.RateLimit)
	v.SetDefault("trakt.rate_window_minutes", d.Trakt.RateWindowMinutes)

	v.SetDefault("debrid.access_token", "")
	v.SetDefault("debrid.refresh_token", "")
	v.SetDefault("debrid.client_id", "")
	v.SetDefault("debrid.client_secret", "")
	v.SetDefault("debrid.token_file", d.Debrid.TokenFile)
	v.SetDefault("debrid.refresh_check_minutes", d.Debrid.RefreshCheckMinutes)

	v.SetDefault("bridge.refresh_interval_minutes", d.Bridge.RefreshIntervalMinutes)
	v.SetDefault("bridge.queue_capacity", d.Bridge.QueueCapacity)
	v.SetDefault("bridge.idle_grace_seconds", d.Bridge.IdleGraceSeconds)
	v.SetDefault("bridge.ledger_path", d.Bridge.LedgerPath)
	v.SetDefault("bridge.torrent_filter_regex", "")
	v.SetDefault("bridge.listing_base_url", d.Bridge.ListingBaseURL)
	v.SetDefault("bridge.enable_subscription_task", d.Bridge.EnableSubscriptionTask)

	v.SetDefault("match.cached_scan_threshold", d.Match.CachedScanThreshold)
	v.SetDefault("match.full_scan_threshold", d.Match.FullScanThreshold)
	v.SetDefault("match.year_tolerance", d.Match.YearTolerance)
	v.SetDefault("match.poll_interval_seconds", d.Match.PollIntervalSeconds)
	v.SetDefault("match.poll_timeout_seconds", d.Match.PollTimeoutSeconds)
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
