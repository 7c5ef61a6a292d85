package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the relay bot
type Config struct {
	// Telegram bot settings
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`

	// Instagram credentials and client settings
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// Per-user quota
	Limits LimitsConfig `yaml:"limits" json:"limits"`

	// Who may use the bot
	Access AccessConfig `yaml:"access" json:"access"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TelegramConfig holds Telegram Bot API settings
type TelegramConfig struct {
	Token             string `yaml:"token" json:"token"`
	PollTimeout       int    `yaml:"poll_timeout" json:"poll_timeout"`
	Workers           int    `yaml:"workers" json:"workers"`
	MessagesPerSecond int    `yaml:"messages_per_second" json:"messages_per_second"`
	Debug             bool   `yaml:"debug" json:"debug"`
}

// InstagramConfig holds Instagram-specific configuration
type InstagramConfig struct {
	Account           string        `yaml:"account" json:"account"`
	SessionID         string        `yaml:"session_id" json:"session_id"`
	CSRFToken         string        `yaml:"csrf_token" json:"csrf_token"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// LimitsConfig holds the per-user quota
type LimitsConfig struct {
	MaxDownloadsPerUser int    `yaml:"max_downloads_per_user" json:"max_downloads_per_user"`
	RateLimitSeconds    int    `yaml:"rate_limit_seconds" json:"rate_limit_seconds"`
	Rollover            string `yaml:"rollover" json:"rollover"`
}

// AccessConfig holds user allow lists
type AccessConfig struct {
	AdminIDs     []int64 `yaml:"admin_ids" json:"admin_ids"`
	AllowedUsers []int64 `yaml:"allowed_users" json:"allowed_users"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	StagingDirectory    string        `yaml:"staging_directory" json:"staging_directory"`
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
	MaxFileSize         int64         `yaml:"max_file_size" json:"max_file_size"`
}

// MetricsConfig holds the Prometheus listener settings
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout:       60,
			Workers:           4,
			MessagesPerSecond: 30,
		},
		Instagram: InstagramConfig{
			UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			RequestTimeout:    30 * time.Second,
			RequestsPerMinute: 60,
		},
		Limits: LimitsConfig{
			MaxDownloadsPerUser: 10,
			RateLimitSeconds:    30,
			Rollover:            "last_seen",
		},
		Download: DownloadConfig{
			StagingDirectory:    filepath.Join(os.TempDir(), "igrelay"),
			ConcurrentDownloads: 3,
			DownloadTimeout:     60 * time.Second,
			MaxFileSize:         50 * 1024 * 1024, // Bot API upload limit
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	// TELEGRAM_TOKEN is accepted as an unprefixed alias
	if token := firstEnv("IGRELAY_TELEGRAM_TOKEN", "TELEGRAM_TOKEN"); token != "" {
		c.Telegram.Token = token
	}
	if workers := os.Getenv("IGRELAY_WORKERS"); workers != "" {
		if val, err := strconv.Atoi(workers); err != nil {
			errs = append(errs, fmt.Errorf("IGRELAY_WORKERS: %w", err))
		} else if val > 0 {
			c.Telegram.Workers = val
		}
	}

	// Instagram credentials
	if account := os.Getenv("IGRELAY_INSTAGRAM_ACCOUNT"); account != "" {
		c.Instagram.Account = account
	}
	if sessionID := os.Getenv("IGRELAY_SESSION_ID"); sessionID != "" {
		c.Instagram.SessionID = sessionID
	}
	if csrfToken := os.Getenv("IGRELAY_CSRF_TOKEN"); csrfToken != "" {
		c.Instagram.CSRFToken = csrfToken
	}
	if userAgent := os.Getenv("IGRELAY_USER_AGENT"); userAgent != "" {
		c.Instagram.UserAgent = userAgent
	}

	// Quota
	if maxDownloads := os.Getenv("IGRELAY_MAX_DOWNLOADS_PER_USER"); maxDownloads != "" {
		val, err := strconv.Atoi(maxDownloads)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGRELAY_MAX_DOWNLOADS_PER_USER: %w", err))
		} else {
			c.Limits.MaxDownloadsPerUser = val
		}
	}
	if interval := os.Getenv("IGRELAY_RATE_LIMIT_SECONDS"); interval != "" {
		val, err := strconv.Atoi(interval)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGRELAY_RATE_LIMIT_SECONDS: %w", err))
		} else {
			c.Limits.RateLimitSeconds = val
		}
	}
	if rollover := os.Getenv("IGRELAY_ROLLOVER"); rollover != "" {
		c.Limits.Rollover = rollover
	}

	// Access lists
	if admins := os.Getenv("IGRELAY_ADMIN_IDS"); admins != "" {
		ids, err := parseIDList(admins)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGRELAY_ADMIN_IDS: %w", err))
		} else {
			c.Access.AdminIDs = ids
		}
	}
	if allowed := os.Getenv("IGRELAY_ALLOWED_USERS"); allowed != "" {
		ids, err := parseIDList(allowed)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGRELAY_ALLOWED_USERS: %w", err))
		} else {
			c.Access.AllowedUsers = ids
		}
	}

	// Downloads
	if dir := os.Getenv("IGRELAY_STAGING_DIR"); dir != "" {
		c.Download.StagingDirectory = dir
	}

	// Metrics
	if addr := os.Getenv("IGRELAY_METRICS_ADDR"); addr != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddress = addr
	}

	// Logging level
	if logLevel := os.Getenv("IGRELAY_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv("IGRELAY_LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igrelay.yaml",
		".igrelay.yml",
		filepath.Join(home, ".config", "igrelay", "config.yaml"),
		filepath.Join(home, ".config", "igrelay", "config.yml"),
		filepath.Join(home, ".igrelay.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram token is required"))
	}
	if c.Telegram.Workers <= 0 {
		errs = append(errs, errors.New("telegram workers must be positive"))
	}
	if c.Telegram.PollTimeout < 0 {
		errs = append(errs, errors.New("poll timeout cannot be negative"))
	}
	if c.Telegram.MessagesPerSecond <= 0 {
		errs = append(errs, errors.New("messages per second must be positive"))
	}

	if c.Instagram.RequestTimeout <= 0 {
		errs = append(errs, errors.New("instagram request timeout must be positive"))
	}
	if c.Instagram.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("instagram requests per minute must be positive"))
	}

	if c.Limits.MaxDownloadsPerUser <= 0 {
		errs = append(errs, errors.New("max downloads per user must be positive"))
	}
	if c.Limits.RateLimitSeconds < 0 {
		errs = append(errs, errors.New("rate limit seconds cannot be negative"))
	}
	validRollover := map[string]bool{"last_seen": true, "last_admitted": true}
	if !validRollover[c.Limits.Rollover] {
		errs = append(errs, fmt.Errorf("invalid rollover anchor %q", c.Limits.Rollover))
	}

	if c.Download.StagingDirectory == "" {
		errs = append(errs, errors.New("staging directory is required"))
	}
	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 10 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 10"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.MaxFileSize < 0 {
		errs = append(errs, errors.New("max file size cannot be negative"))
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		errs = append(errs, errors.New("metrics listen address is required when metrics are enabled"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// IsAdmin reports whether userID is listed as an admin
func (c *Config) IsAdmin(userID int64) bool {
	return containsID(c.Access.AdminIDs, userID)
}

// IsAllowed reports whether userID may use the bot. An empty allow list
// means the bot is public.
func (c *Config) IsAllowed(userID int64) bool {
	if len(c.Access.AllowedUsers) == 0 || c.IsAdmin(userID) {
		return true
	}
	return containsID(c.Access.AllowedUsers, userID)
}

// MinInterval returns the configured spacing between requests
func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.Limits.RateLimitSeconds) * time.Second
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if token, ok := flags["token"].(string); ok && token != "" {
		c.Telegram.Token = token
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Telegram.Workers = workers
	}
	if account, ok := flags["account"].(string); ok && account != "" {
		c.Instagram.Account = account
	}
	if maxDownloads, ok := flags["max-downloads"].(int); ok && maxDownloads > 0 {
		c.Limits.MaxDownloadsPerUser = maxDownloads
	}
	if interval, ok := flags["rate-limit"].(int); ok && interval >= 0 {
		c.Limits.RateLimitSeconds = interval
	}
	if dir, ok := flags["staging-dir"].(string); ok && dir != "" {
		c.Download.StagingDirectory = dir
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddress = addr
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igrelay.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

// parseIDList parses a comma separated list of Telegram user IDs
func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
