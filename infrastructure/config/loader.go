package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediadrop/domain/storage"
	"mediadrop/infrastructure/ffmpeg"
	"mediadrop/infrastructure/objectstore"
)

// DefaultPath is where the CLI looks for its configuration
const DefaultPath = "config/config.yaml"

// Config represents the complete application configuration
type Config struct {
	CredentialsFile string          `yaml:"credentials_file"`
	LogLevel        string          `yaml:"log_level"`
	ColdStorage     BucketConfig    `yaml:"cold_storage"`
	Transcoded      BucketConfig    `yaml:"transcoded"`
	Thumbnails      ThumbnailConfig `yaml:"thumbnails"`
	Dropbox         DropboxConfig   `yaml:"dropbox"`
	Google          GoogleConfig    `yaml:"google"`
	Upload          UploadConfig    `yaml:"upload"`
	Quota           QuotaConfig     `yaml:"quota"`
	FFmpeg          FFmpegConfig    `yaml:"ffmpeg"`
	Share           ShareConfig     `yaml:"share"`
}

// BucketConfig addresses one bucket of an S3-compatible endpoint
type BucketConfig struct {
	objectstore.Config `yaml:",inline"`
	Bucket             string        `yaml:"bucket"`
	URLTTL             time.Duration `yaml:"url_ttl"`
}

// Enabled reports whether the bucket is configured
func (b BucketConfig) Enabled() bool {
	return b.Bucket != ""
}

// ThumbnailConfig contains the thumbnail cache bucket and output bounds
type ThumbnailConfig struct {
	BucketConfig `yaml:",inline"`
	MaxWidth     int  `yaml:"max_width"`
	MaxHeight    int  `yaml:"max_height"`
	Quality      int  `yaml:"quality"`
	MemoSize     int  `yaml:"memo_size"` // cached-thumbnail keys remembered in process
	UseGoCV      bool `yaml:"use_gocv"`
}

// DropboxConfig contains Dropbox app settings
type DropboxConfig struct {
	AppKey     string `yaml:"app_key"`
	AppSecret  string `yaml:"app_secret"`
	RootFolder string `yaml:"root_folder"`
}

// Enabled reports whether Dropbox is configured
func (d DropboxConfig) Enabled() bool {
	return d.AppKey != ""
}

// GoogleConfig contains Google API settings
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"` // OAuth client JSON
	RootFolderID    string `yaml:"root_folder_id"`
}

// Enabled reports whether Drive is configured
func (g GoogleConfig) Enabled() bool {
	return g.CredentialsFile != ""
}

// UploadConfig contains batch upload settings
type UploadConfig struct {
	Window      int     `yaml:"window"`
	MaxAttempts int     `yaml:"max_attempts"` // 0 is unbounded
	Jitter      float64 `yaml:"jitter"`
}

// QuotaConfig contains membership tiers and the fallback allocation
type QuotaConfig struct {
	Tiers                  []TierConfig `yaml:"tiers"`
	DefaultAllocationBytes int64        `yaml:"default_allocation_bytes"`
}

// TierConfig maps a membership substring to an allocation in GiB
type TierConfig struct {
	Match string `yaml:"match"`
	GiB   int64  `yaml:"gib"`
}

// FFmpegConfig contains transcoding settings
type FFmpegConfig struct {
	Path    string         `yaml:"path"`
	TempDir string         `yaml:"temp_dir"`
	Preset  *ffmpeg.Preset `yaml:"preset,omitempty"`
}

// ShareConfig contains public link settings
type ShareConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Default returns a configuration with every optional value filled in
func Default() *Config {
	cfg := &Config{
		CredentialsFile: "config/credentials.yaml",
		LogLevel:        "info",
		Dropbox:         DropboxConfig{RootFolder: "/mediadrop"},
		Google:          GoogleConfig{RootFolderID: "root"},
		Upload:          UploadConfig{Window: storage.DefaultUploadWindow},
		Thumbnails:      ThumbnailConfig{MaxWidth: 1024, MaxHeight: 768, Quality: 80, MemoSize: 4096},
		FFmpeg:          FFmpegConfig{Path: "ffmpeg"},
	}
	for _, tier := range storage.DefaultQuotaTable().Tiers {
		cfg.Quota.Tiers = append(cfg.Quota.Tiers, TierConfig{Match: tier.Match, GiB: tier.Bytes / storage.GiB})
	}
	return cfg
}

// Load reads and parses the configuration from the specified YAML file.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the specified YAML file
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	// secrets live in this file
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports every problem in the configuration at once
func (c *Config) Validate() error {
	var errs []error

	if c.CredentialsFile == "" {
		errs = append(errs, errors.New("credentials_file is required"))
	}
	if !c.ColdStorage.Enabled() && !c.Dropbox.Enabled() && !c.Google.Enabled() {
		errs = append(errs, errors.New("at least one of cold_storage, dropbox or google must be configured"))
	}
	if c.Transcoded.Enabled() && !c.ColdStorage.Enabled() {
		errs = append(errs, errors.New("transcoded requires cold_storage"))
	}
	if c.Dropbox.Enabled() && c.Dropbox.AppSecret == "" {
		errs = append(errs, errors.New("dropbox.app_secret is required with dropbox.app_key"))
	}
	if c.Upload.Window < 0 {
		errs = append(errs, fmt.Errorf("upload.window must not be negative, got %d", c.Upload.Window))
	}
	if c.Upload.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("upload.max_attempts must not be negative, got %d", c.Upload.MaxAttempts))
	}
	if c.Upload.Jitter < 0 || c.Upload.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("upload.jitter must be in [0, 1), got %v", c.Upload.Jitter))
	}
	if c.Quota.DefaultAllocationBytes < 0 {
		errs = append(errs, errors.New("quota.default_allocation_bytes must not be negative"))
	}
	for i, tier := range c.Quota.Tiers {
		if strings.TrimSpace(tier.Match) == "" {
			errs = append(errs, fmt.Errorf("quota.tiers[%d].match is required", i))
		}
		if tier.GiB <= 0 {
			errs = append(errs, fmt.Errorf("quota.tiers[%d].gib must be positive", i))
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// QuotaTable converts the configured tiers into the table the quota
// calculator uses
func (c *Config) QuotaTable() storage.QuotaTable {
	table := storage.QuotaTable{DefaultBytes: c.Quota.DefaultAllocationBytes}
	for _, tier := range c.Quota.Tiers {
		table.Tiers = append(table.Tiers, storage.QuotaTier{Match: tier.Match, Bytes: tier.GiB * storage.GiB})
	}
	return table
}

// BackoffPolicy converts the upload settings into a retry policy
func (c *Config) BackoffPolicy() storage.BackoffPolicy {
	policy := storage.DefaultBackoffPolicy()
	policy.MaxAttempts = c.Upload.MaxAttempts
	policy.Jitter = c.Upload.Jitter
	return policy
}

// ParseLevel converts a log level name to a slog level
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", name)
	}
	return level, nil
}
