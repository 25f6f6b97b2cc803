package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the local UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// PortalURL is the base URL of the academic portal.
	PortalURL string `yaml:"portal_url" json:"portal_url"`

	// SchedulePath is the path of the week-view schedule report page,
	// relative to PortalURL.
	SchedulePath string `yaml:"schedule_path" json:"schedule_path"`

	// Timezone is the institution's IANA timezone (e.g. "Asia/Ho_Chi_Minh").
	// Exported event times stay floating in this zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// StoragePath is the SQLite database file holding the schedule and
	// session state.
	StoragePath string `yaml:"storage_path" json:"storage_path"`

	// RangePastDays / RangeFutureDays define the default scrape window
	// around today when no explicit dates are given.
	RangePastDays   int `yaml:"range_past_days" json:"range_past_days"`
	RangeFutureDays int `yaml:"range_future_days" json:"range_future_days"`

	// WaitMs is the settle delay after each week selection, in milliseconds.
	// The readiness poll runs for up to twice this value.
	WaitMs int `yaml:"wait_ms" json:"wait_ms"`

	// RetryPerWeek bounds extraction attempts for a single week.
	RetryPerWeek int `yaml:"retry_per_week" json:"retry_per_week"`

	// AuthCacheMinutes is the TTL of a cached login-check result.
	AuthCacheMinutes int `yaml:"auth_cache_minutes" json:"auth_cache_minutes"`

	// RefreshCron is a cron-style schedule for automatic merge-mode scrapes
	// in serve mode. Empty disables auto-sync.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Headless controls whether the driven Chromium runs headless.
	Headless bool `yaml:"headless" json:"headless"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           "127.0.0.1:8090",
		PortalURL:        "https://fap.fpt.edu.vn",
		SchedulePath:     "/Report/ScheduleOfWeek.aspx",
		Timezone:         "Asia/Ho_Chi_Minh",
		StoragePath:      "./fptucal.db",
		RangePastDays:    7,
		RangeFutureDays:  28,
		WaitMs:           1500,
		RetryPerWeek:     3,
		AuthCacheMinutes: 30,
		RefreshCron:      "",
		Headless:         true,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.PortalURL == "" {
		c.PortalURL = def.PortalURL
	}
	if c.SchedulePath == "" {
		c.SchedulePath = def.SchedulePath
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.StoragePath == "" {
		c.StoragePath = def.StoragePath
	}
	if c.RangePastDays < 0 {
		c.RangePastDays = def.RangePastDays
	}
	if c.RangeFutureDays <= 0 {
		c.RangeFutureDays = def.RangeFutureDays
	}
	if c.WaitMs <= 0 {
		c.WaitMs = def.WaitMs
	}
	if c.RetryPerWeek <= 0 {
		c.RetryPerWeek = def.RetryPerWeek
	}
	if c.AuthCacheMinutes <= 0 {
		c.AuthCacheMinutes = def.AuthCacheMinutes
	}
}

// ScheduleURL returns the absolute URL of the week-view schedule page.
func (c *Config) ScheduleURL() string {
	return c.PortalURL + c.SchedulePath
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed, write a
//     default config with 0600 perms, and return the default config.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// The write is atomic: marshal to a temp file in the target directory, chmod
// 0600, then rename over the destination.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".fptucal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
