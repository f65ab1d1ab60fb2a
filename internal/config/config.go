// Package config provides the application configuration model with
// YAML-file loading and environment overlay.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pschmitt/jcalapi/internal/model"
)

// WikiConfig holds credentials for the wiki team-calendar backend.
type WikiConfig struct {
	// URL is the wiki base URL (e.g. "https://wiki.example.com").
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	// ConvertEmail enables the email-to-display-name heuristic for
	// organizers and attendees.
	ConvertEmail bool `yaml:"convert_email" json:"convert_email"`
}

// Complete reports whether the backend has everything it needs to fetch.
func (c WikiConfig) Complete() bool {
	return c.URL != "" && c.Username != "" && c.Password != ""
}

// MailboxConfig holds credentials for the Exchange-style mailbox backend.
type MailboxConfig struct {
	Email    string `yaml:"email" json:"email"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	// SharedInboxes lists additional mailbox addresses whose calendars are
	// aggregated alongside the primary account calendar.
	SharedInboxes []string `yaml:"shared_inboxes" json:"shared_inboxes"`
	// Autodiscovery selects the default service endpoint; when disabled,
	// ServiceEndpoint must be set.
	Autodiscovery   bool   `yaml:"autodiscovery" json:"autodiscovery"`
	ServiceEndpoint string `yaml:"service_endpoint" json:"service_endpoint"`
}

func (c MailboxConfig) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// GoogleConfig holds credentials for the Google Calendar backend.
type GoogleConfig struct {
	// Credentials is the path to the OAuth client credentials JSON file.
	Credentials string `yaml:"credentials" json:"credentials"`
	// CalendarRegex filters calendars by display name. Empty matches all.
	CalendarRegex string `yaml:"calendar_regex" json:"calendar_regex"`
}

func (c GoogleConfig) Complete() bool {
	return c.Credentials != ""
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// CacheDir is where event lists are persisted across restarts.
	CacheDir string `yaml:"cache_dir"`

	// RefreshCron is a cron-style schedule for periodic refresh.
	RefreshCron string `yaml:"refresh"`

	// PastDays / FutureDays bound the refresh window around "now".
	PastDays   int `yaml:"past_days_import"`
	FutureDays int `yaml:"future_days_import"`

	LogLevel string `yaml:"log_level"`

	Wiki    WikiConfig    `yaml:"wiki"`
	Mailbox MailboxConfig `yaml:"mailbox"`
	Google  GoogleConfig  `yaml:"google"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cacheDir := "./var/jcalapi-cache"
	if base, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(base, "jcalapi")
	}
	return &Config{
		Listen:      "127.0.0.1:7042",
		CacheDir:    cacheDir,
		RefreshCron: "@every 5m",
		PastDays:    0,
		FutureDays:  14,
		LogLevel:    "info",
		Mailbox:     MailboxConfig{Autodiscovery: true},
	}
}

// Normalize fills missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.PastDays < 0 {
		c.PastDays = 0
	}
	if c.FutureDays <= 0 {
		c.FutureDays = def.FutureDays
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Mailbox.Email == "" {
		c.Mailbox.Email = c.Mailbox.Username
	}
}

// Load loads configuration from the given YAML path and then applies
// environment overrides. An empty path skips the file entirely; a missing
// file is created with defaults first.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
		case err != nil:
			return nil, err
		default:
			cfg = &Config{}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.ApplyEnv()
	cfg.Normalize()
	return cfg, nil
}

// Save writes the configuration atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".jcalapi-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ApplyEnv overlays environment variables onto the configuration. Variable
// names match the original deployment surface (CONFLUENCE_*, EXCHANGE_*,
// GOOGLE_*).
func (c *Config) ApplyEnv() {
	setString(&c.Listen, "LISTEN")
	setString(&c.CacheDir, "CACHE_DIR")
	setString(&c.RefreshCron, "REFRESH_CRON")
	setString(&c.LogLevel, "LOG_LEVEL")
	setInt(&c.PastDays, "PAST_DAYS_IMPORT")
	setInt(&c.FutureDays, "FUTURE_DAYS_IMPORT")

	setString(&c.Wiki.URL, "CONFLUENCE_URL")
	setString(&c.Wiki.Username, "CONFLUENCE_USERNAME")
	setString(&c.Wiki.Password, "CONFLUENCE_PASSWORD")
	setBool(&c.Wiki.ConvertEmail, "CONFLUENCE_CONVERT_EMAIL")

	setString(&c.Mailbox.Email, "EXCHANGE_EMAIL")
	setString(&c.Mailbox.Username, "EXCHANGE_USERNAME")
	setString(&c.Mailbox.Password, "EXCHANGE_PASSWORD")
	setBool(&c.Mailbox.Autodiscovery, "EXCHANGE_AUTODISCOVERY")
	setString(&c.Mailbox.ServiceEndpoint, "EXCHANGE_SERVICE_ENDPOINT")
	if v := os.Getenv("EXCHANGE_SHARED_INBOXES"); v != "" {
		c.Mailbox.SharedInboxes = splitList(v)
	}

	setString(&c.Google.Credentials, "GOOGLE_CREDENTIALS")
	setString(&c.Google.CalendarRegex, "GOOGLE_CALENDAR_REGEX")
}

// Window computes the refresh window around now: local midnight minus
// PastDays up to local midnight plus FutureDays.
func (c *Config) Window(now time.Time) model.Window {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return model.Window{
		Start: midnight.AddDate(0, 0, -c.PastDays),
		End:   midnight.AddDate(0, 0, c.FutureDays),
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "yes", "1", "enable":
		*dst = true
	case "false", "no", "0", "disable":
		*dst = false
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
