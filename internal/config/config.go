package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"famdigest/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Secrets are usually supplied through the environment; see
// env.go.

var (
	// ErrMissingWebhook means a delivering run has nowhere to deliver to.
	ErrMissingWebhook = errors.New("webhook_url is not set")
	// ErrInvalidConfig wraps every other validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// PersonConfig describes one tracked person and their school class page.
type PersonConfig struct {
	Name string `yaml:"name" json:"name"`
	// Class is shown next to the name in the school section, e.g. "8B".
	Class string `yaml:"class,omitempty" json:"class,omitempty"`
	// SchoolURL is the class page to scrape. Empty means no school section.
	SchoolURL string `yaml:"school_url,omitempty" json:"school_url,omitempty"`
}

// CalendarConfig describes a single ICS subscription source.
type CalendarConfig struct {
	// Names lists the people the calendar belongs to. Use "Familjen" for a
	// whole-family calendar.
	Names []string `yaml:"names" json:"names"`
	// URL is the ICS subscription endpoint (webcal:// is accepted).
	URL string `yaml:"url" json:"url"`
}

// ScheduleConfig holds cron specs used by `famdigest serve`.
type ScheduleConfig struct {
	Full  string `yaml:"full" json:"full"`
	Check string `yaml:"check" json:"check"`
}

// LLMConfig controls the optional composition call.
type LLMConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Model    string `yaml:"model" json:"model"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// APIKey is normally left empty and read from the environment.
	APIKey        string        `yaml:"api_key,omitempty" json:"-"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	MaxInputChars int           `yaml:"max_input_chars" json:"max_input_chars"`
}

// NoiseRuleConfig is one row of the school line drop table.
type NoiseRuleConfig struct {
	// Match is "exact" or "regexp".
	Match   string `yaml:"match" json:"match"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Reason  string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// SchoolConfig tunes the school page filter. Empty lists mean the built-in
// defaults of the school package.
type SchoolConfig struct {
	Subjects        []string          `yaml:"subjects,omitempty" json:"subjects,omitempty"`
	NoiseRules      []NoiseRuleConfig `yaml:"noise_rules,omitempty" json:"noise_rules,omitempty"`
	ContextMaxLines int               `yaml:"context_max_lines" json:"context_max_lines"`
	ContextMaxChars int               `yaml:"context_max_chars" json:"context_max_chars"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address used by `serve`.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone all week and day math happens in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Language selects digest wording: "sv" (default) or "en".
	Language string `yaml:"language" json:"language"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// WebhookURL is the Discord webhook the digest is posted to.
	WebhookURL string `yaml:"webhook_url,omitempty" json:"-"`

	// FetchTimeout bounds each school page and calendar fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`

	// CacheDir holds the ICS conditional-GET cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// SnapshotDir is the badger directory holding the rolling snapshot.
	SnapshotDir string `yaml:"snapshot_dir" json:"snapshot_dir"`

	// MetricsTextfile, if set, receives a node-exporter textfile after
	// every one-shot run.
	MetricsTextfile string `yaml:"metrics_textfile,omitempty" json:"metrics_textfile,omitempty"`

	People    []PersonConfig   `yaml:"people" json:"people"`
	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	School   SchoolConfig   `yaml:"school" json:"school"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "Europe/Stockholm"
	defaultLanguage     = "sv"
	defaultFetchTimeout = 15 * time.Second
	defaultScheduleFull = "0 18 * * 0"
	defaultScheduleChk  = "0 7 * * 1-5"
	defaultLLMModel     = "gpt-4o-mini"
	defaultLLMEndpoint  = "https://api.openai.com/v1/chat/completions"
	defaultLLMTimeout   = 60 * time.Second
	defaultLLMMaxInput  = 30000
	defaultCtxLines     = 3
	defaultCtxChars     = 240
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		CacheDir:    "./var/ics-cache",
		SnapshotDir: "./var/snapshot",
		People:      []PersonConfig{},
		Calendars:   []CalendarConfig{},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.Language = strings.ToLower(strings.TrimSpace(c.Language))
	switch c.Language {
	case "sv", "en":
	default:
		// Unknown value; the digest falls back to Swedish.
		c.Language = defaultLanguage
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = "./var/snapshot"
	}
	if c.Schedule.Full == "" {
		c.Schedule.Full = defaultScheduleFull
	}
	if c.Schedule.Check == "" {
		c.Schedule.Check = defaultScheduleChk
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.Endpoint == "" {
		c.LLM.Endpoint = defaultLLMEndpoint
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = defaultLLMTimeout
	}
	if c.LLM.MaxInputChars <= 0 {
		c.LLM.MaxInputChars = defaultLLMMaxInput
	}
	if c.School.ContextMaxLines <= 0 {
		c.School.ContextMaxLines = defaultCtxLines
	}
	if c.School.ContextMaxChars <= 0 {
		c.School.ContextMaxChars = defaultCtxChars
	}
	if c.People == nil {
		c.People = []PersonConfig{}
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
}

// Validate reports configuration-level problems that must abort a run.
// requireWebhook is false for dry runs, which never deliver.
func (c *Config) Validate(requireWebhook bool) error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}

	seen := make(map[string]bool, len(c.People))
	for i, p := range c.People {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("%w: people[%d] has no name", ErrInvalidConfig, i)
		}
		if model.IsFamilyName(name) {
			return fmt.Errorf("%w: %q is reserved for family calendars", ErrInvalidConfig, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate person %q", ErrInvalidConfig, name)
		}
		seen[name] = true
	}

	for i, cal := range c.Calendars {
		if strings.TrimSpace(cal.URL) == "" {
			return fmt.Errorf("%w: calendars[%d] has no url", ErrInvalidConfig, i)
		}
		if len(cal.Names) == 0 {
			return fmt.Errorf("%w: calendars[%d] has no names", ErrInvalidConfig, i)
		}
	}

	for i, r := range c.School.NoiseRules {
		switch r.Match {
		case "exact", "regexp":
		default:
			return fmt.Errorf("%w: school.noise_rules[%d]: match must be exact or regexp, got %q", ErrInvalidConfig, i, r.Match)
		}
	}

	if requireWebhook && strings.TrimSpace(c.WebhookURL) == "" {
		return ErrMissingWebhook
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}

// PeopleModels converts the configured people, preserving their order.
func (c *Config) PeopleModels() []model.Person {
	out := make([]model.Person, 0, len(c.People))
	for _, p := range c.People {
		out = append(out, model.Person{
			Name:      strings.TrimSpace(p.Name),
			Class:     strings.TrimSpace(p.Class),
			SchoolURL: strings.TrimSpace(p.SchoolURL),
		})
	}
	return out
}

// CalendarSources converts the configured calendars.
func (c *Config) CalendarSources() []model.CalendarSource {
	out := make([]model.CalendarSource, 0, len(c.Calendars))
	for _, cal := range c.Calendars {
		names := make([]string, 0, len(cal.Names))
		for _, n := range cal.Names {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		out = append(out, model.CalendarSource{Names: names, URL: strings.TrimSpace(cal.URL)})
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
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
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".famdigest-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
