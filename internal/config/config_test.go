package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != "Europe/Stockholm" || cfg.Language != "sv" {
		t.Errorf("defaults = %q %q", cfg.Timezone, cfg.Language)
	}
	if cfg.Schedule.Full != "0 18 * * 0" || cfg.Schedule.Check != "0 7 * * 1-5" {
		t.Errorf("schedule = %+v", cfg.Schedule)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Language = "en"
	cfg.WebhookURL = "https://discord.example/api/webhooks/1/x"
	cfg.FetchTimeout = 7 * time.Second
	cfg.People = []PersonConfig{{Name: "Alice", Class: "5A", SchoolURL: "https://school.example/5a"}}
	cfg.Calendars = []CalendarConfig{{Names: []string{"Familjen"}, URL: "webcal://cal.example/f.ics"}}
	cfg.School.NoiseRules = []NoiseRuleConfig{{Match: "exact", Pattern: "se planering", Reason: "index"}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Language != "en" || got.WebhookURL != cfg.WebhookURL || got.FetchTimeout != 7*time.Second {
		t.Errorf("got %+v", got)
	}
	if len(got.People) != 1 || got.People[0].Class != "5A" {
		t.Errorf("people = %+v", got.People)
	}
	if len(got.Calendars) != 1 || !got.CalendarSources()[0].IsFamily() {
		t.Errorf("calendars = %+v", got.Calendars)
	}
	if len(got.School.NoiseRules) != 1 || got.School.NoiseRules[0].Pattern != "se planering" {
		t.Errorf("noise rules = %+v", got.School.NoiseRules)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("people: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestNormalize(t *testing.T) {
	cfg := &Config{Language: " EN ", LLM: LLMConfig{Timeout: -1}}
	cfg.Normalize()
	if cfg.Language != "en" {
		t.Errorf("language = %q", cfg.Language)
	}
	if cfg.LLM.Timeout != 60*time.Second || cfg.LLM.MaxInputChars != 30000 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.School.ContextMaxLines != 3 || cfg.School.ContextMaxChars != 240 {
		t.Errorf("school = %+v", cfg.School)
	}
	if cfg.People == nil || cfg.Calendars == nil {
		t.Error("nil lists after Normalize")
	}

	cfg = &Config{Language: "de"}
	cfg.Normalize()
	if cfg.Language != "sv" {
		t.Errorf("unknown language kept: %q", cfg.Language)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Timezone = "UTC"
		cfg.WebhookURL = "https://discord.example/hook"
		cfg.People = []PersonConfig{{Name: "Alice"}, {Name: "Bob"}}
		cfg.Calendars = []CalendarConfig{{Names: []string{"Alice"}, URL: "https://cal.example/a.ics"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		webhook bool
		want    error
	}{
		{name: "ok", mutate: func(*Config) {}, webhook: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, want: ErrInvalidConfig},
		{name: "empty name", mutate: func(c *Config) { c.People[0].Name = " " }, want: ErrInvalidConfig},
		{name: "duplicate", mutate: func(c *Config) { c.People[1].Name = "Alice" }, want: ErrInvalidConfig},
		{name: "family name reserved", mutate: func(c *Config) { c.People[0].Name = "Familjen" }, want: ErrInvalidConfig},
		{name: "calendar without url", mutate: func(c *Config) { c.Calendars[0].URL = "" }, want: ErrInvalidConfig},
		{name: "calendar without names", mutate: func(c *Config) { c.Calendars[0].Names = nil }, want: ErrInvalidConfig},
		{name: "bad rule kind", mutate: func(c *Config) {
			c.School.NoiseRules = []NoiseRuleConfig{{Match: "glob", Pattern: "x"}}
		}, want: ErrInvalidConfig},
		{name: "missing webhook", mutate: func(c *Config) { c.WebhookURL = "" }, webhook: true, want: ErrMissingWebhook},
		{name: "missing webhook on dry run", mutate: func(c *Config) { c.WebhookURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate(tt.webhook)
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("FAMDIGEST_WEBHOOK_URL", "")
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.example/api/webhooks/9/legacy")
	t.Setenv("FAMDIGEST_OPENAI_API_KEY", "sk-prefixed")
	t.Setenv("OPENAI_API_KEY", "sk-bare")
	t.Setenv("FAMDIGEST_TIMEZONE", "UTC")
	t.Setenv("FAMDIGEST_LANGUAGE", "EN")
	t.Setenv("FAMDIGEST_USE_LLM", "true")

	cfg := DefaultConfig()
	cfg.WebhookURL = "https://discord.example/from-file"
	ApplyEnv(cfg)

	if cfg.WebhookURL != "https://discord.example/api/webhooks/9/legacy" {
		t.Errorf("webhook = %q", cfg.WebhookURL)
	}
	if cfg.LLM.APIKey != "sk-prefixed" {
		t.Errorf("api key = %q, prefixed name should win", cfg.LLM.APIKey)
	}
	if cfg.Timezone != "UTC" || cfg.Language != "en" || !cfg.LLM.Enabled {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestApplyEnvKeepsFileValues(t *testing.T) {
	for _, k := range []string{"FAMDIGEST_WEBHOOK_URL", "DISCORD_WEBHOOK_URL", "FAMDIGEST_TIMEZONE", "FAMDIGEST_USE_LLM"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	cfg := DefaultConfig()
	cfg.WebhookURL = "https://discord.example/from-file"
	cfg.LLM.Enabled = true
	ApplyEnv(cfg)

	if cfg.WebhookURL != "https://discord.example/from-file" || !cfg.LLM.Enabled {
		t.Errorf("file values overwritten: %+v", cfg)
	}
	if !strings.HasPrefix(cfg.Timezone, "Europe/") {
		t.Errorf("timezone = %q", cfg.Timezone)
	}
}
