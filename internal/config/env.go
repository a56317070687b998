package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "FAMDIGEST"

// ApplyEnv overlays environment variables on top of a loaded config:
//
//	FAMDIGEST_WEBHOOK_URL    (or DISCORD_WEBHOOK_URL)
//	FAMDIGEST_OPENAI_API_KEY (or OPENAI_API_KEY)
//	FAMDIGEST_TIMEZONE
//	FAMDIGEST_LANGUAGE
//	FAMDIGEST_LOG_LEVEL
//	FAMDIGEST_USE_LLM
//	FAMDIGEST_SNAPSHOT_DIR
//
// Values present in the environment win over the file.
func ApplyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The unprefixed names are accepted as well.
	_ = v.BindEnv("webhook_url", EnvPrefix+"_WEBHOOK_URL", "DISCORD_WEBHOOK_URL")
	_ = v.BindEnv("openai_api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")

	if s := strings.TrimSpace(v.GetString("webhook_url")); s != "" {
		cfg.WebhookURL = s
	}
	if s := strings.TrimSpace(v.GetString("openai_api_key")); s != "" {
		cfg.LLM.APIKey = s
	}
	if s := strings.TrimSpace(v.GetString("timezone")); s != "" {
		cfg.Timezone = s
	}
	if s := strings.TrimSpace(v.GetString("language")); s != "" {
		cfg.Language = s
	}
	if s := strings.TrimSpace(v.GetString("log_level")); s != "" {
		cfg.LogLevel = s
	}
	if s := strings.TrimSpace(v.GetString("snapshot_dir")); s != "" {
		cfg.SnapshotDir = s
	}
	if v.IsSet("use_llm") {
		cfg.LLM.Enabled = v.GetBool("use_llm")
	}

	cfg.Normalize()
}
