package config

import (
	"strings"
)

// Environment variables that override file values when set and non-empty.
const (
	EnvWAHAURL       = "WAHA_URL"
	EnvWAHAAPIKey    = "WAHA_API_KEY"
	EnvWAHASession   = "WAHA_SESSION"
	EnvWebhookSecret = "WEBHOOK_SECRET"
	EnvGroupIDs      = "GROUP_IDS"
	EnvTelegramToken = "TELEGRAM_TOKEN"
)

// ApplyEnv overlays environment overrides onto cfg. GROUP_IDS is a comma
// separated list that replaces chats entirely.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.WAHA.URL, EnvWAHAURL)
	set(&cfg.WAHA.APIKey, EnvWAHAAPIKey)
	set(&cfg.WAHA.Session, EnvWAHASession)
	set(&cfg.Webhook.Secret, EnvWebhookSecret)
	set(&cfg.Operator.TelegramToken, EnvTelegramToken)

	if v := strings.TrimSpace(getenv(EnvGroupIDs)); v != "" {
		cfg.Chats = splitList(v)
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
