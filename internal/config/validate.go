package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks cfg after environment overrides were applied. It reports
// every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(validateHTTPURL("waha.url", cfg.WAHA.URL))

	if len(cfg.Chats) == 0 {
		add(errors.New("chats: at least one chat id is required"))
	}
	seen := make(map[string]struct{}, len(cfg.Chats))
	for i, c := range cfg.Chats {
		c = strings.TrimSpace(c)
		if c == "" {
			add(fmt.Errorf("chats[%d]: empty chat id", i))
			continue
		}
		if _, dup := seen[c]; dup {
			add(fmt.Errorf("chats[%d]: duplicate chat id %q", i, c))
		}
		seen[c] = struct{}{}
	}

	durations := []struct{ path, raw string }{
		{"waha.timeout", cfg.WAHA.Timeout},
		{"auth.poll_interval", cfg.Auth.PollInterval},
		{"auth.starting_timeout", cfg.Auth.StartingTimeout},
		{"auth.qr_window", cfg.Auth.QRWindow},
		{"attachment.timeout", cfg.Attachment.Timeout},
		{"attachment.part_pause", cfg.Attachment.PartPause},
		{"attachment.retry_base", cfg.Attachment.RetryBase},
		{"attachment.retry_max_delay", cfg.Attachment.RetryMaxDelay},
		{"delivery.retry_base", cfg.Delivery.RetryBase},
		{"delivery.retry_max_delay", cfg.Delivery.RetryMaxDelay},
		{"dispatcher.dedup_window", cfg.Dispatcher.DedupWindow},
		{"webhook.read_timeout", cfg.Webhook.ReadTimeout},
		{"webhook.write_timeout", cfg.Webhook.WriteTimeout},
	}
	if cfg.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	for _, d := range durations {
		_, err := checkDuration(d.path, d.raw)
		add(err)
	}

	if cfg.Auth.QRAttempts < 0 {
		add(errors.New("auth.qr_attempts must be >= 0"))
	}
	if cfg.Attachment.PartSizeMB < 0 || cfg.Attachment.HardLimitMB < 0 {
		add(errors.New("attachment sizes must be >= 0"))
	}
	if cfg.Attachment.HardLimitMB > 0 && cfg.Attachment.HardLimitMB < cfg.Attachment.PartSizeMB {
		add(errors.New("attachment.hard_limit_mb must be >= attachment.part_size_mb"))
	}
	if cfg.Attachment.RetryMax < 0 || cfg.Delivery.RetryMax < 0 {
		add(errors.New("retry_max must be >= 0"))
	}
	if cfg.Delivery.RatePerSec < 0 || cfg.Webhook.RatePerSec < 0 {
		add(errors.New("rate_per_sec must be >= 0"))
	}

	if cfg.Webhook.Enabled && strings.TrimSpace(cfg.Webhook.Secret) == "" {
		add(errors.New("webhook.secret is required when webhook.enabled"))
	}
	if cfg.Metrics.Enabled && !cfg.Webhook.Enabled {
		add(errors.New("metrics.enabled requires webhook.enabled"))
	}

	if a := cfg.AMQP; a != nil && a.Enabled {
		if strings.TrimSpace(a.URL) == "" || strings.TrimSpace(a.Queue) == "" {
			add(errors.New("amqp.url and amqp.queue are required when amqp.enabled"))
		}
	}

	if cfg.Logging.Operator.Enabled && !cfg.Operator.TelegramEnabled() {
		add(errors.New("logging.operator requires operator.telegram_token and operator.chat_id"))
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			add(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
		}
	}

	if cfg.Watchdog.Enabled {
		if _, err := cron.ParseStandard(cfg.Watchdog.ScheduleOrDefault()); err != nil {
			add(fmt.Errorf("watchdog.schedule: %w", err))
		}
		if tz := strings.TrimSpace(cfg.Watchdog.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add(fmt.Errorf("watchdog.timezone: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}

func validateHTTPURL(path, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s is required", path)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: must be an http(s) url", path)
	}
	return nil
}

// TelegramEnabled reports whether a Telegram operator chat is configured.
func (o OperatorConfig) TelegramEnabled() bool {
	return strings.TrimSpace(o.TelegramToken) != "" && o.ChatID != 0
}

const DefaultWatchdogSchedule = "@every 5m"

func (w WatchdogConfig) ScheduleOrDefault() string {
	if s := strings.TrimSpace(w.Schedule); s != "" {
		return s
	}
	return DefaultWatchdogSchedule
}
