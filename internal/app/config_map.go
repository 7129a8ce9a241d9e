package app

import (
	"fmt"
	"strings"
	"time"

	"noticebot/internal/broadcast"
	"noticebot/internal/config"
	"noticebot/internal/delivery"
	"noticebot/internal/dispatch"
	"noticebot/internal/fetch"
	"noticebot/internal/intake"
	"noticebot/internal/operator"
	"noticebot/internal/retry"
	"noticebot/internal/session"
	"noticebot/internal/storage"
	"noticebot/internal/waha"
	"noticebot/internal/watchdog"
	"noticebot/internal/webhook"
	"noticebot/pkg/logx"
)

const (
	defaultSession     = "default"
	defaultWAHATimeout = 60 * time.Second
	defaultMetricsPath = "/metrics"
	mib                = int64(1 << 20)
)

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.Duration(path, raw, def)
}

func sessionName(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.WAHA.Session); s != "" {
		return s
	}
	return defaultSession
}

func mapWAHAConfig(cfg *config.Config) (waha.Config, error) {
	timeout, err := parseDurationOrDefault("waha.timeout", cfg.WAHA.Timeout, defaultWAHATimeout)
	if err != nil {
		return waha.Config{}, err
	}
	return waha.Config{BaseURL: cfg.WAHA.URL, APIKey: cfg.WAHA.APIKey, Timeout: timeout}, nil
}

func mapSessionConfig(cfg *config.Config) (session.Config, error) {
	poll, err := parseDurationOrDefault("auth.poll_interval", cfg.Auth.PollInterval, session.DefaultPollInterval)
	if err != nil {
		return session.Config{}, err
	}
	starting, err := parseDurationOrDefault("auth.starting_timeout", cfg.Auth.StartingTimeout, session.DefaultStartingTimeout)
	if err != nil {
		return session.Config{}, err
	}
	window, err := parseDurationOrDefault("auth.qr_window", cfg.Auth.QRWindow, session.DefaultQRWindow)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		PollInterval:    poll,
		StartingTimeout: starting,
		QRWindow:        window,
		QRAttempts:      cfg.Auth.QRAttempts,
	}, nil
}

func mapFetchConfig(cfg *config.Config) (fetch.Config, error) {
	a := cfg.Attachment
	timeout, err := parseDurationOrDefault("attachment.timeout", a.Timeout, 0)
	if err != nil {
		return fetch.Config{}, err
	}
	base, err := parseDurationOrDefault("attachment.retry_base", a.RetryBase, time.Second)
	if err != nil {
		return fetch.Config{}, err
	}
	maxDelay, err := parseDurationOrDefault("attachment.retry_max_delay", a.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return fetch.Config{}, err
	}
	return fetch.Config{
		Timeout:   timeout,
		PartSize:  int64(a.PartSizeMB) * mib,
		HardLimit: int64(a.HardLimitMB) * mib,
		Retry:     retry.Policy{Attempts: a.RetryMax, Initial: base, Max: maxDelay},
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	d := cfg.Delivery
	base, err := parseDurationOrDefault("delivery.retry_base", d.RetryBase, time.Second)
	if err != nil {
		return delivery.Config{}, err
	}
	maxDelay, err := parseDurationOrDefault("delivery.retry_max_delay", d.RetryMaxDelay, delivery.DefaultMaxDelay)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		Retry:      retry.Policy{Attempts: d.RetryMax, Initial: base, Max: maxDelay},
		RatePerSec: d.RatePerSec,
		Burst:      d.Burst,
	}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	pause, err := parseDurationOrDefault("attachment.part_pause", cfg.Attachment.PartPause, broadcast.DefaultPartPause)
	if err != nil {
		return broadcast.Config{}, err
	}
	chats := make([]string, 0, len(cfg.Chats))
	for _, c := range cfg.Chats {
		if c = strings.TrimSpace(c); c != "" {
			chats = append(chats, c)
		}
	}
	return broadcast.Config{
		Chats:     chats,
		PartSize:  int64(cfg.Attachment.PartSizeMB) * mib,
		PartPause: pause,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatcher
	window, err := parseDurationOrDefault("dispatcher.dedup_window", d.DedupWindow, 24*time.Hour)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		QueueSize:       d.QueueSize,
		DedupWindow:     window,
		DedupMaxEntries: d.DedupMaxEntries,
		PersistDedup:    d.PersistDedup,
		HistorySize:     d.HistorySize,
	}, nil
}

func mapWebhookConfig(cfg *config.Config) (webhook.Config, bool, error) {
	w := cfg.Webhook
	if !w.Enabled {
		return webhook.Config{}, false, nil
	}
	rt, err := parseDurationOrDefault("webhook.read_timeout", w.ReadTimeout, 0)
	if err != nil {
		return webhook.Config{}, false, err
	}
	wt, err := parseDurationOrDefault("webhook.write_timeout", w.WriteTimeout, 0)
	if err != nil {
		return webhook.Config{}, false, err
	}
	out := webhook.Config{
		Addr:         w.Addr,
		Secret:       w.Secret,
		MaxBodyBytes: w.MaxBodyBytes,
		RatePerSec:   w.RatePerSec,
		ReadTimeout:  rt,
		WriteTimeout: wt,
	}
	if cfg.Metrics.Enabled {
		out.MetricsPath = defaultMetricsPath
		if p := strings.TrimSpace(cfg.Metrics.Path); p != "" {
			out.MetricsPath = p
		}
	}
	return out, true, nil
}

func mapIntakeConfig(cfg *config.Config) (intake.Config, bool) {
	a := cfg.AMQP
	if a == nil || !a.Enabled {
		return intake.Config{}, false
	}
	return intake.Config{URL: a.URL, Queue: a.Queue, Prefetch: a.Prefetch}, true
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	dl := strings.ToLower(driver)
	switch dl {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: dl, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapWatchdogConfig(cfg *config.Config) (watchdog.Config, bool) {
	if !cfg.Watchdog.Enabled {
		return watchdog.Config{}, false
	}
	return watchdog.Config{Schedule: cfg.Watchdog.ScheduleOrDefault(), Timezone: cfg.Watchdog.Timezone}, true
}

func mapTelegramConfig(cfg *config.Config) (operator.TelegramConfig, bool) {
	if !cfg.Operator.TelegramEnabled() {
		return operator.TelegramConfig{}, false
	}
	return operator.TelegramConfig{Token: cfg.Operator.TelegramToken, ChatID: cfg.Operator.ChatID}, true
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Operator.Enabled,
			MinLevel:   cfg.Logging.Operator.MinLevel,
			RatePerSec: cfg.Logging.Operator.RatePerSec,
		},
	}
}

// validateMapping runs every mapper so a reload that would not map cleanly is
// rejected before commit.
func validateMapping(cfg *config.Config) error {
	if _, err := mapWAHAConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSessionConfig(cfg); err != nil {
		return err
	}
	if _, err := mapFetchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDeliveryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapWebhookConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
