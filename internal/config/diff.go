package config

import (
	"encoding/json"
	"reflect"
	"strings"

	"noticebot/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed top-level sections, (2) safe
// structured attrs for logging (never secrets) and (3) the changed sections
// that only take effect after a restart. Only logging is applied live.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	// WAHA (never log api key)
	if strings.TrimSpace(oldCfg.WAHA.URL) != strings.TrimSpace(newCfg.WAHA.URL) ||
		oldCfg.WAHA.Session != newCfg.WAHA.Session ||
		oldCfg.WAHA.Timeout != newCfg.WAHA.Timeout ||
		oldCfg.WAHA.APIKey != newCfg.WAHA.APIKey {
		changed = append(changed, "waha")
		attrs = append(attrs,
			logx.String("waha.url", strings.TrimSpace(newCfg.WAHA.URL)),
			logx.String("waha.session", newCfg.WAHA.Session),
			logx.Bool("waha.api_key_set", newCfg.WAHA.APIKey != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Chats, newCfg.Chats) {
		changed = append(changed, "chats")
		attrs = append(attrs, logx.Int("chats.count", len(newCfg.Chats)))
	}

	if oldCfg.Auth != newCfg.Auth {
		changed = append(changed, "auth")
		attrs = append(attrs, logx.Int("auth.qr_attempts", newCfg.Auth.QRAttempts))
	}
	if oldCfg.Attachment != newCfg.Attachment {
		changed = append(changed, "attachment")
		attrs = append(attrs, logx.Int("attachment.part_size_mb", newCfg.Attachment.PartSizeMB))
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
	}
	if oldCfg.Dispatcher != newCfg.Dispatcher {
		changed = append(changed, "dispatcher")
	}

	// Webhook (never log secret)
	ow, nw := oldCfg.Webhook, newCfg.Webhook
	if ow.Enabled != nw.Enabled || ow.Addr != nw.Addr || ow.MaxBodyBytes != nw.MaxBodyBytes ||
		ow.RatePerSec != nw.RatePerSec || ow.ReadTimeout != nw.ReadTimeout ||
		ow.WriteTimeout != nw.WriteTimeout || ow.Secret != nw.Secret {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.Bool("webhook.enabled", nw.Enabled),
			logx.String("webhook.addr", nw.Addr),
			logx.Bool("webhook.secret_set", nw.Secret != ""),
		)
	}

	// AMQP (url carries credentials)
	if !jsonEqual(oldCfg.AMQP, newCfg.AMQP) {
		changed = append(changed, "amqp")
		if newCfg.AMQP != nil {
			attrs = append(attrs,
				logx.Bool("amqp.enabled", newCfg.AMQP.Enabled),
				logx.String("amqp.queue", newCfg.AMQP.Queue),
			)
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.operator_enabled", newCfg.Logging.Operator.Enabled),
		)
	}

	// Operator (never log token)
	if oldCfg.Operator != newCfg.Operator {
		changed = append(changed, "operator")
		attrs = append(attrs,
			logx.Bool("operator.telegram", newCfg.Operator.TelegramEnabled()),
			logx.String("operator.qr_path", newCfg.Operator.QRPath),
		)
	}

	if !jsonEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
	}
	if oldCfg.Watchdog != newCfg.Watchdog {
		changed = append(changed, "watchdog")
		attrs = append(attrs,
			logx.Bool("watchdog.enabled", newCfg.Watchdog.Enabled),
			logx.String("watchdog.schedule", newCfg.Watchdog.ScheduleOrDefault()),
		)
	}

	restart := make([]string, 0, len(changed))
	for _, s := range changed {
		if s != "logging" {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}

func jsonEqual(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ab) == string(bb)
}
