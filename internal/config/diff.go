package config

import (
	"reflect"
	"strings"

	"autoposter/pkg/logx"
)

// SummarizeChange returns the list of changed top-level sections and safe
// structured fields describing the new values. Secrets are reported only
// as "*_set" booleans.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	fields := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.NotifyErrors != newCfg.Telegram.NotifyErrors ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.notify_errors", newCfg.Telegram.NotifyErrors),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.Bool("scheduler.auto_start", newCfg.Scheduler.AutoStart),
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
			logx.String("scheduler.send_timeout", newCfg.Scheduler.SendTimeout),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		fields = append(fields,
			logx.Float64("delivery.rate_per_sec", newCfg.Delivery.RatePerSec),
			logx.String("delivery.http_timeout", newCfg.Delivery.HTTPTimeout),
		)
	}

	if oldCfg.EventLog != newCfg.EventLog {
		changed = append(changed, "event_log")
		fields = append(fields,
			logx.Int("event_log.capacity", newCfg.EventLog.Capacity),
			logx.Int("event_log.status_lines", newCfg.EventLog.StatusLines),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			fields = append(fields,
				logx.String("storage.driver", newCfg.Storage.Driver),
				logx.String("storage.path", newCfg.Storage.Path),
				logx.String("storage.autosave", newCfg.Storage.Autosave),
			)
		}
	}

	return changed, fields
}
