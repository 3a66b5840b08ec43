package app

import (
	"strings"

	"autoposter/internal/config"
	"autoposter/internal/scheduler"
	"autoposter/internal/storage"
	"autoposter/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapScheduler(cfg *config.Config, d config.Durations) scheduler.Config {
	return scheduler.Config{
		Tick:        d.Tick,
		SendTimeout: d.SendTimeout,
		StatusLines: cfg.StatusLines(),
	}
}

// mapStorage reports enabled=false when no driver is configured.
func mapStorage(cfg *config.Config, d config.Durations) (storage.Config, bool) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: d.BusyTimeout,
	}, true
}

func autosaveSpec(cfg *config.Config) string {
	if cfg == nil || cfg.Storage == nil {
		return ""
	}
	return strings.TrimSpace(cfg.Storage.Autosave)
}
