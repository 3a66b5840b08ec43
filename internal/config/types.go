package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Delivery  DeliveryConfig  `json:"delivery"`
	EventLog  EventLogConfig  `json:"event_log"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// TelegramConfig configures the operator bot. An empty token runs the
// service headless. NotifyErrors forwards error records to every owner.
type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
	NotifyErrors bool    `json:"notify_errors"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the posting loop.
//
// Defaults (when fields are omitted/zero):
//   - auto_start: false
//   - tick: "1s"
//   - send_timeout: "15s"
type SchedulerConfig struct {
	AutoStart   bool   `json:"auto_start"`
	Tick        string `json:"tick,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// DeliveryConfig controls the outbound senders.
//
// rate_per_sec <= 0 disables the shared limiter.
type DeliveryConfig struct {
	RatePerSec     float64 `json:"rate_per_sec"`
	DiscordAPIBase string  `json:"discord_api_base,omitempty"`
	HTTPTimeout    string  `json:"http_timeout,omitempty"`
}

// EventLogConfig sizes the in-memory outcome log. capacity 0 keeps every
// record; status_lines is how many records the status view carries.
type EventLogConfig struct {
	Capacity    int `json:"capacity"`
	StatusLines int `json:"status_lines"`
}

// StorageConfig configures persistence of destinations and the event journal.
//
// Autosave is a cron spec (seconds optional, descriptors like "@every 5m"
// accepted). Empty disables periodic saves; saves still happen on edits and
// on shutdown.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Autosave    string `json:"autosave,omitempty"`
}

const (
	DefaultTick           = time.Second
	DefaultSendTimeout    = 15 * time.Second
	DefaultHTTPTimeout    = 20 * time.Second
	DefaultPollTimeout    = 10 * time.Second
	DefaultStatusLines    = 10
	DefaultDiscordAPIBase = "https://discord.com/api/v10"
)

// Durations holds the parsed duration fields of a Config.
type Durations struct {
	Tick        time.Duration
	SendTimeout time.Duration
	HTTPTimeout time.Duration
	PollTimeout time.Duration
	BusyTimeout time.Duration
}

// ParseDurations resolves every duration field, applying defaults.
func (c *Config) ParseDurations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	if d.Tick, err = ParseDurationOrDefault("scheduler.tick", c.Scheduler.Tick, DefaultTick); err != nil {
		return Durations{}, err
	}
	if d.SendTimeout, err = ParseDurationOrDefault("scheduler.send_timeout", c.Scheduler.SendTimeout, DefaultSendTimeout); err != nil {
		return Durations{}, err
	}
	if d.HTTPTimeout, err = ParseDurationOrDefault("delivery.http_timeout", c.Delivery.HTTPTimeout, DefaultHTTPTimeout); err != nil {
		return Durations{}, err
	}
	if d.PollTimeout, err = ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout); err != nil {
		return Durations{}, err
	}
	if c.Storage != nil {
		if d.BusyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return Durations{}, err
		}
	}
	return d, nil
}

// Validate checks field ranges and enums. It does not touch the filesystem.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.ParseDurations(); err != nil {
		errs = append(errs, err)
	}
	if c.Delivery.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("delivery.rate_per_sec: must be >= 0"))
	}
	if base := strings.TrimSpace(c.Delivery.DiscordAPIBase); base != "" &&
		!strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		errs = append(errs, fmt.Errorf("delivery.discord_api_base: must be an http(s) URL"))
	}
	if c.EventLog.Capacity < 0 {
		errs = append(errs, fmt.Errorf("event_log.capacity: must be >= 0"))
	}
	if c.EventLog.StatusLines < 0 {
		errs = append(errs, fmt.Errorf("event_log.status_lines: must be >= 0"))
	}
	for i, id := range c.Telegram.OwnerUserIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("telegram.owner_user_ids[%d]: must be a positive user id", i))
		}
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
	}
	return errors.Join(errs...)
}

// StatusLines returns how many log records the status view shows.
func (c *Config) StatusLines() int {
	if c.EventLog.StatusLines <= 0 {
		return DefaultStatusLines
	}
	return c.EventLog.StatusLines
}

// DiscordAPIBase returns the configured Discord REST base without a trailing slash.
func (c *Config) DiscordAPIBase() string {
	base := strings.TrimRight(strings.TrimSpace(c.Delivery.DiscordAPIBase), "/")
	if base == "" {
		return DefaultDiscordAPIBase
	}
	return base
}
