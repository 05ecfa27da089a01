package config

import (
	"strings"
	"time"

	"postbot/internal/errors"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs may call admin-only endpoints. Hot reloadable.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// GroupLog is the chat id receiving Telegram log lines.
	GroupLog string `json:"group_log"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls trigger evaluation and delivery execution.
//
// Defaults (when omitted/zero):
//   - timezone: "Asia/Yerevan"
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "30s"
//   - retry_max: 3
//   - history_size: 200
type SchedulerConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig selects the job table backend.
//
//	"storage": { "driver": "sqlite", "path": "./data/postbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig controls the mini app API server.
type HTTPConfig struct {
	Addr         string `json:"addr"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// AuthMaxAge rejects init data whose auth_date is older. "0s" disables the check.
	AuthMaxAge    string `json:"auth_max_age,omitempty"`
	AllowedOrigin string `json:"allowed_origin,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	Burst         int    `json:"burst,omitempty"`
}

const (
	DefaultTimezone = "Asia/Yerevan"
	DefaultHTTPAddr = "127.0.0.1:8080"
)

// Resolved holds parsed, defaulted values derived from a Config.
type Resolved struct {
	Location       *time.Location
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	RetryMax       int
	HistorySize    int

	StorageDriver string
	StoragePath   string
	BusyTimeout   time.Duration

	GroupLogChat int64

	HTTPAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AuthMaxAge   time.Duration
	RatePerSec   int
	Burst        int
}

// Resolve validates cfg and fills defaults. Every error names the offending key.
func (c *Config) Resolve() (Resolved, error) {
	var (
		r   Resolved
		err error
	)
	if c == nil {
		return r, errors.New("config is nil")
	}

	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	if r.Location, err = time.LoadLocation(tz); err != nil {
		return r, errors.Wrapf(err, "scheduler.timezone: %q", tz)
	}
	r.Workers = positiveOr(c.Scheduler.Workers, 2)
	r.QueueSize = positiveOr(c.Scheduler.QueueSize, 256)
	r.RetryMax = positiveOr(c.Scheduler.RetryMax, 3)
	r.HistorySize = positiveOr(c.Scheduler.HistorySize, 200)
	if r.DefaultTimeout, err = ParseDurationOrDefault("scheduler.default_timeout", c.Scheduler.DefaultTimeout, 30*time.Second); err != nil {
		return r, err
	}

	r.StorageDriver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch r.StorageDriver {
	case "":
		r.StorageDriver = "file"
	case "file", "sqlite", "bolt", "none":
	default:
		return r, errors.Newf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	r.StoragePath = strings.TrimSpace(c.Storage.Path)
	if r.BusyTimeout, err = ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second); err != nil {
		return r, err
	}

	if gl := strings.TrimSpace(c.Telegram.GroupLog); gl != "" {
		if r.GroupLogChat, err = parseInt64(gl); err != nil {
			return r, errors.Wrap(err, "telegram.group_log")
		}
	}

	r.HTTPAddr = strings.TrimSpace(c.HTTP.Addr)
	if r.HTTPAddr == "" {
		r.HTTPAddr = DefaultHTTPAddr
	}
	if r.ReadTimeout, err = ParseDurationOrDefault("http.read_timeout", c.HTTP.ReadTimeout, 10*time.Second); err != nil {
		return r, err
	}
	if r.WriteTimeout, err = ParseDurationOrDefault("http.write_timeout", c.HTTP.WriteTimeout, 15*time.Second); err != nil {
		return r, err
	}
	if r.AuthMaxAge, err = ParseDurationField("http.auth_max_age", c.HTTP.AuthMaxAge); err != nil {
		return r, err
	}
	r.RatePerSec = positiveOr(c.HTTP.RatePerSec, 20)
	r.Burst = positiveOr(c.HTTP.Burst, 40)
	return r, nil
}

// Validate checks everything Resolve checks plus the bot token.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.WithHint(errors.New("telegram.token: required"), "set the bot token from @BotFather")
	}
	for _, id := range c.Telegram.AdminUserIDs {
		if id <= 0 {
			return errors.Newf("telegram.admin_user_ids: invalid id %d", id)
		}
	}
	_, err := c.Resolve()
	return err
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
