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
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Missions  MissionsConfig  `json:"missions"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// AdminUserIDs may do everything, including acting on other
	// people's missions and signups.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// GroupLog is an optional chat id ("-100...") that receives log lines.
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
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	Workers int `json:"workers"`
	// DefaultTimeout is a Go duration string. "0s" disables the global
	// per-job timeout.
	DefaultTimeout string `json:"default_timeout"`
	Timezone       string `json:"timezone,omitempty"`
}

// MissionsConfig scopes who may run the organizer-side commands.
type MissionsConfig struct {
	// MakerUserIDs may create missions and publish squads. Admins are
	// implicitly makers.
	MakerUserIDs []int64 `json:"maker_user_ids"`
}

// Validate rejects configs the process cannot start with. Soft fields
// (durations, levels) are validated where they are consumed.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.default_timeout", c.Scheduler.DefaultTimeout); err != nil {
		return err
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be >= 0, got %d", c.Scheduler.Workers)
	}
	return nil
}

// ParseDurationField parses a Go duration string from the config. Empty
// means zero; negative values are rejected. path names the field in the
// error so the operator knows which line to fix.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// unset (or zero) field.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// IsAdmin reports whether the user id is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsMissionMaker reports whether the user may create missions.
func (c *Config) IsMissionMaker(userID int64) bool {
	if c.IsAdmin(userID) {
		return true
	}
	for _, id := range c.Missions.MakerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
