package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Sync controls the orchestrator: pool size, queue depth and the
	// document fetch timeout.
	Sync SyncConfig `json:"sync"`

	Source SourceConfig `json:"source"`

	// Channels configures the delivery senders. A channel with no section
	// (or enabled=false) is simply not registered.
	Channels ChannelsConfig `json:"channels"`

	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
	API         *APIConfig         `json:"api,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SyncConfig controls the orchestrator.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent_jobs: 3
//   - queue_size: 256
//   - fetch_timeout: "30s"
type SyncConfig struct {
	MaxConcurrentJobs int    `json:"max_concurrent_jobs,omitempty"`
	QueueSize         int    `json:"queue_size,omitempty"`
	FetchTimeout      string `json:"fetch_timeout,omitempty"`
}

// SourceConfig controls document fetching.
type SourceConfig struct {
	// HTTPTimeout is the per-request timeout of the http(s) fetcher.
	HTTPTimeout string `json:"http_timeout,omitempty"`
	// FileRoot jails file: document refs to a directory. Empty allows
	// absolute paths (dev only).
	FileRoot string `json:"file_root,omitempty"`
}

type ChannelsConfig struct {
	Email    *EmailChannelConfig    `json:"email,omitempty"`
	Website  *WebsiteChannelConfig  `json:"website,omitempty"`
	Telegram *TelegramChannelConfig `json:"telegram,omitempty"`
}

// GuardConfig holds one channel's resilience knobs.
//
// All durations are Go duration strings. Zero values fall back to the
// sender defaults.
type GuardConfig struct {
	FailureThreshold int    `json:"failure_threshold,omitempty"`
	RecoveryTimeout  string `json:"recovery_timeout,omitempty"`
	MaxRetries       int    `json:"max_retries,omitempty"`
	RetryBase        string `json:"retry_base,omitempty"`
	RetryMaxDelay    string `json:"retry_max_delay,omitempty"`
	RateMaxCalls     int    `json:"rate_max_calls,omitempty"`
	RateWindow       string `json:"rate_window,omitempty"`
	CallTimeout      string `json:"call_timeout,omitempty"`
}

type EmailChannelConfig struct {
	Enabled  bool        `json:"enabled"`
	Endpoint string      `json:"endpoint"`
	APIKey   string      `json:"api_key,omitempty"`
	ListID   string      `json:"list_id,omitempty"`
	Guard    GuardConfig `json:"guard,omitempty"`
}

type WebsiteChannelConfig struct {
	Enabled  bool        `json:"enabled"`
	Endpoint string      `json:"endpoint"`
	APIKey   string      `json:"api_key,omitempty"`
	Guard    GuardConfig `json:"guard,omitempty"`
}

type TelegramChannelConfig struct {
	Enabled        bool        `json:"enabled"`
	Token          string      `json:"token"`
	ChatID         int64       `json:"chat_id"`
	MessagesPerSec int         `json:"messages_per_sec,omitempty"`
	Guard          GuardConfig `json:"guard,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./contentsync_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig controls the cron-driven background sweeps and any
// scheduled document syncs.
//
// Schedules are cron specs ("*/5 * * * *" or "@every 5m").
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	// RetrySchedule re-submits failed/partial jobs no older than
	// RetryMaxAge. Empty disables the sweep.
	RetrySchedule string `json:"retry_schedule,omitempty"`
	RetryMaxAge   string `json:"retry_max_age,omitempty"`

	// CleanupSchedule drops terminal jobs older than Retention.
	CleanupSchedule string `json:"cleanup_schedule,omitempty"`
	Retention       string `json:"retention,omitempty"`

	Syncs []ScheduledSync `json:"syncs,omitempty"`
}

// ScheduledSync submits a sync for one document on a cron schedule.
type ScheduledSync struct {
	Document string   `json:"document"`
	Channels []string `json:"channels,omitempty"`
	Schedule string   `json:"schedule"`
}

// APIConfig controls the admin HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8270").
//   - Set a token when binding to a non-loopback address.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8270"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Validate checks cross-field consistency and that every duration string
// parses. It is installed as the manager's validator so a bad reload never
// reaches running components.
func (c *Config) Validate() error {
	for path, raw := range map[string]string{
		"sync.fetch_timeout":  c.Sync.FetchTimeout,
		"source.http_timeout": c.Source.HTTPTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	if ch := c.Channels.Email; ch != nil && ch.Enabled {
		if strings.TrimSpace(ch.Endpoint) == "" {
			return fmt.Errorf("channels.email: endpoint is required")
		}
		if err := ch.Guard.validate("channels.email.guard"); err != nil {
			return err
		}
	}
	if ch := c.Channels.Website; ch != nil && ch.Enabled {
		if strings.TrimSpace(ch.Endpoint) == "" {
			return fmt.Errorf("channels.website: endpoint is required")
		}
		if err := ch.Guard.validate("channels.website.guard"); err != nil {
			return err
		}
	}
	if ch := c.Channels.Telegram; ch != nil && ch.Enabled {
		if strings.TrimSpace(ch.Token) == "" {
			return fmt.Errorf("channels.telegram: token is required")
		}
		if ch.ChatID == 0 {
			return fmt.Errorf("channels.telegram: chat_id is required")
		}
		if err := ch.Guard.validate("channels.telegram.guard"); err != nil {
			return err
		}
	}

	if s := c.Storage; s != nil {
		switch strings.TrimSpace(strings.ToLower(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if m := c.Maintenance; m != nil && m.Enabled {
		for path, raw := range map[string]string{
			"maintenance.retry_max_age": m.RetryMaxAge,
			"maintenance.retention":     m.Retention,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
		for i, s := range m.Syncs {
			if strings.TrimSpace(s.Document) == "" {
				return fmt.Errorf("maintenance.syncs[%d]: document is required", i)
			}
			if strings.TrimSpace(s.Schedule) == "" {
				return fmt.Errorf("maintenance.syncs[%d]: schedule is required", i)
			}
		}
	}

	if a := c.API; a != nil && a.Enabled {
		for path, raw := range map[string]string{
			"api.read_timeout":  a.ReadTimeout,
			"api.write_timeout": a.WriteTimeout,
			"api.idle_timeout":  a.IdleTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g GuardConfig) validate(prefix string) error {
	for field, raw := range map[string]string{
		"recovery_timeout": g.RecoveryTimeout,
		"retry_base":       g.RetryBase,
		"retry_max_delay":  g.RetryMaxDelay,
		"rate_window":      g.RateWindow,
		"call_timeout":     g.CallTimeout,
	} {
		if _, err := ParseDurationField(prefix+"."+field, raw); err != nil {
			return err
		}
	}
	return nil
}
