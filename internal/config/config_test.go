package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
logging:
  level: debug
  console: true
sync:
  max_concurrent_jobs: 5
  queue_size: 64
  fetch_timeout: 10s
source:
  http_timeout: 5s
channels:
  email:
    enabled: true
    endpoint: https://mail.example.com/v1/campaigns
    list_id: weekly
    guard:
      failure_threshold: 3
      recovery_timeout: 30s
  telegram:
    enabled: true
    token: "123:abc"
    chat_id: -1001
storage:
  driver: file
  path: ./data
maintenance:
  enabled: true
  retry_schedule: "@every 5m"
  retry_max_age: 1h
  syncs:
    - document: https://cms.example.com/docs/news.json
      channels: [email, telegram]
      schedule: "0 9 * * *"
api:
  enabled: true
  addr: 127.0.0.1:8270
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Sync.MaxConcurrentJobs != 5 || cfg.Sync.QueueSize != 64 {
		t.Fatalf("sync section mismatched: %+v", cfg.Sync)
	}
	if cfg.Channels.Email == nil || !cfg.Channels.Email.Enabled {
		t.Fatal("email channel not parsed")
	}
	if cfg.Channels.Email.Guard.FailureThreshold != 3 {
		t.Fatalf("guard not parsed: %+v", cfg.Channels.Email.Guard)
	}
	if cfg.Channels.Website != nil {
		t.Fatal("website channel should be absent")
	}
	if cfg.Channels.Telegram.ChatID != -1001 {
		t.Fatalf("telegram chat_id = %d", cfg.Channels.Telegram.ChatID)
	}
	if cfg.Maintenance == nil || len(cfg.Maintenance.Syncs) != 1 {
		t.Fatalf("maintenance not parsed: %+v", cfg.Maintenance)
	}
	if got := cfg.Maintenance.Syncs[0].Channels; len(got) != 2 {
		t.Fatalf("scheduled sync channels = %v", got)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", "sync:\n  werkers: 3\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown field should be rejected")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.json", `{"logging":{"level":"info"}}{"extra":1}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("trailing JSON should be rejected")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "bad fetch timeout",
			mutate:  func(c *Config) { c.Sync.FetchTimeout = "soon" },
			wantErr: "sync.fetch_timeout",
		},
		{
			name:    "negative duration",
			mutate:  func(c *Config) { c.Source.HTTPTimeout = "-5s" },
			wantErr: "source.http_timeout",
		},
		{
			name: "email without endpoint",
			mutate: func(c *Config) {
				c.Channels.Email = &EmailChannelConfig{Enabled: true}
			},
			wantErr: "channels.email",
		},
		{
			name: "telegram without chat id",
			mutate: func(c *Config) {
				c.Channels.Telegram = &TelegramChannelConfig{Enabled: true, Token: "t"}
			},
			wantErr: "chat_id",
		},
		{
			name: "unknown storage driver",
			mutate: func(c *Config) {
				c.Storage = &StorageConfig{Driver: "redis"}
			},
			wantErr: "storage.driver",
		},
		{
			name: "scheduled sync without schedule",
			mutate: func(c *Config) {
				c.Maintenance = &MaintenanceConfig{
					Enabled: true,
					Syncs:   []ScheduledSync{{Document: "doc"}},
				}
			},
			wantErr: "maintenance.syncs[0]",
		},
		{
			name: "bad guard duration",
			mutate: func(c *Config) {
				c.Channels.Website = &WebsiteChannelConfig{
					Enabled:  true,
					Endpoint: "https://cms.example.com",
					Guard:    GuardConfig{RateWindow: "sometimes"},
				}
			},
			wantErr: "channels.website.guard.rate_window",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}

	t.Run("empty config is valid", func(t *testing.T) {
		t.Parallel()
		var cfg Config
		if err := cfg.Validate(); err != nil {
			t.Fatalf("empty config should validate: %v", err)
		}
	})
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Sync:    SyncConfig{MaxConcurrentJobs: 8},
		API:     &APIConfig{Enabled: true, Addr: "127.0.0.1:8270", Token: "secret"},
	}

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	want := []string{"api", "logging", "sync"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs")
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()

	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := &Config{Logging: LoggingConfig{Level: "warn"}}
	m.Commit(cfg)
	m.publish(cfg)

	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("subscriber received a different config pointer")
		}
	default:
		t.Fatal("subscriber did not receive the update")
	}

	// A full buffer drops the oldest update, keeps the newest.
	next := &Config{Logging: LoggingConfig{Level: "error"}}
	m.publish(cfg)
	m.publish(next)
	if got := <-ch; got != next {
		t.Fatal("slow subscriber should see the newest config")
	}
}
