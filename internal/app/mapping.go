package app

import (
	"fmt"
	"strings"
	"time"

	"contentsync/internal/api"
	"contentsync/internal/config"
	"contentsync/internal/delivery"
	"contentsync/internal/maintenance"
	"contentsync/internal/source"
	"contentsync/internal/store"
	csync "contentsync/internal/sync"
	logx "contentsync/pkg/logx"
)

// The map* functions translate the raw config file sections (duration
// strings, optional blocks) into the typed component configs.

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

func mapSyncConfig(cfg *config.Config) (csync.Config, error) {
	fetchTimeout, err := config.ParseDurationField("sync.fetch_timeout", cfg.Sync.FetchTimeout)
	if err != nil {
		return csync.Config{}, err
	}
	return csync.Config{
		MaxConcurrentJobs: cfg.Sync.MaxConcurrentJobs,
		QueueSize:         cfg.Sync.QueueSize,
		FetchTimeout:      fetchTimeout,
	}, nil
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	if cfg.Storage == nil {
		return store.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapGuard(prefix string, g config.GuardConfig) (delivery.GuardConfig, error) {
	out := delivery.GuardConfig{
		FailureThreshold: g.FailureThreshold,
		MaxRetries:       g.MaxRetries,
		RateMaxCalls:     g.RateMaxCalls,
	}
	var err error
	if out.RecoveryTimeout, err = config.ParseDurationField(prefix+".recovery_timeout", g.RecoveryTimeout); err != nil {
		return out, err
	}
	if out.RetryBase, err = config.ParseDurationField(prefix+".retry_base", g.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMax, err = config.ParseDurationField(prefix+".retry_max_delay", g.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.RateWindow, err = config.ParseDurationField(prefix+".rate_window", g.RateWindow); err != nil {
		return out, err
	}
	if out.CallTimeout, err = config.ParseDurationField(prefix+".call_timeout", g.CallTimeout); err != nil {
		return out, err
	}
	return out, nil
}

// buildRegistry constructs one sender per enabled channel.
func buildRegistry(cfg *config.Config, log logx.Logger) (*delivery.Registry, error) {
	var senders []delivery.Sender

	if ch := cfg.Channels.Email; ch != nil && ch.Enabled {
		guard, err := mapGuard("channels.email.guard", ch.Guard)
		if err != nil {
			return nil, err
		}
		senders = append(senders, delivery.NewEmailSender(delivery.EmailConfig{
			Endpoint: ch.Endpoint,
			APIKey:   ch.APIKey,
			ListID:   ch.ListID,
			Guard:    guard,
		}, log.With(logx.String("channel", "email"))))
	}

	if ch := cfg.Channels.Website; ch != nil && ch.Enabled {
		guard, err := mapGuard("channels.website.guard", ch.Guard)
		if err != nil {
			return nil, err
		}
		senders = append(senders, delivery.NewWebsiteSender(delivery.WebsiteConfig{
			Endpoint: ch.Endpoint,
			APIKey:   ch.APIKey,
			Guard:    guard,
		}, log.With(logx.String("channel", "website"))))
	}

	if ch := cfg.Channels.Telegram; ch != nil && ch.Enabled {
		guard, err := mapGuard("channels.telegram.guard", ch.Guard)
		if err != nil {
			return nil, err
		}
		sender, err := delivery.NewTelegramSender(delivery.TelegramConfig{
			Token:          ch.Token,
			ChatID:         ch.ChatID,
			MessagesPerSec: ch.MessagesPerSec,
			Guard:          guard,
		}, log.With(logx.String("channel", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram sender: %w", err)
		}
		senders = append(senders, sender)
	}

	if len(senders) == 0 {
		return nil, fmt.Errorf("no delivery channel is enabled")
	}
	return delivery.NewRegistry(senders...), nil
}

// buildFetcher wires the scheme router: http(s) and file documents.
func buildFetcher(cfg *config.Config, log logx.Logger) (source.Fetcher, error) {
	httpTimeout, err := config.ParseDurationField("source.http_timeout", cfg.Source.HTTPTimeout)
	if err != nil {
		return nil, err
	}

	r := source.NewRouter()
	httpf := source.NewHTTPFetcher(httpTimeout, log.With(logx.String("comp", "source")))
	r.Register("http", httpf)
	r.Register("https", httpf)
	r.Register("file", source.NewFileFetcher(cfg.Source.FileRoot))
	return r, nil
}

func mapMaintenance(cfg *config.Config) (maintenance.Config, error) {
	m := cfg.Maintenance
	if m == nil {
		return maintenance.Config{}, nil
	}
	retryAge, err := config.ParseDurationField("maintenance.retry_max_age", m.RetryMaxAge)
	if err != nil {
		return maintenance.Config{}, err
	}
	retention, err := config.ParseDurationField("maintenance.retention", m.Retention)
	if err != nil {
		return maintenance.Config{}, err
	}

	out := maintenance.Config{
		Enabled:         m.Enabled,
		Timezone:        m.Timezone,
		RetrySchedule:   m.RetrySchedule,
		RetryMaxAge:     retryAge,
		CleanupSchedule: m.CleanupSchedule,
		Retention:       retention,
	}
	for i, sc := range m.Syncs {
		ms := maintenance.ScheduledSync{
			Document: sc.Document,
			Schedule: sc.Schedule,
		}
		for _, raw := range sc.Channels {
			ch, err := delivery.ParseChannel(raw)
			if err != nil {
				return maintenance.Config{}, fmt.Errorf("maintenance.syncs[%d]: %w", i, err)
			}
			ms.Channels = append(ms.Channels, ch)
		}
		out.Syncs = append(out.Syncs, ms)
	}
	return out, nil
}

func mapAPI(cfg *config.Config) (api.Config, error) {
	a := cfg.API
	if a == nil {
		return api.Config{}, nil
	}
	out := api.Config{
		Enabled: a.Enabled,
		Addr:    a.Addr,
		Token:   a.Token,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("api.read_timeout", a.ReadTimeout); err != nil {
		return api.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("api.write_timeout", a.WriteTimeout); err != nil {
		return api.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("api.idle_timeout", a.IdleTimeout, 60*time.Second); err != nil {
		return api.Config{}, err
	}
	if strings.TrimSpace(out.Addr) == "" {
		out.Addr = "127.0.0.1:8270"
	}
	return out, nil
}
