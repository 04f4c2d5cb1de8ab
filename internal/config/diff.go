package config

import (
	"reflect"
	"sort"
	"strings"

	logx "contentsync/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens, api keys) never appear in
// the attrs; only whether one is set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sync, newCfg.Sync) {
		changed = append(changed, "sync")
		attrs = append(attrs,
			logx.Int("sync.max_concurrent_jobs", newCfg.Sync.MaxConcurrentJobs),
			logx.Int("sync.queue_size", newCfg.Sync.QueueSize),
			logx.String("sync.fetch_timeout", strings.TrimSpace(newCfg.Sync.FetchTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.http_timeout", strings.TrimSpace(newCfg.Source.HTTPTimeout)),
			logx.Bool("source.file_root_set", strings.TrimSpace(newCfg.Source.FileRoot) != ""),
		)
	}

	if channelsChanged(oldCfg.Channels, newCfg.Channels) {
		changed = append(changed, "channels")
		attrs = append(attrs,
			logx.Bool("channels.email", newCfg.Channels.Email != nil && newCfg.Channels.Email.Enabled),
			logx.Bool("channels.website", newCfg.Channels.Website != nil && newCfg.Channels.Website.Enabled),
			logx.Bool("channels.telegram", newCfg.Channels.Telegram != nil && newCfg.Channels.Telegram.Enabled),
		)
	}

	// Storage: nil means disabled.
	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver = strings.TrimSpace(s.Driver)
		oPathSet = strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver = strings.TrimSpace(s.Driver)
		nPathSet = strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	oM, nM := derefMaintenance(oldCfg.Maintenance), derefMaintenance(newCfg.Maintenance)
	if !reflect.DeepEqual(oM, nM) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", nM.Enabled),
			logx.String("maintenance.retry_schedule", strings.TrimSpace(nM.RetrySchedule)),
			logx.String("maintenance.cleanup_schedule", strings.TrimSpace(nM.CleanupSchedule)),
			logx.Int("maintenance.syncs", len(nM.Syncs)),
		)
	}

	oA, nA := derefAPI(oldCfg.API), derefAPI(newCfg.API)
	if oA.Enabled != nA.Enabled ||
		strings.TrimSpace(oA.Addr) != strings.TrimSpace(nA.Addr) ||
		(strings.TrimSpace(oA.Token) != "") != (strings.TrimSpace(nA.Token) != "") {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", nA.Enabled),
			logx.String("api.addr", strings.TrimSpace(nA.Addr)),
			logx.Bool("api.token_set", strings.TrimSpace(nA.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func channelsChanged(o, n ChannelsConfig) bool {
	return !reflect.DeepEqual(derefEmail(o.Email), derefEmail(n.Email)) ||
		!reflect.DeepEqual(derefWebsite(o.Website), derefWebsite(n.Website)) ||
		!reflect.DeepEqual(derefTelegram(o.Telegram), derefTelegram(n.Telegram))
}

func derefEmail(c *EmailChannelConfig) EmailChannelConfig {
	if c == nil {
		return EmailChannelConfig{}
	}
	return *c
}

func derefWebsite(c *WebsiteChannelConfig) WebsiteChannelConfig {
	if c == nil {
		return WebsiteChannelConfig{}
	}
	return *c
}

func derefTelegram(c *TelegramChannelConfig) TelegramChannelConfig {
	if c == nil {
		return TelegramChannelConfig{}
	}
	return *c
}

func derefMaintenance(c *MaintenanceConfig) MaintenanceConfig {
	if c == nil {
		return MaintenanceConfig{}
	}
	return *c
}

func derefAPI(c *APIConfig) APIConfig {
	if c == nil {
		return APIConfig{}
	}
	return *c
}
