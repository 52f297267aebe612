package config

import (
	"reflect"
	"sort"
	"strings"

	logx "signupbot/pkg/logx"
)

// liveSections are applied by a running process; every other section only
// takes effect after a restart.
var liveSections = map[string]bool{
	"logging":  true,
	"notifier": true,
}

// RestartRequired filters sections down to the ones a hot reload cannot apply.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if !liveSections[s] {
			out = append(out, s)
		}
	}
	return out
}

// SummarizeConfigChange returns (1) the sorted list of changed sections and
// (2) safe structured attrs for logging. Secrets (tokens, credentials,
// webhook URLs) are only reported as "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	if oldCfg.Source != newCfg.Source {
		s := newCfg.Source
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.driver", strings.TrimSpace(s.Driver)),
			logx.Bool("source.spreadsheet_id_set", strings.TrimSpace(s.SpreadsheetID) != ""),
			logx.Bool("source.folder_id_set", strings.TrimSpace(s.FolderID) != ""),
			logx.Bool("source.url_set", strings.TrimSpace(s.URL) != ""),
			logx.Bool("source.credentials_set", s.CredentialsFile != "" || s.CredentialsJSON != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Signup, newCfg.Signup) {
		changed = append(changed, "signup")
		attrs = append(attrs,
			logx.String("signup.identity_column", newCfg.Signup.IdentityColumn),
			logx.String("signup.timezone", newCfg.Signup.Timezone),
			logx.Int("signup.column_rules", len(newCfg.Signup.Columns)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Poll, newCfg.Poll) {
		changed = append(changed, "poll")
		attrs = append(attrs,
			logx.String("poll.schedule", strings.TrimSpace(newCfg.Poll.Schedule)),
			logx.String("poll.fetch_timeout", strings.TrimSpace(newCfg.Poll.FetchTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Discord, newCfg.Discord) {
		changed = append(changed, "discord")
		d := derefDiscord(newCfg.Discord)
		attrs = append(attrs,
			logx.Bool("discord.enabled", newCfg.Discord != nil),
			logx.Bool("discord.token_set", d.Token != ""),
			logx.String("discord.channel_id", d.ChannelID),
			logx.Bool("discord.webhook_set", d.WebhookURL != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.enabled", newCfg.Telegram != nil))
		if t := newCfg.Telegram; t != nil {
			attrs = append(attrs,
				logx.Bool("telegram.token_set", t.Token != ""),
				logx.Int64("telegram.chat_id", t.ChatID),
				logx.Int("telegram.thread_id", t.ThreadID),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.NATS, newCfg.NATS) {
		changed = append(changed, "nats")
		attrs = append(attrs, logx.Bool("nats.enabled", newCfg.NATS != nil))
		if n := newCfg.NATS; n != nil {
			attrs = append(attrs, logx.String("nats.subject", n.Subject))
		}
	}

	oldN, newN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if oldN != newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.String("notifier.send_timeout", newN.SendTimeout),
			logx.String("notifier.dedup_window", newN.DedupWindow),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	// Storage: nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Systemd, newCfg.Systemd) {
		changed = append(changed, "systemd")
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefDiscord(d *DiscordConfig) DiscordConfig {
	if d == nil {
		return DiscordConfig{}
	}
	return *d
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}
