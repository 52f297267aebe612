package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"signupbot/internal/config"
	"signupbot/internal/notifier"
	"signupbot/internal/poller"
	"signupbot/internal/signup"
	"signupbot/internal/source"
	"signupbot/internal/storage"
	"signupbot/internal/transport/discord"
	"signupbot/internal/transport/natsink"
	"signupbot/internal/transport/telegram"
	logx "signupbot/pkg/logx"
)

// DefaultTimezone is where the signup header clock is shown.
const DefaultTimezone = "America/New_York"

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.Duration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSourceConfig(cfg *config.Config) (source.Config, error) {
	sc := cfg.Source
	out := source.Config{
		Driver:          strings.ToLower(strings.TrimSpace(sc.Driver)),
		CredentialsFile: strings.TrimSpace(sc.CredentialsFile),
		SpreadsheetID:   strings.TrimSpace(sc.SpreadsheetID),
		Range:           strings.TrimSpace(sc.Range),
		FolderID:        strings.TrimSpace(sc.FolderID),
		NameContains:    strings.TrimSpace(sc.NameContains),
		Endpoint:        strings.TrimSpace(sc.Endpoint),
		URL:             strings.TrimSpace(sc.URL),
		Path:            strings.TrimSpace(sc.Path),
		CacheDir:        strings.TrimSpace(sc.CacheDir),
	}
	if sc.CredentialsJSON != "" {
		out.CredentialsJSON = []byte(sc.CredentialsJSON)
	}
	// SIGNUPBOT_CREDENTIALS_JSON keeps the key out of the config file.
	if v := os.Getenv("SIGNUPBOT_CREDENTIALS_JSON"); v != "" && out.CredentialsJSON == nil && out.CredentialsFile == "" {
		out.CredentialsJSON = []byte(v)
	}

	var err error
	if out.Rediscover, err = config.Duration("source.rediscover", sc.Rediscover, 10*time.Minute); err != nil {
		return source.Config{}, err
	}
	if out.Timeout, err = config.Duration("source.timeout", sc.Timeout, 15*time.Second); err != nil {
		return source.Config{}, err
	}
	if p := cfg.Signup.ExcludeKeywords; p != nil {
		out.ExcludeKeywords = append([]string{}, *p...)
	}
	return out, nil
}

func mapRules(cfg *config.Config) signup.Rules {
	if len(cfg.Signup.Columns) == 0 {
		return signup.DefaultRules()
	}
	rules := make(signup.Rules, 0, len(cfg.Signup.Columns))
	for _, c := range cfg.Signup.Columns {
		rules = append(rules, signup.ColumnRule{
			Purpose:     signup.Purpose(c.Purpose),
			Contains:    c.Contains,
			Label:       c.Label,
			StripPrefix: c.StripPrefix,
		})
	}
	return rules
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	tz := strings.TrimSpace(cfg.Signup.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return poller.Config{}, fmt.Errorf("signup.timezone: invalid %q: %w", tz, err)
	}
	sched, err := poller.ParseSchedule(cfg.Poll.Schedule)
	if err != nil {
		return poller.Config{}, fmt.Errorf("poll.schedule: %w", err)
	}
	fetchTimeout, err := config.Duration("poll.fetch_timeout", cfg.Poll.FetchTimeout, 30*time.Second)
	if err != nil {
		return poller.Config{}, err
	}
	emptyIsFailure := true
	if cfg.Poll.EmptyIsFailure != nil {
		emptyIsFailure = *cfg.Poll.EmptyIsFailure
	}

	rules := mapRules(cfg)
	f := signup.NewFormatter(rules, loc)
	if v := cfg.Signup.CountLabel; v != "" {
		f.CountLabel = v
	}
	if v := cfg.Signup.NoResponse; v != "" {
		f.NoResponse = v
	}
	if v := cfg.Signup.NoComments; v != "" {
		f.NoComments = v
	}

	identity := strings.TrimSpace(cfg.Signup.IdentityColumn)
	if identity == "" {
		identity = poller.DefaultIdentityColumn
	}
	return poller.Config{
		IdentityColumn: identity,
		Rules:          rules,
		Formatter:      f,
		EmptyIsFailure: emptyIsFailure,
		FetchTimeout:   fetchTimeout,
		Schedule:       sched,
		Location:       loc,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := config.NotifierConfig{}
	if cfg != nil && cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	sendTimeout, err := config.Duration("notifier.send_timeout", n.SendTimeout, 15*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.Duration("notifier.dedup_window", n.DedupWindow, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	if n.RatePerSec < 0 || n.DedupMaxEntries < 0 || n.HistorySize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: negative values are not allowed")
	}
	return notifier.Config{
		RatePerSec:      n.RatePerSec,
		SendTimeout:     sendTimeout,
		DedupWindow:     dedup,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
		HistorySize:     n.HistorySize,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapDiscordConfig(d *config.DiscordConfig) (discord.Config, error) {
	timeout, err := config.Duration("discord.timeout", d.Timeout, 15*time.Second)
	if err != nil {
		return discord.Config{}, err
	}
	token := d.Token
	if token == "" {
		token = os.Getenv("DISCORD_TOKEN")
	}
	return discord.Config{
		Token:      token,
		ChannelID:  d.ChannelID,
		WebhookURL: d.WebhookURL,
		BaseURL:    d.BaseURL,
		Timeout:    timeout,
	}, nil
}

func mapTelegramConfig(t *config.TelegramConfig) (telegram.Config, error) {
	timeout, err := config.Duration("telegram.timeout", t.Timeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	token := t.Token
	if token == "" {
		token = os.Getenv("TELEGRAM_TOKEN")
	}
	return telegram.Config{
		Token:    token,
		ChatID:   t.ChatID,
		ThreadID: t.ThreadID,
		APIURL:   t.APIURL,
		Timeout:  timeout,
	}, nil
}

func mapNATSConfig(n *config.NATSConfig) (natsink.Config, error) {
	wait, err := config.Duration("nats.reconnect_wait", n.ReconnectWait, 2*time.Second)
	if err != nil {
		return natsink.Config{}, err
	}
	return natsink.Config{
		URL:           n.URL,
		Subject:       n.Subject,
		Name:          n.Name,
		MaxReconnects: n.MaxReconnects,
		ReconnectWait: wait,
		Flush:         n.Flush,
	}, nil
}
