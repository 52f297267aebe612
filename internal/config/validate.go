package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type durationField struct{ path, raw string }

var ErrNoSender = errors.New("no delivery target configured (discord, telegram or nats)")

// Validate performs the checks that need nothing but the config itself:
// duration syntax, enum values, required fields per driver. Component
// constructors still validate their own mapped configs.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch d := strings.ToLower(strings.TrimSpace(c.Source.Driver)); d {
	case "", "sheets":
		if strings.TrimSpace(c.Source.SpreadsheetID) == "" {
			return fmt.Errorf("source.spreadsheet_id is required when source.driver=sheets")
		}
	case "drive":
		if strings.TrimSpace(c.Source.FolderID) == "" {
			return fmt.Errorf("source.folder_id is required when source.driver=drive")
		}
	case "csv", "http":
		if strings.TrimSpace(c.Source.URL) == "" {
			return fmt.Errorf("source.url is required when source.driver=csv")
		}
	case "file":
		if strings.TrimSpace(c.Source.Path) == "" {
			return fmt.Errorf("source.path is required when source.driver=file")
		}
	default:
		return fmt.Errorf("unknown source.driver: %s", c.Source.Driver)
	}

	durations := []durationField{
		{"source.rediscover", c.Source.Rediscover},
		{"source.timeout", c.Source.Timeout},
		{"poll.fetch_timeout", c.Poll.FetchTimeout},
	}
	if d := c.Discord; d != nil {
		durations = append(durations, durationField{"discord.timeout", d.Timeout})
	}
	if t := c.Telegram; t != nil {
		durations = append(durations, durationField{"telegram.timeout", t.Timeout})
	}
	if n := c.NATS; n != nil {
		durations = append(durations, durationField{"nats.reconnect_wait", n.ReconnectWait})
	}
	if n := c.Notifier; n != nil {
		durations = append(durations,
			durationField{"notifier.send_timeout", n.SendTimeout},
			durationField{"notifier.dedup_window", n.DedupWindow},
		)
	}
	if s := c.Storage; s != nil {
		durations = append(durations, durationField{"storage.busy_timeout", s.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := Duration(d.path, d.raw, 0); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(c.Signup.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("signup.timezone: invalid %q: %w", tz, err)
		}
	}
	for i, r := range c.Signup.Columns {
		switch r.Purpose {
		case "availability", "question", "comments", "status":
		default:
			return fmt.Errorf("signup.columns[%d].purpose: unknown %q", i, r.Purpose)
		}
		if len(r.Contains) == 0 {
			return fmt.Errorf("signup.columns[%d].contains must not be empty", i)
		}
	}

	if n := c.Notifier; n != nil {
		if n.RatePerSec < 0 || n.DedupMaxEntries < 0 || n.HistorySize < 0 {
			return fmt.Errorf("notifier: rate_per_sec, dedup_max_entries and history_size must be >= 0")
		}
	}

	if c.Discord == nil && c.Telegram == nil && c.NATS == nil {
		return ErrNoSender
	}
	if a := c.Logging.Alert; a.Enabled {
		switch a.Sender {
		case "":
		case "discord":
			if c.Discord == nil {
				return fmt.Errorf("logging.alert.sender=discord but discord is not configured")
			}
		case "telegram":
			if c.Telegram == nil {
				return fmt.Errorf("logging.alert.sender=telegram but telegram is not configured")
			}
		default:
			return fmt.Errorf("logging.alert.sender: unknown %q", a.Sender)
		}
	}
	return nil
}
