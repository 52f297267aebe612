package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

const sampleYAML = `
source:
  driver: drive
  folder_id: abc123
  credentials_file: /etc/signupbot/sa.json
  rediscover: 10m
signup:
  timezone: America/New_York
  exclude_keywords: []
  columns:
    - purpose: availability
      contains: ["are you playing sunday", "playing this week"]
      label: Playing
poll:
  schedule: 5s
  empty_is_failure: false
discord:
  token: secret
  channel_id: "1234"
notifier:
  rate_per_sec: 2
  dedup_window: 1m
storage:
  driver: sqlite
  path: ./state.db
logging:
  level: debug
  console: true
  alert:
    enabled: true
    sender: discord
`

func TestParseYAML(t *testing.T) {
	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Source.Driver != "drive" || cfg.Source.FolderID != "abc123" || cfg.Source.Rediscover != "10m" {
		t.Fatalf("source = %+v", cfg.Source)
	}
	if cfg.Signup.ExcludeKeywords == nil || len(*cfg.Signup.ExcludeKeywords) != 0 {
		t.Fatalf("exclude_keywords should be an explicit empty list, got %v", cfg.Signup.ExcludeKeywords)
	}
	if len(cfg.Signup.Columns) != 1 || len(cfg.Signup.Columns[0].Contains) != 2 {
		t.Fatalf("columns = %+v", cfg.Signup.Columns)
	}
	if cfg.Poll.EmptyIsFailure == nil || *cfg.Poll.EmptyIsFailure {
		t.Fatalf("empty_is_failure = %v", cfg.Poll.EmptyIsFailure)
	}
	if cfg.Discord == nil || cfg.Discord.ChannelID != "1234" {
		t.Fatalf("discord = %+v", cfg.Discord)
	}
	if cfg.Telegram != nil || cfg.NATS != nil {
		t.Fatal("omitted sections should stay nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	_, err := ParseBytes("config.json", []byte(`{"source":{"driver":"file","path":"x.csv","bogus":1}}`))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	if _, err := ParseBytes("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Source:  SourceConfig{Driver: "file", Path: "signups.csv"},
			Discord: &DiscordConfig{WebhookURL: "https://example.invalid/hook"},
		}
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"sheets needs id", func(c *Config) { c.Source = SourceConfig{} }, "spreadsheet_id"},
		{"drive needs folder", func(c *Config) { c.Source = SourceConfig{Driver: "drive"} }, "folder_id"},
		{"csv needs url", func(c *Config) { c.Source = SourceConfig{Driver: "csv"} }, "source.url"},
		{"unknown driver", func(c *Config) { c.Source.Driver = "ftp" }, "unknown source.driver"},
		{"bad duration", func(c *Config) { c.Poll.FetchTimeout = "soon" }, "poll.fetch_timeout"},
		{"bad timezone", func(c *Config) { c.Signup.Timezone = "Mars/Base" }, "signup.timezone"},
		{"bad purpose", func(c *Config) {
			c.Signup.Columns = []ColumnRuleConfig{{Purpose: "shoe size", Contains: []string{"x"}}}
		}, "purpose"},
		{"no sender", func(c *Config) { c.Discord = nil }, ErrNoSender.Error()},
		{"alert sender missing", func(c *Config) {
			c.Logging.Alert = LoggingAlert{Enabled: true, Sender: "telegram"}
		}, "logging.alert.sender"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := c.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
	if err := (&Config{Source: SourceConfig{Driver: "file", Path: "x"}}).Validate(); !errors.Is(err, ErrNoSender) {
		t.Fatalf("err = %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	old := &Config{Logging: LoggingConfig{Level: "info"}, Discord: &DiscordConfig{Token: "a"}}
	cur := &Config{Logging: LoggingConfig{Level: "debug"}, Discord: &DiscordConfig{Token: "b"}, Notifier: &NotifierConfig{RatePerSec: 3}}

	sections, attrs := SummarizeConfigChange(old, cur)
	want := []string{"discord", "logging", "notifier"}
	if strings.Join(sections, ",") != strings.Join(want, ",") {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(sections); len(got) != 1 || got[0] != "discord" {
		t.Fatalf("restart required = %v", got)
	}

	if s, _ := SummarizeConfigChange(cur, cur); len(s) != 0 {
		t.Fatalf("no-op change reported %v", s)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 3 * time.Second},
		{raw: "0s", want: 3 * time.Second},
		{raw: " 10m ", want: 10 * time.Minute},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Duration("poll.fetch_timeout", tt.raw, 3*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !strings.Contains(err.Error(), "poll.fetch_timeout") {
					t.Fatalf("error %q does not name the field", err)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name, data, want string
	}{
		{"config.json", "a: 1", formatJSON},
		{"config.YML", "{}", formatYAML},
		{"config", "  {\"poll\":{}}", formatJSON},
		{"config", "poll:\n  schedule: 5s\n", formatYAML},
	}
	for _, tt := range tests {
		if got := detectFormat(tt.name, []byte(tt.data)); got != tt.want {
			t.Errorf("detectFormat(%q, %q) = %s, want %s", tt.name, tt.data, got, tt.want)
		}
	}
}

func TestParseEmptyYAML(t *testing.T) {
	cfg, err := ParseBytes("config.yaml", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Discord != nil || cfg.Source.Driver != "" {
		t.Fatalf("empty document should decode to zero config, got %+v", cfg)
	}
}

func TestWatchPublishesValidatedReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(level string) {
		t.Helper()
		body := `{"source":{"driver":"file","path":"x.csv"},"discord":{"webhook_url":"https://example.invalid"},"logging":{"level":"` + level + `"}}`
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("info")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(_ context.Context, c *Config) error {
		if c.Logging.Level == "reject" {
			return errors.New("rejected")
		}
		return c.Validate()
	})
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = m.Watch(ctx); close(done) }()

	// Give the watcher a moment to register before editing.
	time.Sleep(200 * time.Millisecond)
	write("reject")
	time.Sleep(600 * time.Millisecond)
	write("debug")

	select {
	case c := <-sub:
		if c.Logging.Level != "debug" {
			t.Fatalf("published level %q", c.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("committed level %q", m.Get().Logging.Level)
	}

	cancel()
	<-done
}
