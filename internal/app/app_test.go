package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"signupbot/internal/config"
	"signupbot/internal/notifier"
	"signupbot/internal/poller"
	"signupbot/internal/signup"
	"signupbot/internal/transport"
)

type webhook struct {
	mu    sync.Mutex
	posts []string
}

func (w *webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	w.mu.Lock()
	w.posts = append(w.posts, body.Content)
	w.mu.Unlock()
	rw.Header().Set("Content-Type", "application/json")
	_, _ = rw.Write([]byte(`{"id":"1"}`))
}

func (w *webhook) got() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.posts...)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunOnceRestoresAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	csvPath := filepath.Join(dir, "signups.csv")
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, csvPath, "What's your name? (first & last),Are you playing Sunday?\nAlice,No\n")
	writeFile(t, cfgPath, strings.Join([]string{
		"source:",
		"  driver: file",
		"  path: " + csvPath,
		"discord:",
		"  webhook_url: " + srv.URL + "/api/webhooks/1/abc",
		"notifier:",
		"  rate_per_sec: 100",
		"storage:",
		"  driver: file",
		"  path: " + filepath.Join(dir, "state"),
		"systemd:",
		"  notify: false",
		"logging:",
		"  level: error",
		"",
	}, "\n"))

	ctx := context.Background()
	run := func() (poller.Outcome, []notifier.HistoryItem) {
		t.Helper()
		a, err := NewApp(ctx, cfgPath)
		if err != nil {
			t.Fatalf("NewApp: %v", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_ = a.Stop(stopCtx, StopOnce)
		}()
		o := a.RunOnce(ctx)
		return o, a.notif.History()
	}

	if o, h := run(); o.Status != poller.StatusBaseline || len(h) != 0 {
		t.Fatalf("first run: %+v, history %+v", o, h)
	}

	writeFile(t, csvPath, "What's your name? (first & last),Are you playing Sunday?\nAlice,Yes\nBob,Yes\n")
	o, history := run()
	if o.Status != poller.StatusOK || o.Events != 2 || o.Delivered != 2 {
		t.Fatalf("second run: %+v", o)
	}
	if sum := summarizeDeliveries(history); sum.delivered != 2 || sum.lastFailure != nil {
		t.Fatalf("history summary = %+v", sum)
	}
	if history[0].Key != "Alice" || history[1].Key != "Bob" || history[0].Sender != "discord" {
		t.Fatalf("history = %+v", history)
	}

	posts := hook.got()
	if len(posts) != 2 {
		t.Fatalf("posts = %d", len(posts))
	}
	if !strings.Contains(posts[0], "**Alice**") || !strings.Contains(posts[0], "No → Yes") {
		t.Fatalf("first post:\n%s", posts[0])
	}
	if !strings.Contains(posts[1], "**New signup: Bob**") || !strings.Contains(posts[1], "Current Sunday Signups: 2") {
		t.Fatalf("second post:\n%s", posts[1])
	}
	if !strings.Contains(posts[1], "EST**") && !strings.Contains(posts[1], "EDT**") {
		t.Fatalf("header not in New York time:\n%s", posts[1])
	}
}

func TestSummarizeDeliveries(t *testing.T) {
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	items := []notifier.HistoryItem{
		{At: at, Key: "Alice", Sender: "discord", Outcome: transport.OutcomeDelivered},
		{At: at, Key: "Bob", Sender: "telegram", Outcome: transport.OutcomeRejected, Error: "forbidden"},
		{At: at.Add(time.Second), Key: "Cara", Sender: "nats", Outcome: transport.OutcomeTransportError, Error: "closed"},
		{At: at.Add(2 * time.Second), Key: "Dan", Sender: "discord", Outcome: transport.OutcomeDelivered},
	}
	sum := summarizeDeliveries(items)
	if sum.total != 4 || sum.delivered != 2 || sum.rejected != 1 || sum.failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.lastFailure == nil || sum.lastFailure.Key != "Cara" || sum.lastFailure.Error != "closed" {
		t.Fatalf("last failure = %+v", sum.lastFailure)
	}
	if empty := summarizeDeliveries(nil); empty.total != 0 || empty.lastFailure != nil {
		t.Fatalf("empty summary = %+v", empty)
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	writeFile(t, cfgPath, `{"source":{"driver":"file","path":"x.csv"}}`)
	if _, err := NewApp(context.Background(), cfgPath); err == nil || !strings.Contains(err.Error(), "no delivery target") {
		t.Fatalf("err = %v", err)
	}
}

func TestMapPollerConfigDefaults(t *testing.T) {
	pc, err := mapPollerConfig(&config.Config{})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if pc.Location.String() != DefaultTimezone {
		t.Fatalf("tz = %s", pc.Location)
	}
	if pc.Schedule.Every != 5*time.Second || !pc.EmptyIsFailure || pc.FetchTimeout != 30*time.Second {
		t.Fatalf("config = %+v", pc)
	}
	if pc.IdentityColumn != poller.DefaultIdentityColumn || len(pc.Rules) != len(signup.DefaultRules()) {
		t.Fatalf("identity=%q rules=%d", pc.IdentityColumn, len(pc.Rules))
	}

	off := false
	pc, err = mapPollerConfig(&config.Config{
		Poll:   config.PollConfig{Schedule: "*/10 * * * * *", EmptyIsFailure: &off},
		Signup: config.SignupConfig{Columns: []config.ColumnRuleConfig{{Purpose: "availability", Contains: []string{"coming"}}}, CountLabel: "Coming"},
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if pc.Schedule.Kind != poller.SpecCron || pc.EmptyIsFailure || len(pc.Rules) != 1 || pc.Formatter.CountLabel != "Coming" {
		t.Fatalf("config = %+v", pc)
	}

	if _, err := mapPollerConfig(&config.Config{Poll: config.PollConfig{Schedule: "whenever"}}); err == nil {
		t.Fatal("bad schedule accepted")
	}
}

func TestMapSourceConfigExcludeKeywords(t *testing.T) {
	sc, err := mapSourceConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if sc.ExcludeKeywords != nil || sc.Rediscover != 10*time.Minute {
		t.Fatalf("defaults: %+v", sc)
	}
	empty := []string{}
	sc, _ = mapSourceConfig(&config.Config{Signup: config.SignupConfig{ExcludeKeywords: &empty}})
	if sc.ExcludeKeywords == nil || len(sc.ExcludeKeywords) != 0 {
		t.Fatalf("explicit empty list lost: %#v", sc.ExcludeKeywords)
	}
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{"omitted", nil, false, false},
		{"none", &config.StorageConfig{Driver: "none"}, false, false},
		{"file", &config.StorageConfig{Driver: "file", Path: "x"}, true, false},
		{"sqlite needs path", &config.StorageConfig{Driver: "sqlite"}, false, true},
		{"sqlite", &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "2s"}, true, false},
		{"unknown", &config.StorageConfig{Driver: "redis"}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if (err != nil) != tc.wantErr || enabled != tc.enabled {
				t.Fatalf("enabled=%v err=%v", enabled, err)
			}
			if tc.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second) {
				t.Fatalf("sc = %+v", sc)
			}
		})
	}
}

type named string

func (n named) Name() string                                     { return string(n) }
func (n named) Deliver(context.Context, transport.Message) error { return nil }

func TestPickAlertSender(t *testing.T) {
	senders := []transport.Sender{named("nats"), named("discord"), named("telegram")}
	cfg := &config.Config{}
	if s := pickAlertSender(cfg, senders); s == nil || s.Name() != "discord" {
		t.Fatalf("default = %v", s)
	}
	cfg.Logging.Alert.Sender = "telegram"
	if s := pickAlertSender(cfg, senders); s == nil || s.Name() != "telegram" {
		t.Fatalf("telegram = %v", s)
	}
	if s := pickAlertSender(cfg, []transport.Sender{named("nats")}); s != nil {
		t.Fatalf("nats picked: %v", s)
	}
}
