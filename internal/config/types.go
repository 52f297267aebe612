package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Optional sections are pointers: nil means "omitted" and maps to defaults
// or to the feature being off.
type Config struct {
	Source SourceConfig `json:"source"`
	Signup SignupConfig `json:"signup"`
	Poll   PollConfig   `json:"poll"`

	Discord  *DiscordConfig  `json:"discord,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	NATS     *NATSConfig     `json:"nats,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Logging  LoggingConfig   `json:"logging"`
	Systemd  SystemdConfig   `json:"systemd"`
}

// SourceConfig selects where the signup table comes from.
//
// Driver values:
//   - "sheets" (default): a fixed spreadsheet id
//   - "drive": newest "Responses" spreadsheet in a Drive folder
//   - "csv": published CSV export URL
//   - "file": local CSV file
type SourceConfig struct {
	Driver string `json:"driver"`

	// Google credentials (service account JSON). Never logged.
	CredentialsFile string `json:"credentials_file,omitempty"`
	CredentialsJSON string `json:"credentials_json,omitempty"`

	SpreadsheetID string `json:"spreadsheet_id,omitempty"`
	Range         string `json:"range,omitempty"`

	FolderID     string `json:"folder_id,omitempty"`
	NameContains string `json:"name_contains,omitempty"`
	Rediscover   string `json:"rediscover,omitempty"`

	// Endpoint overrides the Google API base URL (tests, proxies).
	Endpoint string `json:"endpoint,omitempty"`

	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	CacheDir string `json:"cache_dir,omitempty"`

	Timeout string `json:"timeout,omitempty"`
}

// SignupConfig describes the form: which column identifies a person and how
// the interesting questions are worded this year.
type SignupConfig struct {
	IdentityColumn string `json:"identity_column,omitempty"`
	Timezone       string `json:"timezone,omitempty"`

	// ExcludeKeywords drops rows containing any keyword. nil means the
	// built-in list; an explicit empty list disables filtering.
	ExcludeKeywords *[]string `json:"exclude_keywords,omitempty"`

	// Columns replaces the built-in column rules when non-empty.
	Columns []ColumnRuleConfig `json:"columns,omitempty"`

	CountLabel string `json:"count_label,omitempty"`
	NoResponse string `json:"no_response,omitempty"`
	NoComments string `json:"no_comments,omitempty"`
}

type ColumnRuleConfig struct {
	Purpose     string   `json:"purpose"`
	Contains    []string `json:"contains"`
	Label       string   `json:"label,omitempty"`
	StripPrefix string   `json:"strip_prefix,omitempty"`
}

// PollConfig controls the cycle loop.
//
// Defaults (when fields are omitted/zero):
//   - schedule: "5s"
//   - empty_is_failure: true
//   - fetch_timeout: "30s"
type PollConfig struct {
	Schedule       string `json:"schedule,omitempty"`
	EmptyIsFailure *bool  `json:"empty_is_failure,omitempty"`
	FetchTimeout   string `json:"fetch_timeout,omitempty"`
}

// DiscordConfig posts through a bot (token + channel_id) or a webhook_url.
type DiscordConfig struct {
	Token      string `json:"token,omitempty"`
	ChannelID  string `json:"channel_id,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// NATSConfig publishes every change event as JSON on "<subject>.<kind>".
type NATSConfig struct {
	URL           string `json:"url"`
	Subject       string `json:"subject"`
	Name          string `json:"name,omitempty"`
	MaxReconnects int    `json:"max_reconnects,omitempty"` // 0 = client default, -1 = forever
	ReconnectWait string `json:"reconnect_wait,omitempty"`
	Flush         bool   `json:"flush,omitempty"`
}

// NotifierConfig controls delivery pacing and dedup.
//
// Defaults (when the section or fields are omitted):
//   - rate_per_sec: 1
//   - send_timeout: "15s"
//   - dedup_window: "0s" (off)
//   - dedup_max_entries: 2000
//   - history_size: 300
type NotifierConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./signupbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards WARN+ lines to one of the configured chat senders.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	Sender     string `json:"sender,omitempty"` // "discord" | "telegram"; default: first configured
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SystemdConfig toggles sd_notify. Notify defaults to true; it is a no-op
// outside systemd anyway.
type SystemdConfig struct {
	Notify *bool `json:"notify,omitempty"`
}
