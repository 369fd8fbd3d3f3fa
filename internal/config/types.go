package config

// Config is the on-disk configuration (config.yaml or config.json).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	Telegram   TelegramConfig    `json:"telegram"`
	Slack      *SlackConfig      `json:"slack,omitempty"`
	HTTP       HTTPConfig        `json:"http"`
	Auth       AuthConfig        `json:"auth"`
	Storage    StorageConfig     `json:"storage"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Broadcast  BroadcastConfig   `json:"broadcast"`
	Pprof      *PprofConfig      `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warnings to an ops chat through the bot.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig enables the reminder delivery bot. An empty token disables it.
type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

// SlackConfig mirrors every notification into Slack, through an incoming
// webhook or, when bot_token is set, chat.postMessage to channel.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url,omitempty"`
	BotToken   string `json:"bot_token,omitempty"`
	Channel    string `json:"channel,omitempty"`
}

type HTTPConfig struct {
	Addr            string `json:"addr"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// AuthConfig signs and verifies API bearer tokens (HS256).
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	TokenTTL  string `json:"token_ttl,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reglament.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://u:p@db/reglament?sslmode=disable" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	MaxOpenConn int    `json:"max_open_conns,omitempty"`
}

// SchedulerConfig controls job triggering.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// JobTimeout bounds one callback run. "0s" disables the bound.
	JobTimeout string `json:"job_timeout,omitempty"`
	// ReconcileOnStart re-registers every job from the ledger at startup.
	ReconcileOnStart *bool `json:"reconcile_on_start,omitempty"`
}

// TaskEngineConfig controls callback execution.
//
// Defaults when omitted: workers 4, queue_size 256, retry_max 3,
// history_size 200, default_timeout "30s".
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// BroadcastConfig bounds notification fan-out.
type BroadcastConfig struct {
	Concurrency  int    `json:"concurrency,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// PprofConfig enables the debug listener (profiles and /debug/state).
// Binding to a non-loopback address requires a token.
type PprofConfig struct {
	Addr  string `json:"addr"`
	Token string `json:"token,omitempty"`
}

// ReconcileEnabled reports the effective reconcile_on_start flag (default true).
func (c SchedulerConfig) ReconcileEnabled() bool {
	return c.ReconcileOnStart == nil || *c.ReconcileOnStart
}
