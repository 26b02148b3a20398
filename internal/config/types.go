package config

// Config is the on-disk configuration. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m").
type Config struct {
	Bot       BotConfig       `json:"bot"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Watch     WatchConfig     `json:"watch"`
	Status    StatusConfig    `json:"status"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Ops       OpsConfig       `json:"ops"`
}

type BotConfig struct {
	// Name appears in the install greeting.
	Name string `json:"name,omitempty"`
	// Username drops commands addressed to other bots (/cmd@other).
	Username       string `json:"username,omitempty"`
	Workers        int    `json:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	CommandTimeout string `json:"command_timeout,omitempty"`
	UnknownReply   string `json:"unknown_reply,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// TokenEnv names an environment variable holding the token. Used when
	// Token is empty.
	TokenEnv    string `json:"token_env,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	APIURL      string `json:"api_url,omitempty" validate:"omitempty,url"`
	// LogChatID receives WARN+ log lines when logging.chat is enabled.
	LogChatID   int64 `json:"log_chat_id,omitempty"`
	LogThreadID int   `json:"log_thread_id,omitempty" validate:"gte=0"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// WatchConfig tunes every room monitor.
type WatchConfig struct {
	Interval     string `json:"interval,omitempty"`
	HistorySize  int    `json:"history_size,omitempty" validate:"gte=0,lte=100"`
	CheckTimeout string `json:"check_timeout,omitempty"`
}

// StatusConfig describes the status page and how to read it.
//
// Extractor forms: "html:<css selector>", "json:<dot.path>", "regex:<pattern>", "http".
type StatusConfig struct {
	URL       string         `json:"url" validate:"required,url"`
	Extractor string         `json:"extractor,omitempty"`
	Keywords  KeywordsConfig `json:"keywords"`
	Timeout   string         `json:"timeout,omitempty"`
	MaxBody   int64          `json:"max_body,omitempty" validate:"gte=0"`
	UserAgent string         `json:"user_agent,omitempty"`
	// ShareWindow lets rooms ticking together reuse one fetch.
	ShareWindow string `json:"share_window,omitempty"`
}

type KeywordsConfig struct {
	Online   []string `json:"online,omitempty"`
	Offline  []string `json:"offline,omitempty"`
	Unstable []string `json:"unstable,omitempty"`
}

// StorageConfig selects the subscriber persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./roomwatch.db" }
type StorageConfig struct {
	Driver string `json:"driver,omitempty" validate:"omitempty,oneof=memory mem file sqlite sqlite3 redis postgres postgresql pg"`
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"`
	// DSNEnv names an environment variable holding the DSN.
	DSNEnv      string `json:"dsn_env,omitempty"`
	Namespace   string `json:"namespace,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	DialTimeout string `json:"dial_timeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
// Enabled is a pointer so an omitted section defaults to enabled.
type NotifierConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Workers       int    `json:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize     int    `json:"queue_size,omitempty" validate:"gte=0"`
	RatePerSec    int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
	RetryMax      int    `json:"retry_max,omitempty" validate:"gte=0,lte=10"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

type SchedulerConfig struct {
	Timezone  string `json:"timezone,omitempty"`
	MaxSpread string `json:"max_spread,omitempty"`
}

// OpsConfig controls the optional ops HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"` // do not log
	TokenEnv      string `json:"token_env,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
