package config

// Config is the on-disk configuration. Every section is optional; missing
// values fall back to Default().
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Telegram TelegramConfig `json:"telegram"`
	Storage  StorageConfig  `json:"storage"`
	Notifier NotifierConfig `json:"notifier"`
	Realtime RealtimeConfig `json:"realtime"`
	Logging  LoggingConfig  `json:"logging"`
	Pprof    PprofConfig    `json:"pprof"`
}

type HTTPConfig struct {
	// Port is overridden by $PORT.
	Port int `json:"port"`
	// PublicDir holds the static dashboard. Empty disables static serving.
	PublicDir string `json:"public_dir"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type TelegramConfig struct {
	// Token is overridden by $BOT_TOKEN. Empty disables the bot.
	Token string `json:"token"`
	// PollTimeout is the long-poll wait.
	PollTimeout string `json:"poll_timeout"`
	// StartReply is sent in answer to /start.
	StartReply string `json:"start_reply,omitempty"`
}

// StorageConfig selects the collection backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`                   // $DATA_DIR overrides
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls the relay worker pool.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Workers    int    `json:"workers"`
	QueueSize  int    `json:"queue_size"`
	RatePerSec int    `json:"rate_per_sec"`
	RetryMax   int    `json:"retry_max"`
	RetryBase  string `json:"retry_base,omitempty"`
}

type RealtimeConfig struct {
	WriteTimeout string `json:"write_timeout"`
	ReadLimit    int64  `json:"read_limit,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"` // $LOG_LEVEL overrides
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PprofConfig exposes net/http/pprof on a separate listener. Binding to a
// non-loopback address requires Token.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr"`
	Token                string `json:"token,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            3000,
			PublicDir:       "public",
			ShutdownTimeout: "5s",
		},
		Telegram: TelegramConfig{
			PollTimeout: "10s",
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   "data",
		},
		Notifier: NotifierConfig{
			Enabled:    true,
			Workers:    1,
			QueueSize:  64,
			RatePerSec: 25,
			RetryMax:   0,
			RetryBase:  "200ms",
		},
		Realtime: RealtimeConfig{
			WriteTimeout: "5s",
			ReadLimit:    1 << 16,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Pprof: PprofConfig{
			Addr: "127.0.0.1:6060",
		},
	}
}
