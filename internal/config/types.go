package config

// Config is the on-disk configuration. It accepts JSON or YAML (YAML is
// coerced to JSON and decoded strictly, so unknown keys are rejected in
// both formats). All durations are Go duration strings (e.g. "500ms",
// "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage,omitempty"`
	Server  ServerConfig  `json:"server,omitempty"`
	Poller  PollerConfig  `json:"poller,omitempty"`
	Service ServiceConfig `json:"service,omitempty"`
	Debug   DebugConfig   `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./actionwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "memory" (default) or "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	OpTimeout   string `json:"op_timeout,omitempty"`   // per-operation deadline
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	// Mode is gin's run mode, "release" unless set to "debug".
	Mode string `json:"mode,omitempty"`

	ShutdownTimeout string `json:"shutdown_timeout,omitempty"` // default: "10s"
}

// PollerConfig controls the background occurrence poller. When enabled
// it periodically resolves every active definition's current window so
// the covering instance exists even without request traffic.
type PollerConfig struct {
	Enabled  bool   `json:"enabled"`
	Every    string `json:"every,omitempty"`    // default: "1m"
	Timezone string `json:"timezone,omitempty"` // default: "UTC"
}

// DebugConfig gates the profiling listener. It is hot-reloadable: flipping
// enabled or changing the address takes effect on the next config publish.
type DebugConfig struct {
	Pprof PprofConfig `json:"pprof,omitempty"`
}

type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
}

// ServiceConfig holds schedule-API policy flags.
type ServiceConfig struct {
	// ForbidCompletionOverwrite rejects a second completion on the same
	// instance instead of overwriting it.
	ForbidCompletionOverwrite bool `json:"forbid_completion_overwrite,omitempty"`
}
