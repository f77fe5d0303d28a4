package config

// Config is the on-disk daemon configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted pointer sections fall back to runtime defaults.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Flags   *FlagsConfig   `json:"flags,omitempty"`

	Notifier     *NotifierConfig     `json:"notifier,omitempty"`
	Announcement *AnnouncementConfig `json:"announcement,omitempty"`
	Push         PushConfig          `json:"push"`
	Email        EmailConfig         `json:"email"`
	Digest       *DigestConfig       `json:"digest,omitempty"`
	RenderCache  *RenderCacheConfig  `json:"render_cache,omitempty"`
	Ingest       *IngestConfig       `json:"ingest,omitempty"`
	Metrics      MetricsConfig       `json:"metrics"`
	Scheduler    SchedulerConfig     `json:"scheduler"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the datastore.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./notifyd.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxOpen     int    `json:"max_open,omitempty"`
	MaxIdle     int    `json:"max_idle,omitempty"`
}

// FlagsConfig picks the feature flag source. With redis_addr set, flags are
// read from Redis hashes; otherwise the static overrides apply.
type FlagsConfig struct {
	RedisAddr string          `json:"redis_addr,omitempty"`
	Prefix    string          `json:"prefix,omitempty"`
	CacheTTL  string          `json:"cache_ttl,omitempty"`
	Timeout   string          `json:"timeout,omitempty"`
	Overrides map[string]bool `json:"overrides,omitempty"` // "feature.variable": bool
}

// NotifierConfig controls buffering and dispatch.
// If the whole section is omitted, the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled              bool    `json:"enabled"`
	BatchSize            int     `json:"batch_size,omitempty"`
	SendTimeout          string  `json:"send_timeout,omitempty"`
	SkipCreateInitiators []int64 `json:"skip_create_initiators,omitempty"`

	// Drain cadences (scheduler specs).
	StandardEvery     string `json:"standard_every,omitempty"`
	ChainEvery        string `json:"chain_every,omitempty"`
	AnnouncementEvery string `json:"announcement_every,omitempty"`
}

// AnnouncementConfig controls the announcement fan-out workers.
type AnnouncementConfig struct {
	Enabled     bool `json:"enabled"`
	Workers     int  `json:"workers,omitempty"`
	PageSize    int  `json:"page_size,omitempty"`
	PagesPerSec int  `json:"pages_per_sec,omitempty"`
}

type PushConfig struct {
	// Region/endpoint of the SNS API. Empty region disables SNS transports.
	Region     string `json:"region,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	Sandbox    bool   `json:"sandbox,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`

	WebPush WebPushConfig `json:"webpush"`
}

type WebPushConfig struct {
	Enabled         bool   `json:"enabled"`
	Subscriber      string `json:"subscriber,omitempty"`
	VAPIDPublicKey  string `json:"vapid_public_key,omitempty"`
	VAPIDPrivateKey string `json:"vapid_private_key,omitempty"` // do not log
	TTL             string `json:"ttl,omitempty"`
}

type EmailConfig struct {
	// Empty region leaves the mailer unconfigured; digests then skip.
	Region     string `json:"region,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	From       string `json:"from,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type DigestConfig struct {
	Enabled         bool   `json:"enabled"`
	Every           string `json:"every,omitempty"` // scheduler spec, default hourly
	Timeout         string `json:"timeout,omitempty"`
	ChunkSize       int    `json:"chunk_size,omitempty"`
	MaxItems        int    `json:"max_items,omitempty"`
	BCC             string `json:"bcc,omitempty"`
	DefaultTimezone string `json:"default_timezone,omitempty"`
}

// RenderCacheConfig stores rendered digest documents for debugging.
// Driver is "redis", "dir" or "none".
type RenderCacheConfig struct {
	Driver    string `json:"driver"`
	RedisAddr string `json:"redis_addr,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	TTL       string `json:"ttl,omitempty"`
	Dir       string `json:"dir,omitempty"`
}

// IngestConfig reads raw events from a Redis stream.
type IngestConfig struct {
	Enabled   bool   `json:"enabled"`
	RedisAddr string `json:"redis_addr"`
	Stream    string `json:"stream,omitempty"`
	CursorKey string `json:"cursor_key,omitempty"`
	Start     string `json:"start,omitempty"`
	Count     int64  `json:"count,omitempty"`
	Block     string `json:"block,omitempty"`
	Field     string `json:"field,omitempty"`
}

// MetricsConfig controls the /metrics, /healthz and optional pprof server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SchedulerConfig controls the drain and digest triggers.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}
