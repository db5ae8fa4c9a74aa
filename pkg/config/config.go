package config

import "time"

// Config is the root configuration for the policy service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Policy    PolicyConfig    `yaml:"policy"`
	Engine    EngineConfig    `yaml:"engine"`
	Trust     TrustConfig     `yaml:"trust"`
	Events    EventsConfig    `yaml:"events"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	ListenAddress   string        `yaml:"listen_address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
}

// PolicyConfig configures the policy store and its sources.
type PolicyConfig struct {
	// SourcePath is a YAML file or directory loaded into the store at
	// startup. Empty means start with whatever persistence holds.
	SourcePath string `yaml:"source_path"`

	// Watch reloads the store when SourcePath changes on disk.
	Watch bool `yaml:"watch"`

	// WatchDebounce coalesces bursts of file events into one reload.
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// DatabasePath is the SQLite file backing the store; empty disables
	// persistence.
	DatabasePath string `yaml:"database_path"`
}

// EngineConfig configures the rule evaluation engine.
type EngineConfig struct {
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`

	// DefaultDenyTypes lists policy types that deny when no policy
	// matches (and on evaluation timeout).
	DefaultDenyTypes []string `yaml:"default_deny_types"`

	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// TrustConfig configures the trust score tracker.
type TrustConfig struct {
	Decay           float64            `yaml:"decay"`
	Weights         map[string]float64 `yaml:"weights"`
	HistoryLimit    int                `yaml:"history_limit"`
	HighThreshold   float64            `yaml:"high_threshold"`
	MediumThreshold float64            `yaml:"medium_threshold"`
}

// EventsConfig configures the event buffer and archive.
type EventsConfig struct {
	BufferCapacity int           `yaml:"buffer_capacity"`
	Archive        ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures the SQLite event archive.
type ArchiveConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRows       int64  `yaml:"max_rows"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// FallbackConfig configures the edge enforcer (used by the enforcer
// subcommand, ignored by the central service).
type FallbackConfig struct {
	StoreURL          string        `yaml:"store_url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffFactor     float64       `yaml:"backoff_factor"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	SyncInterval      time.Duration `yaml:"sync_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	SpoolPath         string        `yaml:"spool_path"`
	UploadBatchSize   int           `yaml:"upload_batch_size"`
}

// TelemetryConfig configures logging, metrics, and tracing.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}
