package config

import "time"

// ApplyDefaults fills unset fields with production defaults. Explicit
// zero values the operator set on purpose cannot be distinguished from
// unset fields, so defaults only apply to Go zero values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = 1 << 20
	}

	if cfg.Policy.WatchDebounce == 0 {
		cfg.Policy.WatchDebounce = 500 * time.Millisecond
	}

	if cfg.Engine.EvaluationTimeout == 0 {
		cfg.Engine.EvaluationTimeout = 100 * time.Millisecond
	}
	if cfg.Engine.CacheTTL == 0 {
		cfg.Engine.CacheTTL = 2 * time.Second
	}

	if cfg.Trust.Decay == 0 {
		cfg.Trust.Decay = 0.95
	}
	if cfg.Trust.HistoryLimit == 0 {
		cfg.Trust.HistoryLimit = 50
	}
	if cfg.Trust.HighThreshold == 0 {
		cfg.Trust.HighThreshold = 0.8
	}
	if cfg.Trust.MediumThreshold == 0 {
		cfg.Trust.MediumThreshold = 0.5
	}

	if cfg.Events.BufferCapacity == 0 {
		cfg.Events.BufferCapacity = 1000
	}
	if cfg.Events.Archive.Path == "" {
		cfg.Events.Archive.Path = "data/events.db"
	}
	if cfg.Events.Archive.RetentionDays == 0 {
		cfg.Events.Archive.RetentionDays = 90
	}
	if cfg.Events.Archive.MaxRows == 0 {
		cfg.Events.Archive.MaxRows = 1_000_000
	}
	if cfg.Events.Archive.PruneSchedule == "" {
		cfg.Events.Archive.PruneSchedule = "0 3 * * *"
	}

	if cfg.Fallback.HeartbeatInterval == 0 {
		cfg.Fallback.HeartbeatInterval = 10 * time.Second
	}
	if cfg.Fallback.FailureThreshold == 0 {
		cfg.Fallback.FailureThreshold = 3
	}
	if cfg.Fallback.BackoffBase == 0 {
		cfg.Fallback.BackoffBase = 2 * time.Second
	}
	if cfg.Fallback.BackoffFactor == 0 {
		cfg.Fallback.BackoffFactor = 2
	}
	if cfg.Fallback.BackoffMax == 0 {
		cfg.Fallback.BackoffMax = 60 * time.Second
	}
	if cfg.Fallback.SyncInterval == 0 {
		cfg.Fallback.SyncInterval = 60 * time.Second
	}
	if cfg.Fallback.RequestTimeout == 0 {
		cfg.Fallback.RequestTimeout = 10 * time.Second
	}
	if cfg.Fallback.SpoolPath == "" {
		cfg.Fallback.SpoolPath = "data/fallback-spool.db"
	}
	if cfg.Fallback.UploadBatchSize == 0 {
		cfg.Fallback.UploadBatchSize = 500
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = "/metrics"
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = 0.1
	}
}
