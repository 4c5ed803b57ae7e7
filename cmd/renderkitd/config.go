package main

import "time"

// Config covers the decisions only the binary makes: which backends to wire
// and how often the periodic tasks run. Everything storage- or queue-specific
// lives in the owning package's Config and is loaded separately.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"renderkitd"`
	Environment string `env:"APP_ENV" envDefault:"development"`

	// StorageDriver selects the relational store: "sqlite" or "postgres".
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`

	// ArtifactDriver selects where rendered output lands: "local" or "s3".
	ArtifactDriver  string `env:"ARTIFACT_DRIVER" envDefault:"local"`
	ArtifactDir     string `env:"ARTIFACT_DIR" envDefault:"artifacts"`
	ArtifactBaseURL string `env:"ARTIFACT_BASE_URL" envDefault:"/artifacts/"`

	// EventsDriver selects how job lifecycle events travel: "memory" keeps
	// them in-process, "redis" shares them across nodes.
	EventsDriver  string `env:"EVENTS_DRIVER" envDefault:"memory"`
	EventsChannel string `env:"EVENTS_CHANNEL" envDefault:"renderkit:queue:events"`

	// AutomationsPath points at a JSON file of automation definitions.
	// Schedule-triggered entries are registered with the scheduler; the rest
	// are fired by the API layer and only logged here.
	AutomationsPath string `env:"AUTOMATIONS_PATH"`

	CostPerFrame int64  `env:"RENDER_COST_PER_FRAME" envDefault:"1"`
	NotifySecret string `env:"RENDER_NOTIFY_SECRET"`

	MonitorInterval        time.Duration `env:"MONITOR_INTERVAL" envDefault:"1m"`
	SchedulerInterval      time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"15s"`
	ExecutionRetention     time.Duration `env:"EXECUTION_RETENTION" envDefault:"720h"`
	ExecutionPurgeInterval time.Duration `env:"EXECUTION_PURGE_INTERVAL" envDefault:"1h"`

	// Execution cache bounds apply in postgres mode, where execution records
	// are tracked in the bounded in-memory store.
	ExecutionCacheSize int           `env:"EXECUTION_CACHE_SIZE" envDefault:"1024"`
	ExecutionCacheTTL  time.Duration `env:"EXECUTION_CACHE_TTL" envDefault:"1h"`
}
