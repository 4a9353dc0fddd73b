package config

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
)

// SuccessPolicy decides which stage records make an entity count as succeeded.
type SuccessPolicy string

const (
	// SuccessPolicyAllStages counts an entity only when every active stage is DONE.
	SuccessPolicyAllStages SuccessPolicy = "all_stages"
	// SuccessPolicyFinalStage counts an entity when its final stage is DONE.
	SuccessPolicyFinalStage SuccessPolicy = "final_stage"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// StateStoreDBRef is the name of the database connection holding batches and stage records.
	// A reference without a database entry selects the in-memory state store.
	StateStoreDBRef string `yaml:"state_store_db_ref"`
	// CatalogDBRef is the name of the database connection holding the entity catalog.
	// Empty means the state store connection.
	CatalogDBRef string `yaml:"catalog_db_ref"`
	// RunMigrations applies the embedded schema migrations at startup.
	RunMigrations bool `yaml:"run_migrations"`
}

// CommandConfig describes one external worker executable.
type CommandConfig struct {
	// Name identifies the command in logs and failure diagnostics.
	Name string `yaml:"name"`
	// Args is the argv template. {target}, {mall} and {entity} are substituted per invocation.
	Args []string `yaml:"args"`
}

// StageConfig holds the worker settings of a single stage.
type StageConfig struct {
	// Commands run in order; the first failure aborts the rest.
	Commands []CommandConfig `yaml:"commands"`
	// Target selects the entity name handed to the worker: "source" or "destination".
	Target string `yaml:"target"`
	// TimeoutSeconds bounds each command. 0 waits forever.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// EntityConfig declares a catalog entry for the in-memory state store.
type EntityConfig struct {
	Mall        string `yaml:"mall"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	// RunMode is the default run mode ("FULL" or "PARTIAL").
	RunMode string `yaml:"run_mode"`
	// Until is the default last stage to run. Empty runs every stage.
	Until string `yaml:"until"`
	// MaxConcurrency caps concurrently running entity pipelines. 0 means min(entities, stages).
	MaxConcurrency int `yaml:"max_concurrency"`
	// SuccessPolicy is "all_stages" or "final_stage".
	SuccessPolicy string `yaml:"success_policy"`
	// HeavyStages are skipped (recorded DONE) in PARTIAL mode.
	HeavyStages []string `yaml:"heavy_stages"`
	// WorkDir is the working directory of worker processes. Empty inherits the orchestrator's.
	WorkDir string `yaml:"work_dir"`
	// Stages maps lower-case stage names to their worker settings.
	Stages map[string]StageConfig `yaml:"stages"`
	// Entities is the static catalog of the in-memory state store.
	Entities []EntityConfig `yaml:"entities"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// ListenAddress is where /metrics is served (e.g., ":9090").
	ListenAddress string `yaml:"listen_address"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `yaml:"endpoint"`
	// Protocol is "http" or "grpc".
	Protocol    string `yaml:"protocol"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// ReportConfig holds settings of the batch report exported after completion.
type ReportConfig struct {
	Enabled bool `yaml:"enabled"`
	// StorageRef is the name of the storage connection the report is written to.
	StorageRef string `yaml:"storage_ref"`
	// Bucket is the bucket (or base directory for local storage) receiving the report.
	Bucket string `yaml:"bucket"`
	// Prefix is prepended to the object name.
	Prefix string `yaml:"prefix"`
	// Compression is the parquet codec (SNAPPY, GZIP, ZSTD, UNCOMPRESSED).
	Compression string `yaml:"compression"`
	// Retain is how many reports are kept per run mode; older ones are deleted. 0 keeps all.
	Retain int `yaml:"retain"`
}

// FeedpipeConfig holds all configuration under the "feedpipe" top-level key.
type FeedpipeConfig struct {
	System         SystemConfig         `yaml:"system"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Tracing        TracingConfig        `yaml:"tracing"`
	Report         ReportConfig         `yaml:"report"`
	// AdaptorConfigs holds database connection settings keyed by connection name.
	AdaptorConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds object storage settings keyed by connection name.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Feedpipe FeedpipeConfig `yaml:"feedpipe"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// StageConfig returns the worker settings for stage, matched case-insensitively.
func (p PipelineConfig) StageConfig(stage string) (StageConfig, bool) {
	sc, ok := p.Stages[lower(stage)]
	return sc, ok
}

// UsesInMemoryStateStore reports whether the state store reference has no database entry.
func (c *Config) UsesInMemoryStateStore() bool {
	ref := c.Feedpipe.Infrastructure.StateStoreDBRef
	if ref == "" {
		return true
	}
	_, ok := c.Feedpipe.AdaptorConfigs[ref]
	return !ok
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	cfg := &Config{
		Feedpipe: FeedpipeConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Infrastructure: InfrastructureConfig{
				StateStoreDBRef: "metadata",
				RunMigrations:   true,
			},
			Pipeline: PipelineConfig{
				RunMode:       "FULL",
				SuccessPolicy: string(SuccessPolicyFinalStage),
				HeavyStages:   []string{"CONVERT", "IMAGE"},
			},
			Metrics: MetricsConfig{ListenAddress: ":9090"},
			Tracing: TracingConfig{Protocol: "http", ServiceName: "feedpipe"},
			Report:  ReportConfig{StorageRef: "report", Compression: "SNAPPY"},
		},
	}

	cfg.Feedpipe.AdaptorConfigs = map[string]interface{}{}
	cfg.Feedpipe.StorageConfigs = map[string]interface{}{}
	cfg.Feedpipe.Pipeline.Stages = map[string]StageConfig{}
	return cfg
}
