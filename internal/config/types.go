package config

// Config is the top-level declarative cohort definition: three ordered
// groups of process units plus supervisor-wide policy.
type Config struct {
	Version      string                 `yaml:"version" json:"version"`
	Supervisor   SupervisorConfig       `yaml:"supervisor" json:"supervisor"`
	Logging      GlobalLoggingConfig    `yaml:"logging" json:"logging"`
	Metrics      MetricsConfig          `yaml:"metrics" json:"metrics"`
	Tracing      TracingConfig          `yaml:"tracing" json:"tracing"`
	Audit        AuditConfig            `yaml:"audit" json:"audit"`
	Watch        WatchConfig            `yaml:"watch" json:"watch"`
	Dependencies map[string]*UnitConfig `yaml:"dependencies" json:"dependencies"`
	Main         map[string]*UnitConfig `yaml:"main" json:"main"`
	Cleanup      map[string]*UnitConfig `yaml:"cleanup" json:"cleanup"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Exporter    string  `yaml:"exporter" json:"exporter"` // otlp-grpc | stdout
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	UseTLS      bool    `yaml:"use_tls" json:"use_tls"`
}

// AuditConfig configures the structured audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// WatchConfig configures config-file hot-reload.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	DebounceMs int  `yaml:"debounce_ms" json:"debounce_ms"`
}

// SupervisorConfig configures retry policy and cleanup behavior.
type SupervisorConfig struct {
	MaxRetries       int    `yaml:"max_retries" json:"max_retries"`
	CleanupTimeoutMs int    `yaml:"cleanup_timeout_ms" json:"cleanup_timeout_ms"`
	ReportsDir       string `yaml:"reports_dir" json:"reports_dir"`
}

// GlobalLoggingConfig configures the root structured logger.
type GlobalLoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug | info | warn | error
	Format string `yaml:"format" json:"format"` // json | text
}

// UnitConfig declares one Process Unit: its command, environment, readiness
// checks, flags, and per-unit logging/stop policy.
type UnitConfig struct {
	Command       []string          `yaml:"command" json:"command"`
	Env           map[string]string `yaml:"env" json:"env"`
	WorkDir       string            `yaml:"workdir" json:"workdir"`
	Checks        []CheckConfig     `yaml:"checks" json:"checks"`
	Flags         []FlagConfig      `yaml:"flags" json:"flags"`
	MaxBufferSize int               `yaml:"max_buffer_size" json:"max_buffer_size"`
	MaxLogSize    int               `yaml:"max_log_size" json:"max_log_size"`
	Separator     string            `yaml:"separator" json:"separator"`
	StopSignal    string            `yaml:"stop_signal" json:"stop_signal"`
	StopTimeoutMs int               `yaml:"stop_timeout_ms" json:"stop_timeout_ms"`
	Logging       *LoggingConfig    `yaml:"logging" json:"logging"`
}

// CheckConfig declares one readiness check against the unit's log stream.
type CheckConfig struct {
	Pattern        string `yaml:"pattern" json:"pattern"`
	Regex          bool   `yaml:"regex" json:"regex"`
	TimeoutMs      int    `yaml:"timeout_ms" json:"timeout_ms"`
	PassIfNotFound bool   `yaml:"pass_if_not_found" json:"pass_if_not_found"`
}

// FlagConfig declares one log-flag definition tracked by a unit's logger.
type FlagConfig struct {
	Name              string  `yaml:"name" json:"name"`
	Pattern           string  `yaml:"pattern" json:"pattern"`
	Regex             bool    `yaml:"regex" json:"regex"`
	Color             string  `yaml:"color" json:"color"`
	TargetCount       *uint32 `yaml:"target_count" json:"target_count"`
	ContextWindowSize uint32  `yaml:"context_window_size" json:"context_window_size"`
}

// LoggingConfig configures per-unit structured log processing.
type LoggingConfig struct {
	Stdout         bool                  `yaml:"stdout" json:"stdout"`
	Stderr         bool                  `yaml:"stderr" json:"stderr"`
	Labels         map[string]string     `yaml:"labels" json:"labels"`
	MinLevel       string                `yaml:"min_level" json:"min_level"`
	Redaction      *RedactionConfig      `yaml:"redaction" json:"redaction"`
	Multiline      *MultilineConfig      `yaml:"multiline" json:"multiline"`
	JSON           *JSONConfig           `yaml:"json" json:"json"`
	LevelDetection *LevelDetectionConfig `yaml:"level_detection" json:"level_detection"`
	Filters        *FilterConfig         `yaml:"filters" json:"filters"`
}

// RedactionConfig configures sensitive data redaction.
type RedactionConfig struct {
	Enabled  bool               `yaml:"enabled" json:"enabled"`
	Patterns []RedactionPattern `yaml:"patterns" json:"patterns"`
}

// RedactionPattern defines a regex pattern for redacting sensitive data.
type RedactionPattern struct {
	Name        string `yaml:"name" json:"name"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" json:"replacement"`
}

// MultilineConfig configures multiline log handling (e.g. stack traces).
type MultilineConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Pattern  string `yaml:"pattern" json:"pattern"`
	MaxLines int    `yaml:"max_lines" json:"max_lines"`
	Timeout  int    `yaml:"timeout" json:"timeout"`
}

// JSONConfig configures JSON log parsing.
type JSONConfig struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	DetectAuto     bool `yaml:"detect_auto" json:"detect_auto"`
	ExtractLevel   bool `yaml:"extract_level" json:"extract_level"`
	ExtractMessage bool `yaml:"extract_message" json:"extract_message"`
	MergeFields    bool `yaml:"merge_fields" json:"merge_fields"`
}

// LevelDetectionConfig configures log level detection from log content.
type LevelDetectionConfig struct {
	Enabled      bool              `yaml:"enabled" json:"enabled"`
	Patterns     map[string]string `yaml:"patterns" json:"patterns"`
	DefaultLevel string            `yaml:"default_level" json:"default_level"`
}

// FilterConfig configures log filtering.
type FilterConfig struct {
	Exclude []string `yaml:"exclude" json:"exclude"`
	Include []string `yaml:"include" json:"include"`
}

// SetDefaults fills in sensible defaults for anything left zero-valued.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Supervisor.MaxRetries == 0 {
		c.Supervisor.MaxRetries = 3
	}
	if c.Supervisor.CleanupTimeoutMs == 0 {
		c.Supervisor.CleanupTimeoutMs = 5000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "pmcore"
	}
	if c.Watch.DebounceMs == 0 {
		c.Watch.DebounceMs = 500
	}

	for name, unit := range c.Dependencies {
		unit.setDefaults(name)
	}
	for name, unit := range c.Main {
		unit.setDefaults(name)
	}
	for name, unit := range c.Cleanup {
		unit.setDefaults(name)
	}
}

func (u *UnitConfig) setDefaults(name string) {
	if u.MaxBufferSize == 0 {
		u.MaxBufferSize = 1000
	}
	if u.MaxLogSize == 0 {
		u.MaxLogSize = u.MaxBufferSize
	}
	if u.Separator == "" {
		u.Separator = "\n"
	}
	if u.StopSignal == "" {
		u.StopSignal = "SIGINT"
	}
	if u.StopTimeoutMs == 0 {
		u.StopTimeoutMs = 1000
	}
	for i := range u.Checks {
		if u.Checks[i].TimeoutMs == 0 {
			u.Checks[i].TimeoutMs = 5000
		}
	}

	if u.Logging == nil {
		u.Logging = &LoggingConfig{
			Stdout: true,
			Stderr: true,
			Labels: map[string]string{"process": name},
		}
	}
	if u.Logging.Multiline != nil {
		if u.Logging.Multiline.MaxLines == 0 {
			u.Logging.Multiline.MaxLines = 100
		}
		if u.Logging.Multiline.Timeout == 0 {
			u.Logging.Multiline.Timeout = 1
		}
	}
	if u.Logging.LevelDetection != nil && u.Logging.LevelDetection.DefaultLevel == "" {
		u.Logging.LevelDetection.DefaultLevel = "info"
	}
	if u.Logging.MinLevel == "" {
		u.Logging.MinLevel = "info"
	}
}
