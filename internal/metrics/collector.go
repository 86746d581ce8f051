package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProcessUp reports 1 when a unit is live (running or ready), else 0.
	ProcessUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pmcore_process_up",
			Help: "Process unit liveness (1=running/ready, 0=otherwise)",
		},
		[]string{"cohort", "id"},
	)

	ProcessRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmcore_process_restarts_total",
			Help: "Total number of process unit restarts",
		},
		[]string{"cohort", "id", "reason"}, // reason: crash, manual
	)

	ProcessStartTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pmcore_process_start_time_seconds",
			Help: "Unix timestamp when a unit started",
		},
		[]string{"cohort", "id"},
	)

	ProcessExitCode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pmcore_process_last_exit_code",
			Help: "Last observed exit code of a unit",
		},
		[]string{"cohort", "id"},
	)

	ProcessCrashes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmcore_process_crashes_total",
			Help: "Total number of unit crashes observed",
		},
		[]string{"cohort", "id"},
	)

	ReadinessCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pmcore_readiness_check_duration_seconds",
			Help:    "Time from unit start to ready",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"cohort", "id"},
	)

	// SupervisorUptime reports seconds since the supervisor started.
	SupervisorUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pmcore_supervisor_uptime_seconds",
			Help: "Supervisor uptime in seconds",
		},
	)

	ManagerProcessCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pmcore_manager_process_count",
			Help: "Total number of managed process units across all cohorts",
		},
	)

	ManagerStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pmcore_manager_start_time_seconds",
			Help: "Unix timestamp when the supervisor started",
		},
	)

	ShutdownDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pmcore_shutdown_duration_seconds",
			Help:    "Duration of graceful shutdown in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300},
		},
	)

	CleanupTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmcore_cleanup_timeouts_total",
			Help: "Total number of cleanup units that exceeded cleanup_timeout_ms",
		},
		[]string{"id"},
	)

	// Resource metrics (CPU, memory, etc.), sampled via gopsutil.
	ProcessCPUPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pmcore_process_cpu_percent",
			Help: "Process CPU usage percentage (per-core, can exceed 100)",
		},
		[]string{"cohort", "id"},
	)

	ProcessMemoryBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pmcore_process_memory_bytes",
			Help: "Process memory usage in bytes",
		},
		[]string{"cohort", "id", "type"}, // type: rss, vms
	)

	ProcessMemoryPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pmcore_process_memory_percent",
			Help: "Process memory usage as percentage of total system memory",
		},
		[]string{"cohort", "id"},
	)

	ProcessThreads = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pmcore_process_threads",
			Help: "Number of threads in a unit's process",
		},
		[]string{"cohort", "id"},
	)

	ProcessFileDescriptors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pmcore_process_file_descriptors",
			Help: "Number of open file descriptors (Linux only)",
		},
		[]string{"cohort", "id"},
	)

	ResourceCollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmcore_resource_collection_errors_total",
			Help: "Total resource collection errors",
		},
		[]string{"cohort", "id"},
	)

	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pmcore_build_info",
			Help: "pmcore build information",
		},
		[]string{"version", "go_version"},
	)

	// LogRedactions counts lines a unit's ProcessWriter redacted before
	// logging, broken down by which named pattern matched.
	LogRedactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmcore_log_redactions_total",
			Help: "Total number of log lines redacted by the logging pipeline",
		},
		[]string{"id", "pattern"},
	)
)

// RecordProcessStart records a unit start event.
func RecordProcessStart(cohort, id string, startTime float64) {
	ProcessUp.WithLabelValues(cohort, id).Set(1)
	ProcessStartTime.WithLabelValues(cohort, id).Set(startTime)
}

// RecordProcessStop records a unit stop/exit event.
func RecordProcessStop(cohort, id string, exitCode int) {
	ProcessUp.WithLabelValues(cohort, id).Set(0)
	ProcessExitCode.WithLabelValues(cohort, id).Set(float64(exitCode))
}

// RecordProcessCrash records a unit crash.
func RecordProcessCrash(cohort, id string) {
	ProcessUp.WithLabelValues(cohort, id).Set(0)
	ProcessCrashes.WithLabelValues(cohort, id).Inc()
}

// RecordProcessRestart records a unit restart with its trigger reason.
func RecordProcessRestart(cohort, id, reason string) {
	ProcessRestarts.WithLabelValues(cohort, id, reason).Inc()
}

// RecordReadinessDuration records the time a unit took to become ready.
func RecordReadinessDuration(cohort, id string, seconds float64) {
	ReadinessCheckDuration.WithLabelValues(cohort, id).Observe(seconds)
}

// RecordCleanupTimeout records a cleanup unit exceeding its timeout.
func RecordCleanupTimeout(id string) {
	CleanupTimeouts.WithLabelValues(id).Inc()
}

// RecordRedaction records that a unit's ProcessWriter matched and masked a
// line against the named redaction pattern.
func RecordRedaction(id, pattern string) {
	LogRedactions.WithLabelValues(id, pattern).Inc()
}

// SetManagerProcessCount sets the total number of managed units.
func SetManagerProcessCount(count int) {
	ManagerProcessCount.Set(float64(count))
}

// SetManagerStartTime sets the supervisor start time.
func SetManagerStartTime(startTime float64) {
	ManagerStartTime.Set(startTime)
}

// SetBuildInfo sets build information.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// RecordShutdownDuration records the duration of graceful shutdown.
func RecordShutdownDuration(duration float64) {
	ShutdownDuration.Observe(duration)
}
