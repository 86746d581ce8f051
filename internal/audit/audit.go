package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Supervisor lifecycle events
	EventSupervisorStart   EventType = "supervisor.start"
	EventSupervisorStop    EventType = "supervisor.stop"
	EventSupervisorRestart EventType = "supervisor.restart"
	EventDependencyFailed  EventType = "dependency.failed"

	// Process unit events
	EventProcessAdded   EventType = "process.added"
	EventProcessRemoved EventType = "process.removed"
	EventProcessStart   EventType = "process.start"
	EventProcessStop    EventType = "process.stop"
	EventProcessRestart EventType = "process.restart"
	EventProcessCrash   EventType = "process.crash"

	// Cleanup events
	EventCleanupTimeout EventType = "cleanup.timeout"

	// Configuration events
	EventConfigLoad   EventType = "config.load"
	EventConfigChange EventType = "config.change"
	EventConfigReload EventType = "config.reload"

	// Crash reporting events
	EventCrashReportSaved EventType = "crash_report.saved"

	// System events
	EventSystemStart    EventType = "system.start"
	EventSystemShutdown EventType = "system.shutdown"
	EventSystemError    EventType = "system.error"
)

// Status represents the outcome of an audited action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
)

// Actor represents who/what performed the action
type Actor struct {
	Type string `json:"type"` // "system", "supervisor", "watcher"
	ID   string `json:"id"`
}

// Resource represents what was affected by the action
type Resource struct {
	Type string `json:"type"` // "unit", "config", "system"
	ID   string `json:"id"`   // unit id, config path
	Name string `json:"name"` // human-readable name
}

// Event represents a single audit log entry
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Actor     Actor                  `json:"actor"`
	Action    string                 `json:"action"`
	Resource  Resource               `json:"resource"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Logger provides structured audit logging
type Logger struct {
	logger  *slog.Logger
	enabled bool
}

// NewLogger creates a new audit logger
func NewLogger(log *slog.Logger, enabled bool) *Logger {
	return &Logger{
		logger:  log.With("subsystem", "audit"),
		enabled: enabled,
	}
}

// Log logs an audit event
func (l *Logger) Log(event Event) {
	if !l.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eventJSON, _ := json.Marshal(event)

	switch event.Status {
	case StatusFailure, StatusError:
		l.logger.Error("audit_event",
			"event_type", event.EventType,
			"actor", event.Actor.ID,
			"action", event.Action,
			"resource", event.Resource.ID,
			"status", event.Status,
			"message", event.Message,
			"event_json", string(eventJSON),
		)
	default:
		l.logger.Info("audit_event",
			"event_type", event.EventType,
			"actor", event.Actor.ID,
			"action", event.Action,
			"resource", event.Resource.ID,
			"status", event.Status,
			"message", event.Message,
			"event_json", string(eventJSON),
		)
	}
}

// LogProcessAdded logs when a unit is registered with a cohort
func (l *Logger) LogProcessAdded(cohort, id string, command []string) {
	l.Log(Event{
		EventType: EventProcessAdded,
		Actor:     Actor{Type: "supervisor", ID: "supervisor"},
		Action:    "add",
		Resource:  Resource{Type: "unit", ID: id, Name: cohort},
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("unit %s added to %s", id, cohort),
		Context: map[string]interface{}{
			"cohort":  cohort,
			"command": command,
		},
	})
}

// LogProcessRemoved logs when a unit is removed from a cohort
func (l *Logger) LogProcessRemoved(cohort, id string) {
	l.Log(Event{
		EventType: EventProcessRemoved,
		Actor:     Actor{Type: "supervisor", ID: "supervisor"},
		Action:    "remove",
		Resource:  Resource{Type: "unit", ID: id, Name: cohort},
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("unit %s removed from %s", id, cohort),
		Context: map[string]interface{}{
			"cohort": cohort,
		},
	})
}

// LogProcessStart logs a unit start
func (l *Logger) LogProcessStart(cohort, id string, pid int) {
	l.Log(Event{
		EventType: EventProcessStart,
		Actor:     Actor{Type: "supervisor", ID: "supervisor"},
		Action:    "start",
		Resource:  Resource{Type: "unit", ID: id, Name: cohort},
		Status:    StatusSuccess,
		Message:   "unit started",
		Context: map[string]interface{}{
			"cohort": cohort,
			"pid":    pid,
		},
	})
}

// LogProcessStop logs a unit stop
func (l *Logger) LogProcessStop(cohort, id string, pid int, reason string) {
	l.Log(Event{
		EventType: EventProcessStop,
		Actor:     Actor{Type: "supervisor", ID: "supervisor"},
		Action:    "stop",
		Resource:  Resource{Type: "unit", ID: id, Name: cohort},
		Status:    StatusSuccess,
		Message:   "unit stopped",
		Context: map[string]interface{}{
			"cohort": cohort,
			"pid":    pid,
			"reason": reason,
		},
	})
}

// LogProcessCrash logs a unit crash
func (l *Logger) LogProcessCrash(cohort, id string, exitCode int, signal string) {
	l.Log(Event{
		EventType: EventProcessCrash,
		Actor:     Actor{Type: "supervisor", ID: "supervisor"},
		Action:    "crash",
		Resource:  Resource{Type: "unit", ID: id, Name: cohort},
		Status:    StatusError,
		Message:   "unit crashed",
		Context: map[string]interface{}{
			"cohort":    cohort,
			"exit_code": exitCode,
			"signal":    signal,
		},
	})
}

// LogProcessRestart logs a unit restart, whether triggered by a crash or a
// manual request.
func (l *Logger) LogProcessRestart(cohort, id, reason string, retryCount int) {
	l.Log(Event{
		EventType: EventProcessRestart,
		Actor:     Actor{Type: "supervisor", ID: "supervisor"},
		Action:    "restart",
		Resource:  Resource{Type: "unit", ID: id, Name: cohort},
		Status:    StatusSuccess,
		Message:   "unit restarting",
		Context: map[string]interface{}{
			"cohort":      cohort,
			"reason":      reason,
			"retry_count": retryCount,
		},
	})
}

// LogDependencyFailed logs a dependency unit that crashed or failed its
// readiness check, aborting the supervisor's startup sequence.
func (l *Logger) LogDependencyFailed(id, reason string) {
	l.Log(Event{
		EventType: EventDependencyFailed,
		Actor:     Actor{Type: "supervisor", ID: "supervisor"},
		Action:    "fail",
		Resource:  Resource{Type: "unit", ID: id, Name: "dependency"},
		Status:    StatusError,
		Message:   "dependency failed",
		Context: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogCleanupTimeout logs a cleanup unit that did not finish within its
// configured timeout and was abandoned.
func (l *Logger) LogCleanupTimeout(id string, timeout time.Duration) {
	l.Log(Event{
		EventType: EventCleanupTimeout,
		Actor:     Actor{Type: "supervisor", ID: "supervisor"},
		Action:    "timeout",
		Resource:  Resource{Type: "unit", ID: id, Name: "cleanup"},
		Status:    StatusError,
		Message:   "cleanup unit abandoned after timeout",
		Context: map[string]interface{}{
			"timeout_ms": timeout.Milliseconds(),
		},
	})
}

// LogCrashReportSaved logs that a crash report was written to disk.
func (l *Logger) LogCrashReportSaved(id, reportID, kind string) {
	l.Log(Event{
		EventType: EventCrashReportSaved,
		Actor:     Actor{Type: "supervisor", ID: "supervisor"},
		Action:    "save",
		Resource:  Resource{Type: "unit", ID: id},
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("crash report %s saved", reportID),
		Context: map[string]interface{}{
			"report_id": reportID,
			"kind":      kind,
		},
	})
}

// LogConfigLoad logs configuration load
func (l *Logger) LogConfigLoad(configFile string, unitCount int) {
	l.Log(Event{
		EventType: EventConfigLoad,
		Actor:     Actor{Type: "system", ID: "config_loader"},
		Action:    "load",
		Resource:  Resource{Type: "config", ID: configFile},
		Status:    StatusSuccess,
		Message:   "configuration loaded",
		Context: map[string]interface{}{
			"unit_count": unitCount,
		},
	})
}

// LogConfigReloaded logs when configuration is reloaded from file
func (l *Logger) LogConfigReloaded(path string) {
	l.Log(Event{
		EventType: EventConfigReload,
		Actor:     Actor{Type: "watcher", ID: "config_watcher"},
		Action:    "reload",
		Resource:  Resource{Type: "config", ID: path},
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("configuration reloaded from %s", path),
	})
}

// LogSystemStart logs system startup
func (l *Logger) LogSystemStart(version string) {
	l.Log(Event{
		EventType: EventSystemStart,
		Actor:     Actor{Type: "system", ID: "pmcore"},
		Action:    "start",
		Resource:  Resource{Type: "system", ID: "pmcore"},
		Status:    StatusSuccess,
		Message:   "pmcore started",
		Context: map[string]interface{}{
			"version": version,
		},
	})
}

// LogSystemShutdown logs system shutdown
func (l *Logger) LogSystemShutdown(reason string, graceful bool) {
	status := StatusSuccess
	if !graceful {
		status = StatusError
	}

	l.Log(Event{
		EventType: EventSystemShutdown,
		Actor:     Actor{Type: "system", ID: "pmcore"},
		Action:    "shutdown",
		Resource:  Resource{Type: "system", ID: "pmcore"},
		Status:    status,
		Message:   "pmcore shutdown",
		Context: map[string]interface{}{
			"reason":   reason,
			"graceful": graceful,
		},
	})
}

// LogSystemError logs system-level error
func (l *Logger) LogSystemError(component string, errorMsg string) {
	l.Log(Event{
		EventType: EventSystemError,
		Actor:     Actor{Type: "system", ID: component},
		Action:    "error",
		Resource:  Resource{Type: "system", ID: component},
		Status:    StatusError,
		Message:   errorMsg,
	})
}
